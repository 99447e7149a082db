package keycmp

import (
	"bytes"
	"testing"

	"github.com/lanterndb/lanterndb/internal/extkey"
	"github.com/lanterndb/lanterndb/internal/pagecache"
)

type stubSource struct {
	tails map[uint64][]byte
	fetch int
}

func (s *stubSource) FetchTail(blobID uint64) ([]byte, error) {
	s.fetch++
	return s.tails[blobID], nil
}

func newComparator(src *stubSource) *Comparator {
	budget := pagecache.NewBudget(1 << 20)
	return New(src, extkey.New(budget, 16), nil)
}

func TestCompareInlineKeysDirect(t *testing.T) {
	src := &stubSource{tails: map[uint64][]byte{}}
	c := newComparator(src)

	cmp, err := c.Compare(Key{Data: []byte("abc")}, Key{Data: []byte("abd")})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp >= 0 {
		t.Errorf("cmp = %d, want < 0", cmp)
	}
	if src.fetch != 0 {
		t.Errorf("inline comparison touched the blob store %d times", src.fetch)
	}
}

func TestCompareExtendedKeysMaterializesTail(t *testing.T) {
	src := &stubSource{tails: map[uint64][]byte{
		1: []byte("-suffix-alpha"),
		2: []byte("-suffix-beta"),
	}}
	c := newComparator(src)

	lhs := Key{Data: []byte("shared"), Extended: true, BlobID: 1}
	rhs := Key{Data: []byte("shared"), Extended: true, BlobID: 2}

	cmp, err := c.Compare(lhs, rhs)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	want := bytes.Compare([]byte("shared-suffix-alpha"), []byte("shared-suffix-beta"))
	if cmp != want {
		t.Errorf("cmp = %d, want %d", cmp, want)
	}
	if src.fetch != 2 {
		t.Errorf("fetch count = %d, want 2 (one per key)", src.fetch)
	}
}

func TestCompareExtendedKeyTailIsCached(t *testing.T) {
	src := &stubSource{tails: map[uint64][]byte{1: []byte("-tail")}}
	c := newComparator(src)

	k1 := Key{Data: []byte("pre"), Extended: true, BlobID: 1}
	k2 := Key{Data: []byte("pre"), Extended: true, BlobID: 1}

	if _, err := c.Compare(k1, k2); err != nil {
		t.Fatalf("first compare: %v", err)
	}
	if _, err := c.Compare(k1, k2); err != nil {
		t.Fatalf("second compare: %v", err)
	}
	if src.fetch != 1 {
		t.Errorf("fetch count = %d, want 1 (second lookup should hit the extkey cache)", src.fetch)
	}
}

func TestDiffersByLengthNotJustSharedPrefix(t *testing.T) {
	src := &stubSource{}
	c := newComparator(src)

	cmp, err := c.Compare(Key{Data: []byte("ab")}, Key{Data: []byte("abc")})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp >= 0 {
		t.Errorf("cmp = %d, want < 0 (shorter key sorts first on a shared prefix)", cmp)
	}
}

func TestSetCompareFuncOverridesDefaultOrder(t *testing.T) {
	src := &stubSource{}
	c := newComparator(src)
	// Reverse order: b sorts before a.
	c.SetCompareFunc(func(a, b []byte) int { return bytes.Compare(b, a) })

	cmp, err := c.Compare(Key{Data: []byte("a")}, Key{Data: []byte("b")})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp <= 0 {
		t.Errorf("cmp = %d, want > 0 under the reversed comparator", cmp)
	}
}

func TestSetPrefixFuncCanShortCircuitBeforeMaterializing(t *testing.T) {
	src := &stubSource{tails: map[uint64][]byte{1: []byte("x"), 2: []byte("y")}}
	c := newComparator(src)
	c.SetPrefixFunc(func(lhsPrefix, rhsPrefix []byte, lhsFullLen, rhsFullLen int) (int, bool) {
		return -1, false // always decide "lhs < rhs" from the prefix alone
	})

	cmp, err := c.Compare(
		Key{Data: []byte("same"), Extended: true, BlobID: 1},
		Key{Data: []byte("same"), Extended: true, BlobID: 2},
	)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if cmp != -1 {
		t.Errorf("cmp = %d, want -1", cmp)
	}
	if src.fetch != 0 {
		t.Errorf("prefix comparator decided the outcome but the blob store was still fetched %d times", src.fetch)
	}
}
