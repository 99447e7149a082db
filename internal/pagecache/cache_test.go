package pagecache

import (
	"errors"
	"testing"

	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/page"
)

func newPage(addr uint64) *page.Page {
	return page.New(addr, page.TypeBTreeIndex, page.NewHeapBuffer(64))
}

func TestCachePutGetRoundTrip(t *testing.T) {
	c := New(NewBudget(1<<20), 64)
	p := newPage(1)
	if err := c.Put(p); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := c.Get(1)
	if !ok || got != p {
		t.Errorf("get(1) = %v, %v, want original page, true", got, ok)
	}
}

func TestCacheGetMissReportsFalse(t *testing.T) {
	c := New(NewBudget(1<<20), 64)
	if _, ok := c.Get(99); ok {
		t.Error("get of an absent address should report false")
	}
}

func TestCacheGetBumpsCacheCounter(t *testing.T) {
	c := New(NewBudget(1<<20), 64)
	p := newPage(1)
	if err := c.Put(p); err != nil {
		t.Fatalf("put: %v", err)
	}
	before := p.CacheCounter
	if _, ok := c.Get(1); !ok {
		t.Fatal("get(1) should hit")
	}
	if p.CacheCounter <= before {
		t.Errorf("cache counter = %d, want > %d after a hit", p.CacheCounter, before)
	}
}

func TestCacheRemoveEvictsUnconditionally(t *testing.T) {
	budget := NewBudget(1 << 20)
	c := New(budget, 64)
	p := newPage(1)
	if err := c.Put(p); err != nil {
		t.Fatalf("put: %v", err)
	}
	removed, ok := c.Remove(1)
	if !ok || removed != p {
		t.Errorf("remove(1) = %v, %v, want original page, true", removed, ok)
	}
	if _, ok := c.Get(1); ok {
		t.Error("page still resident after Remove")
	}
	if used, _ := budget.Used(); used != 0 {
		t.Errorf("page budget used = %d, want 0 after remove", used)
	}
}

func TestCacheLenAndRange(t *testing.T) {
	c := New(NewBudget(1<<20), 64)
	for i := uint64(1); i <= 3; i++ {
		if err := c.Put(newPage(i)); err != nil {
			t.Fatalf("put(%d): %v", i, err)
		}
	}
	if n := c.Len(); n != 3 {
		t.Fatalf("len = %d, want 3", n)
	}
	seen := make(map[uint64]bool)
	c.Range(func(addr uint64, p *page.Page) bool {
		seen[addr] = true
		return true
	})
	for i := uint64(1); i <= 3; i++ {
		if !seen[i] {
			t.Errorf("range did not visit addr %d", i)
		}
	}
}

func TestCacheEvictsLeastRecentlyUsedWhenBudgetIsFull(t *testing.T) {
	// Budget fits exactly two 64-byte pages.
	c := New(NewBudget(128), 64)
	p1, p2 := newPage(1), newPage(2)
	if err := c.Put(p1); err != nil {
		t.Fatalf("put(1): %v", err)
	}
	if err := c.Put(p2); err != nil {
		t.Fatalf("put(2): %v", err)
	}
	// Touch p2 so p1 is the older (less recently used) entry.
	if _, ok := c.Get(2); !ok {
		t.Fatal("get(2) should hit")
	}

	p3 := newPage(3)
	if err := c.Put(p3); err != nil {
		t.Fatalf("put(3): %v", err)
	}
	if _, ok := c.Get(1); ok {
		t.Error("addr 1 should have been evicted to make room for addr 3")
	}
	if _, ok := c.Get(2); !ok {
		t.Error("addr 2 was recently touched and should still be resident")
	}
	if _, ok := c.Get(3); !ok {
		t.Error("addr 3 should be resident after put")
	}
}

func TestCachePinnedPageIsNeverEvicted(t *testing.T) {
	c := New(NewBudget(64), 64)
	p := newPage(1)
	p.Pin("cursor-a")
	if err := c.Put(p); err != nil {
		t.Fatalf("put: %v", err)
	}

	p2 := newPage(2)
	if err := c.Put(p2); err == nil {
		t.Fatal("put should fail with ErrCacheFull when the only resident page is pinned")
	} else if !errors.Is(err, errs.ErrCacheFull) {
		t.Errorf("put error = %v, want errs.ErrCacheFull", err)
	}
	if _, ok := c.Get(1); !ok {
		t.Error("pinned page should still be resident after a failed eviction attempt")
	}
}

func TestCacheFlushDirtyCalledBeforeEviction(t *testing.T) {
	c := New(NewBudget(64), 64)
	flushed := make(map[uint64]bool)
	c.FlushDirty = func(p *page.Page) error {
		flushed[p.Self] = true
		return nil
	}

	p1 := newPage(1)
	p1.Dirty = true
	if err := c.Put(p1); err != nil {
		t.Fatalf("put(1): %v", err)
	}

	p2 := newPage(2)
	if err := c.Put(p2); err != nil {
		t.Fatalf("put(2): %v", err)
	}
	if !flushed[1] {
		t.Error("dirty page should have been flushed before eviction")
	}
	if _, ok := c.Get(1); ok {
		t.Error("addr 1 should have been evicted after being flushed")
	}
}

func TestCacheFlushDirtyErrorKeepsPageResident(t *testing.T) {
	c := New(NewBudget(64), 64)
	c.FlushDirty = func(p *page.Page) error {
		return errors.New("disk full")
	}

	p1 := newPage(1)
	p1.Dirty = true
	if err := c.Put(p1); err != nil {
		t.Fatalf("put(1): %v", err)
	}

	if err := c.Put(newPage(2)); err == nil {
		t.Fatal("put should fail when the only evictable page's flush errors")
	} else if !errors.Is(err, errs.ErrCacheFull) {
		t.Errorf("put error = %v, want errs.ErrCacheFull", err)
	}
	if _, ok := c.Get(1); !ok {
		t.Error("page whose flush failed should remain resident")
	}
}

func TestBudgetCanAddRespectsCeiling(t *testing.T) {
	b := NewBudget(100)
	if !b.CanAdd(100) {
		t.Error("CanAdd(100) against a 100-byte budget should succeed")
	}
	b.AddPage(60)
	if b.CanAdd(41) {
		t.Error("CanAdd(41) should fail once 60 of 100 bytes are used")
	}
	if !b.CanAdd(40) {
		t.Error("CanAdd(40) should succeed with exactly 40 bytes remaining")
	}
}

func TestBudgetSharedBetweenPagesAndExtkeys(t *testing.T) {
	b := NewBudget(100)
	b.AddPage(50)
	b.AddExtkey(40)
	if b.CanAdd(20) {
		t.Error("combined page+extkey usage should leave only 10 bytes free")
	}
	if !b.CanAdd(10) {
		t.Error("CanAdd(10) should succeed with exactly 10 bytes remaining")
	}
	b.RemoveExtkey(40)
	pageUsed, extkeyUsed := b.Used()
	if pageUsed != 50 || extkeyUsed != 0 {
		t.Errorf("used = (%d, %d), want (50, 0)", pageUsed, extkeyUsed)
	}
}
