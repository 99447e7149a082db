package extkey

import (
	"testing"

	"github.com/lanterndb/lanterndb/internal/pagecache"
)

func TestNewRoundsBucketSizeUpToPowerOfTwo(t *testing.T) {
	c := New(pagecache.NewBudget(1<<20), 100)
	if len(c.buckets) != 128 {
		t.Errorf("bucket count = %d, want 128", len(c.buckets))
	}
}

func TestNewWithNonPositiveSizeUsesDefault(t *testing.T) {
	c := New(pagecache.NewBudget(1<<20), 0)
	if len(c.buckets) != DefaultBucketSize {
		t.Errorf("bucket count = %d, want %d", len(c.buckets), DefaultBucketSize)
	}
}

func TestPutThenGetRoundTrip(t *testing.T) {
	c := New(pagecache.NewBudget(1<<20), 16)
	if !c.Put(7, []byte("tail-bytes")) {
		t.Fatal("put should succeed with ample budget")
	}
	data, ok := c.Get(7)
	if !ok || string(data) != "tail-bytes" {
		t.Errorf("get(7) = %q, %v, want \"tail-bytes\", true", data, ok)
	}
}

func TestGetMissReportsFalse(t *testing.T) {
	c := New(pagecache.NewBudget(1<<20), 16)
	if _, ok := c.Get(42); ok {
		t.Error("get of an absent blob id should report false")
	}
}

func TestPutReplacesExistingEntry(t *testing.T) {
	c := New(pagecache.NewBudget(1<<20), 16)
	if !c.Put(1, []byte("first")) {
		t.Fatal("first put should succeed")
	}
	if !c.Put(1, []byte("second")) {
		t.Fatal("replacing put should succeed")
	}
	data, ok := c.Get(1)
	if !ok || string(data) != "second" {
		t.Errorf("get(1) = %q, %v, want \"second\", true", data, ok)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1 after replacing an existing entry", c.Len())
	}
}

func TestCollidingBlobIDsChainWithinABucket(t *testing.T) {
	// A single-bucket cache forces every key into the same chain.
	c := New(pagecache.NewBudget(1<<20), 1)
	if !c.Put(1, []byte("a")) {
		t.Fatal("put(1) should succeed")
	}
	if !c.Put(2, []byte("b")) {
		t.Fatal("put(2) should succeed")
	}
	d1, ok1 := c.Get(1)
	d2, ok2 := c.Get(2)
	if !ok1 || string(d1) != "a" {
		t.Errorf("get(1) = %q, %v, want \"a\", true", d1, ok1)
	}
	if !ok2 || string(d2) != "b" {
		t.Errorf("get(2) = %q, %v, want \"b\", true", d2, ok2)
	}
	if c.Len() != 2 {
		t.Errorf("len = %d, want 2", c.Len())
	}
}

func TestRemoveDropsEntryAndRefundsBudget(t *testing.T) {
	budget := pagecache.NewBudget(1 << 20)
	c := New(budget, 16)
	if !c.Put(5, []byte("xyz")) {
		t.Fatal("put should succeed")
	}
	c.Remove(5)
	if _, ok := c.Get(5); ok {
		t.Error("entry should be gone after Remove")
	}
	if _, extkeyUsed := budget.Used(); extkeyUsed != 0 {
		t.Errorf("extkey budget used = %d, want 0 after remove", extkeyUsed)
	}
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0 after remove", c.Len())
	}
}

func TestRemoveOfMissingBlobIDIsANoop(t *testing.T) {
	c := New(pagecache.NewBudget(1<<20), 16)
	c.Remove(999) // must not panic
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0", c.Len())
	}
}

func TestPutFailsWhenBudgetExhausted(t *testing.T) {
	budget := pagecache.NewBudget(4)
	c := New(budget, 16)
	if c.Put(1, []byte("way too long for the budget")) {
		t.Fatal("put should fail when the shared budget cannot fit the data")
	}
	if _, ok := c.Get(1); ok {
		t.Error("a failed put must not leave a partial entry behind")
	}
}

func TestPutSharesBudgetWithPageCache(t *testing.T) {
	budget := pagecache.NewBudget(10)
	budget.AddPage(8)
	c := New(budget, 16)
	if c.Put(1, []byte("abc")) {
		t.Error("put should fail: only 2 bytes remain once page usage is accounted for")
	}
	if c.Put(2, []byte("ab")) == false {
		t.Error("put of 2 bytes should succeed with exactly 2 bytes of headroom")
	}
}
