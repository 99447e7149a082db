package dupecache

import (
	"testing"

	"github.com/lanterndb/lanterndb/internal/txn"
)

func TestRebuildBTreeOnlyNoOps(t *testing.T) {
	c := New()
	c.Rebuild(3, nil)
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	for i := 0; i < 3; i++ {
		line := c.At(i)
		if !line.FromBTree || line.BTreeIdx != uint32(i) {
			t.Errorf("line %d = %+v, want FromBTree idx %d", i, line, i)
		}
	}
}

func TestRebuildInsertDuplicateFirst(t *testing.T) {
	c := New()
	op := &txn.Op{Kind: txn.OpInsertDuplicate, DuplicatePosition: txn.PositionFirst, Value: []byte("new")}
	c.Rebuild(2, []*txn.Op{op})
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if c.At(0).Op != op {
		t.Error("PositionFirst duplicate did not land at index 0")
	}
	if !c.At(1).FromBTree || c.At(1).BTreeIdx != 0 {
		t.Error("existing btree duplicates should follow the new first entry in order")
	}
}

func TestRebuildInsertOverwriteReplacesEverything(t *testing.T) {
	c := New()
	op := &txn.Op{Kind: txn.OpInsertOverwrite, Value: []byte("sole")}
	c.Rebuild(4, []*txn.Op{op})
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1 after overwrite", c.Len())
	}
	if c.At(0).Op != op {
		t.Error("overwrite did not replace the merged view with its own single line")
	}
}

func TestRebuildEraseAllClearsTheView(t *testing.T) {
	c := New()
	op := &txn.Op{Kind: txn.OpErase, EraseAll: true}
	c.Rebuild(3, []*txn.Op{op})
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0 after erase-all", c.Len())
	}
}

func TestRebuildEraseSpecificIndex(t *testing.T) {
	c := New()
	op := &txn.Op{Kind: txn.OpErase, EraseDupeIdx: 1}
	c.Rebuild(3, []*txn.Op{op})
	if c.Len() != 2 {
		t.Fatalf("len = %d, want 2", c.Len())
	}
	if c.At(0).BTreeIdx != 0 || c.At(1).BTreeIdx != 2 {
		t.Errorf("erase did not remove index 1: lines = %+v, %+v", c.At(0), c.At(1))
	}
}

func TestRebuildInsertDuplicateAfterAnchoredRef(t *testing.T) {
	c := New()
	// btree holds [A, B, C] (indices 0, 1, 2); insert D AFTER B (ref=1).
	op := &txn.Op{Kind: txn.OpInsertDuplicate, DuplicatePosition: txn.PositionAfter, RefDupeIdx: 1, Value: []byte("D")}
	c.Rebuild(3, []*txn.Op{op})
	if c.Len() != 4 {
		t.Fatalf("len = %d, want 4", c.Len())
	}
	if c.At(2).Op != op {
		t.Errorf("D should land at index 2 (immediately after B at index 1), got %+v", c.At(2))
	}
	if !c.At(3).FromBTree || c.At(3).BTreeIdx != 2 {
		t.Error("C (btree index 2) should follow D")
	}
}

func TestRebuildInsertDuplicateBeforeAnchoredRef(t *testing.T) {
	c := New()
	// btree holds [A, B, C]; insert D BEFORE B (ref=1).
	op := &txn.Op{Kind: txn.OpInsertDuplicate, DuplicatePosition: txn.PositionBefore, RefDupeIdx: 1, Value: []byte("D")}
	c.Rebuild(3, []*txn.Op{op})
	if c.Len() != 4 {
		t.Fatalf("len = %d, want 4", c.Len())
	}
	if c.At(1).Op != op {
		t.Errorf("D should land at index 1 (immediately before B), got %+v", c.At(1))
	}
	if !c.At(2).FromBTree || c.At(2).BTreeIdx != 1 {
		t.Error("B (btree index 1) should follow D")
	}
}

func TestRebuildInsertDuplicateAfterWithoutRefFallsBackToLast(t *testing.T) {
	c := New()
	op := &txn.Op{Kind: txn.OpInsertDuplicate, DuplicatePosition: txn.PositionAfter, RefDupeIdx: -1, Value: []byte("D")}
	c.Rebuild(2, []*txn.Op{op})
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	if c.At(2).Op != op {
		t.Error("AFTER with no anchor should fall back to appending last")
	}
}

func TestRebuildClearsPreviousContents(t *testing.T) {
	c := New()
	c.Rebuild(2, nil)
	c.Rebuild(0, nil)
	if c.Len() != 0 {
		t.Errorf("len = %d, want 0 after rebuilding with no ops and no btree duplicates", c.Len())
	}
}
