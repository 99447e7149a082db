package txn

import "testing"

func TestOpTreeAppendAndHead(t *testing.T) {
	tree := NewOpTree()
	key := []byte("k")
	op1 := &Op{Kind: OpInsert, Key: key, Value: []byte("v1")}
	op2 := &Op{Kind: OpInsertOverwrite, Key: key, Value: []byte("v2")}
	tree.Append(op1)
	tree.Append(op2)

	head, ok := tree.Head(key)
	if !ok {
		t.Fatal("head not found")
	}
	if head != op2 {
		t.Errorf("head = %v, want most recently appended op", head.Value)
	}
	if head.Prev != op1 {
		t.Error("head.Prev does not chain to the first op")
	}
}

func TestOpTreeAllReturnsOldestFirst(t *testing.T) {
	tree := NewOpTree()
	key := []byte("k")
	for _, v := range []string{"a", "b", "c"} {
		tree.Append(&Op{Kind: OpInsert, Key: key, Value: []byte(v)})
	}
	ops := tree.All(key)
	if len(ops) != 3 {
		t.Fatalf("len(ops) = %d, want 3", len(ops))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(ops[i].Value) != want {
			t.Errorf("ops[%d] = %q, want %q", i, ops[i].Value, want)
		}
	}
}

func TestOpTreeRangeVisitsKeysInOrder(t *testing.T) {
	tree := NewOpTree()
	tree.Append(&Op{Kind: OpInsert, Key: []byte("b")})
	tree.Append(&Op{Kind: OpInsert, Key: []byte("a")})
	tree.Append(&Op{Kind: OpInsert, Key: []byte("c")})

	var seen []string
	tree.Range(func(key []byte, ops []*Op) bool {
		seen = append(seen, string(key))
		return true
	})
	want := []string{"a", "b", "c"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestTransactionInsertRequiresActiveState(t *testing.T) {
	tx := Begin("t")
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := tx.Insert([]byte("k"), []byte("v"), false); err == nil {
		t.Error("insert on a committed transaction should fail")
	}
}

func TestTransactionAbortDiscardsOps(t *testing.T) {
	tx := Begin("t")
	if _, err := tx.Insert([]byte("k"), []byte("v"), false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	if _, found := tx.Ops().Head([]byte("k")); found {
		t.Error("aborted transaction still has pending ops")
	}
}
