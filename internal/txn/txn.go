// Package txn implements a transaction's op-tree: an append-only, ordered
// record of pending operations keyed by the user key they touch, supporting
// read-your-writes before commit and discard on abort without a full
// crash-recovery write-ahead log.
package txn

import (
	"bytes"
	"fmt"

	"github.com/segmentio/datastructures/v2/container/tree"

	"github.com/lanterndb/lanterndb/internal/errs"
)

// DuplicatePosition is the insert-time hint for where a new duplicate
// belongs, consumed by the duplicate cache when it folds pending ops into
// a key's merged order.
type DuplicatePosition int

const (
	PositionFirst DuplicatePosition = iota
	PositionLast
	PositionBefore
	PositionAfter
)

// ResolveIndex computes the merged-view slice index a duplicate placed at p
// lands at, given ref (the anchor duplicate's index in that same merged
// view, or -1 if p carries no anchor) and count (the view's current
// length). Before/After without a usable ref fall back to the end, matching
// DUPLICATE_INSERT_LAST's default.
func (p DuplicatePosition) ResolveIndex(ref, count int) int {
	switch p {
	case PositionFirst:
		return 0
	case PositionBefore:
		if ref < 0 {
			return count
		}
		if ref > count {
			return count
		}
		return ref
	case PositionAfter:
		if ref < 0 {
			return count
		}
		idx := ref + 1
		if idx > count {
			return count
		}
		return idx
	default: // PositionLast
		return count
	}
}

// Kind identifies what an Op does to a key.
type Kind int

const (
	OpInsert Kind = iota
	OpInsertOverwrite
	OpInsertDuplicate
	OpErase
	OpNop
)

func (k Kind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpInsertOverwrite:
		return "insert_overwrite"
	case OpInsertDuplicate:
		return "insert_duplicate"
	case OpErase:
		return "erase"
	default:
		return "nop"
	}
}

// Op is one pending operation in a transaction's op-tree, chained behind
// earlier ops on the same key so cursors can walk "as of" any point in the
// transaction's history.
type Op struct {
	Kind  Kind
	Key   []byte
	Value []byte

	DuplicatePosition DuplicatePosition
	// RefDupeIdx anchors DuplicatePosition's Before/After placement: the
	// index, in the merged duplicate view as of when this op was recorded,
	// of the duplicate this one is placed relative to. -1 means no anchor.
	RefDupeIdx   int
	EraseAll     bool
	EraseDupeIdx int

	// Prev chains to the op on the same key that preceded this one, so a
	// walk from the chain's head yields the ops newest first.
	Prev *Op

	// Txn identifies the owning transaction.
	Txn *Transaction
}

type keyChain struct {
	key  []byte
	head *Op
}

// OpTree is an ordered map from key to its most recent Op, backed by the
// pack's red-black tree map so keys are visitable in order without a
// separate sort pass: a cursor stepping past its own transaction's writes
// needs that order to merge cleanly with the B-tree's.
type OpTree struct {
	tree *tree.Map[[]byte, *keyChain]
}

// NewOpTree builds an empty op tree.
func NewOpTree() *OpTree {
	t := &OpTree{tree: tree.NewMap[[]byte, *keyChain](bytes.Compare)}
	return t
}

// Append adds op to the chain for its key, creating the chain if this is
// the key's first pending op in this transaction.
func (t *OpTree) Append(op *Op) {
	chain, found := t.tree.Lookup(op.Key)
	if !found {
		chain = &keyChain{key: op.Key}
		t.tree.Insert(op.Key, chain)
	}
	op.Prev = chain.head
	chain.head = op
}

// Head returns the most recent op for key, if any.
func (t *OpTree) Head(key []byte) (*Op, bool) {
	chain, found := t.tree.Lookup(key)
	if !found || chain.head == nil {
		return nil, false
	}
	return chain.head, true
}

// All returns every op recorded for key, oldest first.
func (t *OpTree) All(key []byte) []*Op {
	chain, found := t.tree.Lookup(key)
	if !found {
		return nil
	}
	var ops []*Op
	for op := chain.head; op != nil; op = op.Prev {
		ops = append(ops, op)
	}
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

// Range visits every key with a pending chain, in key order.
func (t *OpTree) Range(f func(key []byte, ops []*Op) bool) {
	t.tree.Range(func(key []byte, chain *keyChain) bool {
		return f(key, t.All(key))
	})
}

// State is a Transaction's lifecycle state.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// Transaction collects pending ops until Commit folds them into the B-tree
// or Abort discards them. It holds no locks of its own — isolation is
// read-your-writes only; there is no multi-version concurrency control.
type Transaction struct {
	name  string
	state State
	ops   *OpTree
}

// Begin starts a new transaction. name is an optional label used only in
// diagnostics.
func Begin(name string) *Transaction {
	return &Transaction{name: name, state: StateActive, ops: NewOpTree()}
}

func (t *Transaction) Name() string { return t.name }
func (t *Transaction) State() State { return t.state }
func (t *Transaction) Ops() *OpTree { return t.ops }

// Insert records a pending insert. overwrite selects the recorded kind
// (OpInsertOverwrite or OpInsert). Insert does not look for an existing
// key in the btree or in other pending ops and never rejects one; both
// kinds replace the key's merged duplicate list when applied.
func (t *Transaction) Insert(key, value []byte, overwrite bool) (*Op, error) {
	if err := t.requireActive(); err != nil {
		return nil, err
	}
	kind := OpInsert
	if overwrite {
		kind = OpInsertOverwrite
	}
	op := &Op{Kind: kind, Key: key, Value: value, Txn: t}
	t.ops.Append(op)
	return op, nil
}

// InsertDuplicate records a pending duplicate insert at the given position.
// refDupeIdx anchors Before/After against the merged duplicate view as of
// this call (e.g. the cursor's currently coupled duplicate); pass -1 for
// First/Last, which ignore it.
func (t *Transaction) InsertDuplicate(key, value []byte, pos DuplicatePosition, refDupeIdx int) (*Op, error) {
	if err := t.requireActive(); err != nil {
		return nil, err
	}
	op := &Op{Kind: OpInsertDuplicate, Key: key, Value: value, DuplicatePosition: pos, RefDupeIdx: refDupeIdx, Txn: t}
	t.ops.Append(op)
	return op, nil
}

// Erase records a pending erase. dupeIdx < 0 with eraseAll erases every
// duplicate for key; otherwise it targets one duplicate index.
func (t *Transaction) Erase(key []byte, eraseAll bool, dupeIdx int) (*Op, error) {
	if err := t.requireActive(); err != nil {
		return nil, err
	}
	op := &Op{Kind: OpErase, Key: key, EraseAll: eraseAll, EraseDupeIdx: dupeIdx, Txn: t}
	t.ops.Append(op)
	return op, nil
}

func (t *Transaction) requireActive() error {
	if t.state != StateActive {
		return fmt.Errorf("txn: transaction %q is not active: %w", t.name, errs.ErrInvalidParameter)
	}
	return nil
}

// Commit marks the transaction committed. The caller (the database) is
// responsible for folding t.Ops() into the B-tree before calling this.
func (t *Transaction) Commit() error {
	if err := t.requireActive(); err != nil {
		return err
	}
	t.state = StateCommitted
	return nil
}

// Abort discards the transaction's pending ops.
func (t *Transaction) Abort() error {
	if err := t.requireActive(); err != nil {
		return err
	}
	t.state = StateAborted
	t.ops = NewOpTree()
	return nil
}
