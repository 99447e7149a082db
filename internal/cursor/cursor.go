// Package cursor implements the cursor state machine: a dispatcher over a
// B-tree-side position and a transaction-side position, consolidated into
// an ordered duplicate view when a transaction is in play. Modeled on the
// three-state design in original_source's cursor.h (NIL / coupled-to-btree
// / coupled-to-txn), generalized to []byte keys.
package cursor

import (
	"bytes"
	"fmt"

	"github.com/segmentio/datastructures/v2/list"

	"github.com/lanterndb/lanterndb/internal/btree"
	"github.com/lanterndb/lanterndb/internal/dupecache"
	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/keycmp"
	"github.com/lanterndb/lanterndb/internal/page"
	"github.com/lanterndb/lanterndb/internal/txn"
)

// InsertFlags controls Cursor.Insert.
type InsertFlags uint32

const (
	// InsertOverwrite replaces an existing key's duplicate list with a
	// single value instead of failing with ErrDuplicateKey.
	InsertOverwrite InsertFlags = 1 << iota
	// InsertDuplicate adds value as a new duplicate under an existing key
	// instead of failing with ErrDuplicateKey.
	InsertDuplicate
	// InsertDuplicateFirst, InsertDuplicateBefore, and InsertDuplicateAfter
	// refine InsertDuplicate's placement. Before/After are resolved against
	// the cursor's currently-coupled duplicate; without one of these three,
	// a duplicate insert lands last.
	InsertDuplicateFirst
	InsertDuplicateBefore
	InsertDuplicateAfter
)

func positionFromFlags(flags InsertFlags) txn.DuplicatePosition {
	switch {
	case flags&InsertDuplicateFirst != 0:
		return txn.PositionFirst
	case flags&InsertDuplicateBefore != 0:
		return txn.PositionBefore
	case flags&InsertDuplicateAfter != 0:
		return txn.PositionAfter
	default:
		return txn.PositionLast
	}
}

// State is the cursor's coupling.
type State int

const (
	StateNil State = iota
	StateCoupledBTree
	StateCoupledTxn
)

// Direction selects which way Move travels.
type Direction int

const (
	MoveFirst Direction = iota
	MoveLast
	MoveNext
	MovePrevious
)

// Cursor walks a Tree, optionally overlaying a Transaction's pending ops on
// the key it is positioned on.
type Cursor struct {
	tree *btree.Tree
	txn  *txn.Transaction

	state   State
	key     keycmp.Key
	dupes   *dupecache.Cache
	dupePos int

	registered bool
	siblings   *list.List

	// pinnedPage is the leaf page backing the cursor's current coupling.
	// Pinning it keeps the page cache from evicting bytes a live cursor
	// still depends on; see repin.
	pinnedPage *page.Page

	// _ embeds the intrusive list node so a *Cursor can be linked into the
	// database-wide cursor list (see Register) without a second
	// allocation. Erase walks that list to invalidate every sibling cursor
	// coupled to the same (key, duplicate).
	_ list.Node
}

// New creates a cursor over tree, optionally scoped to txn's pending writes
// (txn may be nil for a plain, non-transactional cursor).
func New(tree *btree.Tree, t *txn.Transaction) *Cursor {
	return &Cursor{tree: tree, txn: t, state: StateNil, dupes: dupecache.New()}
}

// State reports the cursor's current coupling.
func (c *Cursor) State() State { return c.state }

// Key returns the key the cursor is positioned on. Valid only outside
// StateNil.
func (c *Cursor) Key() keycmp.Key {
	return c.key
}

// Register links the cursor into l so page/txn lifecycle events can walk
// every live cursor, and remembers l so Erase can invalidate siblings.
// Call once after New.
func (c *Cursor) Register(l *list.List) {
	l.PushBack(c)
	c.registered = true
	c.siblings = l
}

// Unregister removes the cursor from l, e.g. on Close.
func (c *Cursor) Unregister(l *list.List) {
	if c.registered {
		l.Remove(c)
		c.registered = false
	}
}

// pendingOps returns this cursor's transaction's ops for key, or nil if the
// cursor has no transaction.
func (c *Cursor) pendingOps(key keycmp.Key) []*txnOp {
	if c.txn == nil {
		return nil
	}
	ops := c.txn.Ops().All(key.Data)
	out := make([]*txnOp, len(ops))
	for i, op := range ops {
		out[i] = (*txnOp)(op)
	}
	return out
}

// txnOp is a local alias so this package need not re-export txn.Op's name
// in its own public surface.
type txnOp = txn.Op

// rebuildDupes merges the btree's stored duplicates for key with this
// cursor's transaction's pending ops on the same key.
func (c *Cursor) rebuildDupes(key keycmp.Key) error {
	values, found, err := c.tree.Search(key)
	if err != nil {
		return err
	}
	btreeCount := 0
	if found {
		btreeCount = len(values)
	}
	ops := c.pendingOps(key)
	c.dupes.Rebuild(btreeCount, ops)
	return nil
}

// Find positions the cursor on key, merging btree and pending-txn state.
// It reports errs.ErrKeyNotFound if the merged view has no surviving
// duplicates for key (e.g. every btree duplicate was erased by the
// transaction).
func (c *Cursor) Find(key keycmp.Key) error {
	if err := c.rebuildDupes(key); err != nil {
		return err
	}
	if c.dupes.Len() == 0 {
		c.unpinLocked()
		c.state = StateNil
		return fmt.Errorf("cursor: find %q: %w", key.Data, errs.ErrKeyNotFound)
	}
	c.key = key
	c.dupePos = 0
	c.coupleToFirstLine()
	return c.repinLocked()
}

// repinLocked pins the leaf page backing the cursor's current key, and
// unpins whatever page it had pinned before. Safe to call from any state;
// a miscoupled or txn-only key simply pins the page that key would live
// on if it were in the B-tree.
func (c *Cursor) repinLocked() error {
	pg, err := c.tree.LeafPageForKey(c.key)
	if err != nil {
		return err
	}
	if c.pinnedPage == pg {
		return nil
	}
	c.unpinLocked()
	pg.Pin(c)
	c.pinnedPage = pg
	return nil
}

func (c *Cursor) unpinLocked() {
	if c.pinnedPage != nil {
		c.pinnedPage.Unpin(c)
		c.pinnedPage = nil
	}
}

func (c *Cursor) coupleToFirstLine() {
	line := c.dupes.At(0)
	if line.FromBTree {
		c.state = StateCoupledBTree
	} else {
		c.state = StateCoupledTxn
	}
}

// Value returns the value the cursor is currently positioned on.
func (c *Cursor) Value() (uint64, error) {
	if c.state == StateNil {
		return 0, fmt.Errorf("cursor: value: %w", errs.ErrCursorIsNil)
	}
	line := c.dupes.At(c.dupePos)
	if line.FromBTree {
		values, found, err := c.tree.Search(c.key)
		if err != nil {
			return 0, err
		}
		if !found || int(line.BTreeIdx) >= len(values) {
			return 0, fmt.Errorf("cursor: value: %w", errs.ErrKeyNotFound)
		}
		return values[line.BTreeIdx], nil
	}
	var v uint64
	if len(line.Op.Value) >= 8 {
		v = uint64(line.Op.Value[0]) | uint64(line.Op.Value[1])<<8 | uint64(line.Op.Value[2])<<16 |
			uint64(line.Op.Value[3])<<24 | uint64(line.Op.Value[4])<<32 | uint64(line.Op.Value[5])<<40 |
			uint64(line.Op.Value[6])<<48 | uint64(line.Op.Value[7])<<56
	}
	return v, nil
}

// Move repositions the cursor. FIRST/LAST reseat it at the tree's extreme
// key; NEXT/PREVIOUS step within the current key's duplicate list, then
// across to the adjacent key when exhausted.
func (c *Cursor) Move(dir Direction) error {
	switch dir {
	case MoveFirst:
		key, _, found, err := c.tree.Min()
		if err != nil {
			return err
		}
		if !found {
			c.state = StateNil
			return fmt.Errorf("cursor: move first: %w", errs.ErrKeyNotFound)
		}
		return c.Find(key)
	case MoveLast:
		key, _, found, err := c.tree.Max()
		if err != nil {
			return err
		}
		if !found {
			c.state = StateNil
			return fmt.Errorf("cursor: move last: %w", errs.ErrKeyNotFound)
		}
		return c.Find(key)
	case MoveNext:
		if c.state == StateNil {
			return c.Move(MoveFirst)
		}
		if c.dupePos+1 < c.dupes.Len() {
			c.dupePos++
			c.coupleToCurrentLine()
			return nil
		}
		return c.stepToAdjacentKey(true)
	case MovePrevious:
		if c.state == StateNil {
			return c.Move(MoveLast)
		}
		if c.dupePos > 0 {
			c.dupePos--
			c.coupleToCurrentLine()
			return nil
		}
		return c.stepToAdjacentKey(false)
	default:
		return fmt.Errorf("cursor: move: unknown direction %d: %w", dir, errs.ErrInvalidParameter)
	}
}

// stepToAdjacentKey advances the cursor past its current key's duplicate
// list to the next (forward) or previous (backward) key in the combined
// btree/txn keyspace, skipping over any key whose merged duplicate view
// turns out empty (every duplicate erased by a pending transaction).
func (c *Cursor) stepToAdjacentKey(forward bool) error {
	cur := c.key
	for {
		next, found, err := c.adjacentKey(cur, forward)
		if err != nil {
			return err
		}
		if !found {
			c.state = StateNil
			return fmt.Errorf("cursor: move: %w", errs.ErrKeyNotFound)
		}
		if err := c.rebuildDupes(next); err != nil {
			return err
		}
		if c.dupes.Len() > 0 {
			c.key = next
			if forward {
				c.dupePos = 0
			} else {
				c.dupePos = c.dupes.Len() - 1
			}
			c.coupleToCurrentLine()
			return c.repinLocked()
		}
		cur = next
	}
}

// adjacentKey returns the nearest key strictly beyond key in the requested
// direction, merging the btree's ordered keys with any keys that exist
// only as pending ops in the cursor's transaction.
func (c *Cursor) adjacentKey(key keycmp.Key, forward bool) (keycmp.Key, bool, error) {
	var btKey keycmp.Key
	var btFound bool
	var err error
	if forward {
		btKey, _, btFound, err = c.tree.Next(key)
	} else {
		btKey, _, btFound, err = c.tree.Previous(key)
	}
	if err != nil {
		return keycmp.Key{}, false, err
	}

	txnKey, txnFound := c.txnAdjacentKey(key.Data, forward)

	switch {
	case btFound && txnFound:
		cmp := bytes.Compare(btKey.Data, txnKey)
		if (forward && cmp <= 0) || (!forward && cmp >= 0) {
			return btKey, true, nil
		}
		return keycmp.Key{Data: txnKey}, true, nil
	case btFound:
		return btKey, true, nil
	case txnFound:
		return keycmp.Key{Data: txnKey}, true, nil
	default:
		return keycmp.Key{}, false, nil
	}
}

// txnAdjacentKey scans the cursor's transaction's op-tree (visited in key
// order) for the nearest key beyond key.Data. It is a linear scan of the
// transaction's touched keys, not the whole keyspace, so it stays cheap
// relative to the btree leaf scan it is paired with.
func (c *Cursor) txnAdjacentKey(key []byte, forward bool) ([]byte, bool) {
	if c.txn == nil {
		return nil, false
	}
	var best []byte
	found := false
	c.txn.Ops().Range(func(k []byte, ops []*txn.Op) bool {
		cmp := bytes.Compare(k, key)
		if forward && cmp > 0 {
			if !found || bytes.Compare(k, best) < 0 {
				best, found = k, true
			}
		}
		if !forward && cmp < 0 {
			if !found || bytes.Compare(k, best) > 0 {
				best, found = k, true
			}
		}
		return true
	})
	return best, found
}

func (c *Cursor) coupleToCurrentLine() {
	line := c.dupes.At(c.dupePos)
	if line.FromBTree {
		c.state = StateCoupledBTree
	} else {
		c.state = StateCoupledTxn
	}
}

// DuplicateCount reports how many duplicates the merged view currently
// holds for the cursor's key.
func (c *Cursor) DuplicateCount() int {
	return c.dupes.Len()
}

// Close invalidates the cursor.
func (c *Cursor) Close() {
	c.unpinLocked()
	c.state = StateNil
	c.dupes.Clear()
}

func (c *Cursor) coupleToOp(op *txn.Op) {
	for i := 0; i < c.dupes.Len(); i++ {
		line := c.dupes.At(i)
		if !line.FromBTree && line.Op == op {
			c.dupePos = i
			c.state = StateCoupledTxn
			return
		}
	}
	// The op was superseded (e.g. by a later erase in the same rebuild);
	// nothing to couple to.
	c.state = StateNil
}

// Insert stores value under key, coupling the cursor onto the resulting
// entry. With a transaction attached the write is staged as a pending op;
// otherwise it is applied to the B-tree directly. InsertDuplicateBefore
// and InsertDuplicateAfter anchor against the duplicate the cursor was
// coupled to before this call.
func (c *Cursor) Insert(key keycmp.Key, value uint64, flags InsertFlags) error {
	ref := -1
	if c.state != StateNil && bytes.Equal(c.key.Data, key.Data) {
		ref = c.dupePos
	}
	pos := positionFromFlags(flags)
	duplicate := flags&(InsertDuplicate|InsertDuplicateFirst|InsertDuplicateBefore|InsertDuplicateAfter) != 0
	overwrite := flags&InsertOverwrite != 0

	if c.txn != nil {
		encoded := encodeUint64(value)
		var op *txn.Op
		var err error
		if duplicate {
			op, err = c.txn.InsertDuplicate(key.Data, encoded, pos, ref)
		} else {
			op, err = c.txn.Insert(key.Data, encoded, overwrite)
		}
		if err != nil {
			return fmt.Errorf("cursor: insert %q: %w", key.Data, err)
		}
		c.key = key
		if err := c.rebuildDupes(c.key); err != nil {
			return err
		}
		c.coupleToOp(op)
		return c.repinLocked()
	}

	if duplicate && pos != txn.PositionLast {
		values, found, err := c.tree.Search(key)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("cursor: insert %q: %w", key.Data, errs.ErrKeyNotFound)
		}
		idx := pos.ResolveIndex(ref, len(values))
		next := make([]uint64, 0, len(values)+1)
		next = append(next, values[:idx]...)
		next = append(next, value)
		next = append(next, values[idx:]...)
		if err := c.tree.Replace(key, next); err != nil {
			return err
		}
		c.key = key
		if err := c.rebuildDupes(c.key); err != nil {
			return err
		}
		c.dupePos = idx
		c.coupleToCurrentLine()
		return c.repinLocked()
	}

	if err := c.tree.Insert(key, value, overwrite, duplicate); err != nil {
		return fmt.Errorf("cursor: insert %q: %w", key.Data, err)
	}
	c.key = key
	if err := c.rebuildDupes(c.key); err != nil {
		return err
	}
	if duplicate {
		c.dupePos = c.dupes.Len() - 1
	} else {
		c.dupePos = 0
	}
	c.coupleToCurrentLine()
	return c.repinLocked()
}

// Overwrite replaces the value of the duplicate the cursor is currently
// coupled to, in place. Fails with ErrCursorIsNil if the cursor is not
// coupled.
func (c *Cursor) Overwrite(value uint64) error {
	if c.state == StateNil {
		return fmt.Errorf("cursor: overwrite: %w", errs.ErrCursorIsNil)
	}
	if c.txn != nil {
		// Compose an erase of the coupled duplicate with a reinsert at the
		// same merged position, rather than txn.Insert(overwrite=true),
		// which would collapse the whole duplicate list to one entry.
		dupeIdx := c.dupePos
		if _, err := c.txn.Erase(c.key.Data, false, dupeIdx); err != nil {
			return fmt.Errorf("cursor: overwrite: %w", err)
		}
		if _, err := c.txn.InsertDuplicate(c.key.Data, encodeUint64(value), txn.PositionBefore, dupeIdx); err != nil {
			return fmt.Errorf("cursor: overwrite: %w", err)
		}
		if err := c.rebuildDupes(c.key); err != nil {
			return err
		}
		c.dupePos = dupeIdx
		c.coupleToCurrentLine()
		return nil
	}

	values, found, err := c.tree.Search(c.key)
	if err != nil {
		return err
	}
	if !found || c.dupePos >= len(values) {
		return fmt.Errorf("cursor: overwrite: %w", errs.ErrKeyNotFound)
	}
	values[c.dupePos] = value
	if err := c.tree.Replace(c.key, values); err != nil {
		return err
	}
	return c.rebuildDupes(c.key)
}

// Erase removes the duplicate the cursor is currently coupled to. With a
// transaction attached, the erase is staged as a pending op; otherwise it
// is applied to the B-tree directly. On success the cursor becomes NIL,
// and every other cursor registered on the same list and coupled to the
// same (key, duplicate index) is invalidated to NIL as well, since the
// entry they were pointing at no longer exists.
func (c *Cursor) Erase() error {
	if c.state == StateNil {
		return fmt.Errorf("cursor: erase: %w", errs.ErrCursorIsNil)
	}
	key := c.key
	dupeIdx := c.dupePos

	if c.txn != nil {
		if _, err := c.txn.Erase(key.Data, false, dupeIdx); err != nil {
			return fmt.Errorf("cursor: erase %q: %w", key.Data, err)
		}
	} else {
		if err := c.tree.Erase(key, false, dupeIdx); err != nil {
			return fmt.Errorf("cursor: erase %q: %w", key.Data, err)
		}
	}

	c.unpinLocked()
	c.state = StateNil
	c.dupes.Clear()
	c.invalidateSiblings(key, dupeIdx)
	return nil
}

// invalidateSiblings sets every other registered cursor positioned on
// (key, dupeIdx) to StateNil. It is the reason Cursor carries its own
// intrusive list.Node: erase has to reach every live cursor, not just the
// page they happen to share.
func (c *Cursor) invalidateSiblings(key keycmp.Key, dupeIdx int) {
	if c.siblings == nil {
		return
	}
	for x := c.siblings.Front(); x != nil; x = c.siblings.Next(x) {
		other, ok := x.(*Cursor)
		if !ok || other == c || other.state == StateNil {
			continue
		}
		if other.dupePos == dupeIdx && bytes.Equal(other.key.Data, key.Data) {
			other.unpinLocked()
			other.state = StateNil
			other.dupes.Clear()
		}
	}
}

// CheckIfErasedOrOverwritten reports whether the B-tree duplicate this
// cursor was originally coupled to has since been superseded by a pending
// transaction op (an erase, or an overwrite that replaced the whole
// list) — used while merging to skip B-tree entries a transaction has
// already made stale.
func (c *Cursor) CheckIfErasedOrOverwritten() (bool, error) {
	if c.state != StateCoupledBTree {
		return false, nil
	}
	originalIdx := c.dupes.At(c.dupePos).BTreeIdx
	if err := c.rebuildDupes(c.key); err != nil {
		return false, err
	}
	for i := 0; i < c.dupes.Len(); i++ {
		line := c.dupes.At(i)
		if line.FromBTree && line.BTreeIdx == originalIdx {
			return false, nil
		}
	}
	return true, nil
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}
