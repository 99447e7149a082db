// Package dupecache implements an ordered view over a key's duplicates
// that merges the B-tree's stored duplicate table with a transaction's
// not-yet-committed pending operations on the same key, without
// materializing either side eagerly.
package dupecache

import "github.com/lanterndb/lanterndb/internal/txn"

// Line is one entry in the merged duplicate order: either an index into the
// B-tree's on-disk duplicate table, or a pending transaction op. Never both
// — see original_source's DupeCacheLine.
type Line struct {
	FromBTree bool
	BTreeIdx  uint32
	Op        *txn.Op
}

// Cache is the ordered line list for one key, local to a single cursor.
type Cache struct {
	lines []Line
}

// New builds an empty Cache.
func New() *Cache {
	return &Cache{}
}

// Len reports the number of merged duplicates.
func (c *Cache) Len() int {
	return len(c.lines)
}

// At returns the line at position i.
func (c *Cache) At(i int) Line {
	return c.lines[i]
}

// Clear empties the cache, e.g. when a cursor is repositioned.
func (c *Cache) Clear() {
	c.lines = c.lines[:0]
}

// Rebuild replaces the cache's contents with the B-tree's duplicate
// indices, in storage order, then folds in the transaction's pending ops
// for this key in the order they were recorded: INSERT_DUPLICATE adds a
// line (anchored by its RefDupeIdx for Before/After), ERASE removes the
// line it targets, INSERT/INSERT_OVERWRITE replace the whole set with a
// single pending line.
func (c *Cache) Rebuild(btreeCount int, ops []*txn.Op) {
	c.lines = c.lines[:0]
	for i := 0; i < btreeCount; i++ {
		c.lines = append(c.lines, Line{FromBTree: true, BTreeIdx: uint32(i)})
	}

	for _, op := range ops {
		switch op.Kind {
		case txn.OpInsert, txn.OpInsertOverwrite:
			c.lines = c.lines[:0]
			c.lines = append(c.lines, Line{Op: op})
		case txn.OpInsertDuplicate:
			c.insertAt(op, op.DuplicatePosition)
		case txn.OpErase:
			c.eraseMatching(op)
		}
	}
}

func (c *Cache) insertAt(op *txn.Op, pos txn.DuplicatePosition) {
	idx := pos.ResolveIndex(op.RefDupeIdx, len(c.lines))
	line := Line{Op: op}
	c.lines = append(c.lines[:idx], append([]Line{line}, c.lines[idx:]...)...)
}

// eraseMatching drops the line an erase op targets. An erase-all op clears
// every line for the key; otherwise the line at EraseDupeIdx is removed,
// and an index outside the current lines removes nothing.
func (c *Cache) eraseMatching(op *txn.Op) {
	if op.EraseAll {
		c.lines = c.lines[:0]
		return
	}
	if op.EraseDupeIdx < 0 || op.EraseDupeIdx >= len(c.lines) {
		return
	}
	c.lines = append(c.lines[:op.EraseDupeIdx], c.lines[op.EraseDupeIdx+1:]...)
}
