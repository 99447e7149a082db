package lanterndb

import (
	"fmt"

	"github.com/lanterndb/lanterndb/internal/cursor"
	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/walog"
)

// Cursor walks a Database's keys in order. It wraps internal/cursor.Cursor,
// translating between the raw key/record bytes callers deal with and the
// keycmp.Key/blob-id pairs the storage core works in.
type Cursor struct {
	db    *Database
	inner *cursor.Cursor
	// txnID is the owning transaction's id, or 0 for a plain cursor; WAL
	// entries Insert/Overwrite/Erase append carry it so replay can group
	// them under the same commit.
	txnID uint64
}

// Move repositions the cursor per flags (CursorFirst/Last/Next/Previous).
func (c *Cursor) Move(flags CursorMoveFlags) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	dir, err := cursorDirection(flags)
	if err != nil {
		return err
	}
	return c.inner.Move(dir)
}

func cursorDirection(flags CursorMoveFlags) (cursor.Direction, error) {
	switch flags {
	case CursorFirst:
		return cursor.MoveFirst, nil
	case CursorLast:
		return cursor.MoveLast, nil
	case CursorNext:
		return cursor.MoveNext, nil
	case CursorPrevious:
		return cursor.MovePrevious, nil
	default:
		return 0, fmt.Errorf("lanterndb: cursor move: unknown flags %d: %w", flags, errs.ErrInvalidParameter)
	}
}

// Key returns the full key bytes the cursor is positioned on.
func (c *Cursor) Key() ([]byte, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.keyLocked()
}

// Record returns the record bytes the cursor is currently positioned on.
func (c *Cursor) Record() ([]byte, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	valueID, err := c.inner.Value()
	if err != nil {
		return nil, fmt.Errorf("lanterndb: cursor value: %w", err)
	}
	return c.db.env.blobs.Read(valueID)
}

// GetDuplicateCount reports how many duplicates the cursor's current key
// holds in the merged (btree + pending txn) view.
func (c *Cursor) GetDuplicateCount() (int, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.inner.State() == cursor.StateNil {
		return 0, fmt.Errorf("lanterndb: get_duplicate_count: %w", errs.ErrCursorIsNil)
	}
	return c.dupeCountLocked(), nil
}

func (c *Cursor) dupeCountLocked() int {
	return c.inner.DuplicateCount()
}

// Close invalidates the cursor and unregisters it from its database's
// cursor list.
func (c *Cursor) Close() {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.inner.Unregister(&c.db.cursors)
	c.inner.Close()
}

// Insert stores record under key, coupling the cursor onto the resulting
// entry. InsertDuplicateBefore/After place the new duplicate relative to
// whatever duplicate the cursor was coupled to before the call.
func (c *Cursor) Insert(key, record []byte, flags InsertFlags) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	k, err := c.db.makeKey(key)
	if err != nil {
		return err
	}
	valueID, err := c.db.env.blobs.Write(record)
	if err != nil {
		return fmt.Errorf("lanterndb: cursor insert: %w", err)
	}
	if err := c.inner.Insert(k, valueID, cursorInsertFlags(flags)); err != nil {
		return fmt.Errorf("lanterndb: cursor insert %q: %w", key, err)
	}

	if c.db.wal != nil {
		walOp := walog.OpInsert
		switch {
		case flags&InsertOverwrite != 0:
			walOp = walog.OpInsertOverwrite
		case flags&(InsertDuplicate|InsertDuplicateFirst|InsertDuplicateBefore|InsertDuplicateAfter) != 0:
			walOp = walog.OpInsertDuplicate
		}
		if err := c.db.wal.Append(&walog.Entry{Op: walOp, TxnID: c.txnID, Key: key, Value: record}); err != nil {
			return fmt.Errorf("lanterndb: cursor insert: wal: %w", err)
		}
	}
	return nil
}

func cursorInsertFlags(flags InsertFlags) cursor.InsertFlags {
	var out cursor.InsertFlags
	if flags&InsertOverwrite != 0 {
		out |= cursor.InsertOverwrite
	}
	if flags&InsertDuplicate != 0 {
		out |= cursor.InsertDuplicate
	}
	if flags&InsertDuplicateFirst != 0 {
		out |= cursor.InsertDuplicateFirst
	}
	if flags&InsertDuplicateBefore != 0 {
		out |= cursor.InsertDuplicateBefore
	}
	if flags&InsertDuplicateAfter != 0 {
		out |= cursor.InsertDuplicateAfter
	}
	return out
}

// Overwrite replaces the record of the duplicate the cursor is currently
// coupled to, in place.
func (c *Cursor) Overwrite(record []byte) error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	valueID, err := c.db.env.blobs.Write(record)
	if err != nil {
		return fmt.Errorf("lanterndb: cursor overwrite: %w", err)
	}
	if err := c.inner.Overwrite(valueID); err != nil {
		return fmt.Errorf("lanterndb: cursor overwrite: %w", err)
	}

	if c.db.wal != nil {
		key, err := c.keyLocked()
		if err != nil {
			return err
		}
		if err := c.db.wal.Append(&walog.Entry{Op: walog.OpInsertOverwrite, TxnID: c.txnID, Key: key, Value: record}); err != nil {
			return fmt.Errorf("lanterndb: cursor overwrite: wal: %w", err)
		}
	}
	return nil
}

// Erase removes the duplicate the cursor is currently coupled to. Every
// other open cursor coupled to the same (key, duplicate) becomes NIL too.
func (c *Cursor) Erase() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	var key []byte
	if c.db.wal != nil {
		k, err := c.keyLocked()
		if err != nil {
			return err
		}
		key = k
	}

	if err := c.inner.Erase(); err != nil {
		return fmt.Errorf("lanterndb: cursor erase: %w", err)
	}

	if c.db.wal != nil {
		if err := c.db.wal.Append(&walog.Entry{Op: walog.OpErase, TxnID: c.txnID, Key: key}); err != nil {
			return fmt.Errorf("lanterndb: cursor erase: wal: %w", err)
		}
	}
	return nil
}

// CheckIfErasedOrOverwritten reports whether the B-tree duplicate this
// cursor was originally coupled to has since been superseded by the
// cursor's transaction (erased, or replaced wholesale by an overwrite).
func (c *Cursor) CheckIfErasedOrOverwritten() (bool, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	return c.inner.CheckIfErasedOrOverwritten()
}

// keyLocked returns the full key bytes the cursor is positioned on; callers
// must already hold c.db.mu.
func (c *Cursor) keyLocked() ([]byte, error) {
	if c.inner.State() == cursor.StateNil {
		return nil, fmt.Errorf("lanterndb: cursor key: %w", errs.ErrCursorIsNil)
	}
	k := c.inner.Key()
	if !k.Extended {
		return append([]byte(nil), k.Data...), nil
	}
	tail, err := c.db.env.blobs.Read(k.BlobID)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), k.Data...), tail...), nil
}
