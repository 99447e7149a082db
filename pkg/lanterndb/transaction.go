package lanterndb

import (
	"fmt"

	itxn "github.com/lanterndb/lanterndb/internal/txn"
	"github.com/lanterndb/lanterndb/internal/walog"
)

// Transaction is a handle to a pending set of writes against one Database:
// commit folds them into the B-tree, abort discards them.
type Transaction struct {
	id    uint64
	db    *Database
	inner *itxn.Transaction
}

// beginTxn starts a transaction against db, logging a begin marker to its
// WAL so replay can tell which of db's logged ops belong to it.
func (db *Database) beginTxn(id uint64) (*Transaction, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.wal != nil {
		if err := db.wal.Append(&walog.Entry{Op: walog.OpTxnBegin, TxnID: id}); err != nil {
			return nil, fmt.Errorf("lanterndb: begin: wal: %w", err)
		}
	}
	return &Transaction{id: id, db: db, inner: itxn.Begin(db.name)}, nil
}

// Name returns the transaction's owning database's name, used only for
// diagnostics.
func (t *Transaction) Name() string { return t.inner.Name() }

// Commit folds the transaction's pending ops into its database's B-tree
// and logs a commit marker. The ops become visible to new cursor
// operations only once Commit returns.
func (t *Transaction) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if err := t.db.applyTxnOps(t.inner); err != nil {
		return fmt.Errorf("lanterndb: commit: %w", err)
	}
	if t.db.wal != nil {
		if err := t.db.wal.Append(&walog.Entry{Op: walog.OpTxnCommit, TxnID: t.id}); err != nil {
			return fmt.Errorf("lanterndb: commit: wal: %w", err)
		}
	}
	return t.inner.Commit()
}

// Abort discards the transaction's pending ops; they never reach the
// B-tree and are dropped from any cursor's duplicate cache on its next
// Find.
func (t *Transaction) Abort() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if t.db.wal != nil {
		if err := t.db.wal.Append(&walog.Entry{Op: walog.OpTxnAbort, TxnID: t.id}); err != nil {
			return fmt.Errorf("lanterndb: abort: wal: %w", err)
		}
	}
	return t.inner.Abort()
}
