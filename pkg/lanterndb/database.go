package lanterndb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/datastructures/v2/list"

	"github.com/lanterndb/lanterndb/internal/btree"
	"github.com/lanterndb/lanterndb/internal/cursor"
	"github.com/lanterndb/lanterndb/internal/dupecache"
	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/keycmp"
	"github.com/lanterndb/lanterndb/internal/txn"
	"github.com/lanterndb/lanterndb/internal/walog"
)

// Database is one named B-tree index within an Environment. All databases
// in an environment share the environment's page cache, extended-key
// cache, and blob store; each has its own root page, key-size policy,
// comparator, and set of live cursors.
type Database struct {
	mu      sync.Mutex
	env     *Environment
	name    string
	tree    *btree.Tree
	cmp     *keycmp.Comparator
	keySize int
	wal     *walog.WAL
	cursors list.List
}

// CreateDB creates a new named database within env. It fails with
// ErrDatabaseAlreadyOpen if name already exists.
func (env *Environment) CreateDB(name string, opts ...DBOption) (*Database, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	if _, exists := env.dbs[name]; exists {
		return nil, fmt.Errorf("lanterndb: create_db %q: %w", name, errs.ErrDatabaseAlreadyOpen)
	}

	cfg := newDBConfig(opts)
	cmp := keycmp.New(env.blobs, env.extkeys, nil)
	tree, err := btree.Open(env.cachedPager, cmp, env.cfg.order, 0)
	if err != nil {
		return nil, fmt.Errorf("lanterndb: create_db %q: %w", name, err)
	}

	db := &Database{env: env, name: name, tree: tree, cmp: cmp, keySize: cfg.keySize}
	if env.path != "" {
		w, err := walog.Open(walPathFor(env.path, name))
		if err != nil {
			return nil, fmt.Errorf("lanterndb: create_db %q: %w", name, err)
		}
		db.wal = w
	}

	env.dbs[name] = db
	if err := env.persistMetaLocked(); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenDB resumes a previously created named database, replaying its
// write-ahead log (if on disk) first.
func (env *Environment) OpenDB(name string) (*Database, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	if db, ok := env.dbs[name]; ok {
		return db, nil
	}
	return nil, fmt.Errorf("lanterndb: open_db %q: %w", name, errs.ErrInvalidParameter)
}

// resumeDatabase reconstructs a Database from its persisted directory
// entry, replaying its WAL. Called only while loading an existing
// environment, before any caller can observe env.dbs.
func (env *Environment) resumeDatabase(e dbEntry) (*Database, error) {
	cmp := keycmp.New(env.blobs, env.extkeys, nil)
	tree, err := btree.Open(env.cachedPager, cmp, env.cfg.order, e.root)
	if err != nil {
		return nil, fmt.Errorf("lanterndb: resume %q: %w", e.name, err)
	}
	db := &Database{env: env, name: e.name, tree: tree, cmp: cmp, keySize: e.keySize}

	w, err := walog.Open(walPathFor(env.path, e.name))
	if err != nil {
		return nil, fmt.Errorf("lanterndb: resume %q: %w", e.name, err)
	}
	db.wal = w
	if err := db.replayWAL(); err != nil {
		return nil, fmt.Errorf("lanterndb: resume %q: replay: %w", e.name, err)
	}
	return db, nil
}

func walPathFor(envPath, name string) string { return envPath + "." + name + ".wal" }

// RenameDB renames an open database.
func (env *Environment) RenameDB(oldName, newName string) error {
	env.mu.Lock()
	defer env.mu.Unlock()

	db, ok := env.dbs[oldName]
	if !ok {
		return fmt.Errorf("lanterndb: rename_db %q: %w", oldName, errs.ErrInvalidParameter)
	}
	if _, exists := env.dbs[newName]; exists {
		return fmt.Errorf("lanterndb: rename_db to %q: %w", newName, errs.ErrDatabaseAlreadyOpen)
	}

	delete(env.dbs, oldName)
	db.name = newName
	env.dbs[newName] = db
	return env.persistMetaLocked()
}

// EraseDB closes and forgets a database. Its pages are not reclaimed: a
// free-everything-under-a-subtree walk is out of scope here — placement
// strategy and compaction are the blob allocator's business, not this
// shell's — so an erased database's pages remain allocated until the whole
// environment is erased.
func (env *Environment) EraseDB(name string) error {
	env.mu.Lock()
	defer env.mu.Unlock()

	db, ok := env.dbs[name]
	if !ok {
		return fmt.Errorf("lanterndb: erase_db %q: %w", name, errs.ErrInvalidParameter)
	}
	if err := env.closeDatabaseLocked(db); err != nil {
		return err
	}
	delete(env.dbs, name)
	return env.persistMetaLocked()
}

// Close closes the database's WAL. Any cursors still registered on it are
// invalidated first.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for x := db.cursors.Front(); x != nil; x = db.cursors.Next(x) {
		x.(*cursor.Cursor).Close()
	}
	if db.wal != nil {
		return db.wal.Close()
	}
	return nil
}

// SetCompareFunc installs a user whole-key comparator.
func (db *Database) SetCompareFunc(f keycmp.CompareFunc) {
	db.cmp.SetCompareFunc(f)
}

// SetPrefixCompareFunc installs a user prefix comparator, invoked on the
// bytes resident in a node before either key's tail is materialized.
func (db *Database) SetPrefixCompareFunc(f keycmp.PrefixFunc) {
	db.cmp.SetPrefixFunc(f)
}

// makeKey splits raw into its inline prefix and, if raw is longer than the
// database's key size, an extended tail pushed to the blob store.
func (db *Database) makeKey(raw []byte) (keycmp.Key, error) {
	if len(raw) <= db.keySize {
		return keycmp.Key{Data: append([]byte(nil), raw...)}, nil
	}
	tailID, err := db.env.blobs.Write(raw[db.keySize:])
	if err != nil {
		return keycmp.Key{}, fmt.Errorf("lanterndb: extend key: %w", err)
	}
	return keycmp.Key{Data: append([]byte(nil), raw[:db.keySize]...), Extended: true, BlobID: tailID}, nil
}

// Insert stores record under key. With t non-nil the write is staged in
// the transaction's op-tree instead of applied to the B-tree immediately.
// InsertDuplicateBefore/After require going through a Cursor, since they
// are resolved relative to the cursor's currently coupled duplicate; here
// they report ErrInvalidParameter.
func (db *Database) Insert(t *Transaction, key, record []byte, flags InsertFlags) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if flags&(InsertDuplicateBefore|InsertDuplicateAfter) != 0 {
		return fmt.Errorf("lanterndb: insert %q: duplicate before/after requires Cursor.Insert: %w", key, errs.ErrInvalidParameter)
	}
	if t != nil {
		return db.insertTxnLocked(t, key, record, flags)
	}
	return db.insertDirectLocked(key, record, flags)
}

func (db *Database) insertDirectLocked(key, record []byte, flags InsertFlags) error {
	k, err := db.makeKey(key)
	if err != nil {
		return err
	}
	valueID, err := db.env.blobs.Write(record)
	if err != nil {
		return fmt.Errorf("lanterndb: insert: %w", err)
	}

	overwrite := flags&InsertOverwrite != 0
	duplicate := flags&InsertDuplicate != 0
	if err := db.tree.Insert(k, valueID, overwrite, duplicate); err != nil {
		return fmt.Errorf("lanterndb: insert %q: %w", key, err)
	}

	if db.wal != nil {
		op := walog.OpInsert
		switch {
		case overwrite:
			op = walog.OpInsertOverwrite
		case duplicate:
			op = walog.OpInsertDuplicate
		}
		if err := db.wal.Append(&walog.Entry{Op: op, Key: key, Value: record}); err != nil {
			return fmt.Errorf("lanterndb: insert: wal: %w", err)
		}
	}
	return nil
}

func (db *Database) insertTxnLocked(t *Transaction, key, record []byte, flags InsertFlags) error {
	valueID, err := db.env.blobs.Write(record)
	if err != nil {
		return fmt.Errorf("lanterndb: insert: %w", err)
	}
	encoded := encodeValueID(valueID)

	if flags&InsertDuplicate != 0 {
		_, err = t.inner.InsertDuplicate(key, encoded, duplicatePositionFromFlags(flags), -1)
	} else {
		_, err = t.inner.Insert(key, encoded, flags&InsertOverwrite != 0)
	}
	if err != nil {
		return fmt.Errorf("lanterndb: insert %q: %w", key, err)
	}

	if db.wal != nil {
		walOp := walog.OpInsert
		switch {
		case flags&InsertOverwrite != 0:
			walOp = walog.OpInsertOverwrite
		case flags&InsertDuplicate != 0:
			walOp = walog.OpInsertDuplicate
		}
		if err := db.wal.Append(&walog.Entry{Op: walOp, TxnID: t.id, Key: key, Value: record}); err != nil {
			return fmt.Errorf("lanterndb: insert: wal: %w", err)
		}
	}
	return nil
}

// duplicatePositionFromFlags maps a direct (cursor-less) duplicate insert's
// flags to a position. Before/After are rejected by the caller before this
// runs, since they need a cursor's currently-coupled duplicate as their
// anchor — see Cursor.Insert.
func duplicatePositionFromFlags(flags InsertFlags) txn.DuplicatePosition {
	if flags&InsertDuplicateFirst != 0 {
		return txn.PositionFirst
	}
	return txn.PositionLast
}

// Find looks up key, scoped to t's pending writes if t is non-nil.
func (db *Database) Find(t *Transaction, key []byte) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c := db.newCursorLocked(t)
	defer func() {
		c.Unregister(&db.cursors)
		c.Close()
	}()

	k, err := db.makeKey(key)
	if err != nil {
		return nil, err
	}
	if err := c.Find(k); err != nil {
		return nil, fmt.Errorf("lanterndb: find %q: %w", key, err)
	}
	valueID, err := c.Value()
	if err != nil {
		return nil, err
	}
	return db.env.blobs.Read(valueID)
}

// Erase removes key, scoped to t's pending writes if t is non-nil.
func (db *Database) Erase(t *Transaction, key []byte, flags EraseFlags) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if t != nil {
		if _, err := t.inner.Erase(key, flags&EraseAll != 0, 0); err != nil {
			return fmt.Errorf("lanterndb: erase %q: %w", key, err)
		}
		if db.wal != nil {
			if err := db.wal.Append(&walog.Entry{Op: walog.OpErase, TxnID: t.id, Key: key}); err != nil {
				return fmt.Errorf("lanterndb: erase: wal: %w", err)
			}
		}
		return nil
	}

	k, err := db.makeKey(key)
	if err != nil {
		return err
	}
	if err := db.tree.Erase(k, flags&EraseAll != 0, 0); err != nil {
		return fmt.Errorf("lanterndb: erase %q: %w", key, err)
	}
	if db.wal != nil {
		if err := db.wal.Append(&walog.Entry{Op: walog.OpErase, Key: key}); err != nil {
			return fmt.Errorf("lanterndb: erase: wal: %w", err)
		}
	}
	return nil
}

// KeyCount returns the number of distinct keys stored. It does not count
// duplicates, only distinct keys.
func (db *Database) KeyCount() (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	count := 0
	key, _, found, err := db.tree.Min()
	if err != nil {
		return 0, err
	}
	for found {
		count++
		key, _, found, err = db.tree.Next(key)
		if err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Cursor opens a new cursor on the database, optionally scoped to t's
// pending writes.
func (db *Database) Cursor(t *Transaction) *Cursor {
	db.mu.Lock()
	defer db.mu.Unlock()
	c := &Cursor{db: db, inner: db.newCursorLocked(t)}
	if t != nil {
		c.txnID = t.id
	}
	return c
}

func (db *Database) newCursorLocked(t *Transaction) *cursor.Cursor {
	var inner *txn.Transaction
	if t != nil {
		inner = t.inner
	}
	c := cursor.New(db.tree, inner)
	c.Register(&db.cursors)
	return c
}

// applyTxnOps folds a committed transaction's pending ops into the B-tree,
// one key at a time, using internal/dupecache to compute the exact merged
// duplicate order — the same computation a cursor uses to preview a
// transaction's effect, now used to make it permanent.
func (db *Database) applyTxnOps(t *txn.Transaction) error {
	var applyErr error
	t.Ops().Range(func(rawKey []byte, ops []*txn.Op) bool {
		k, err := db.makeKey(rawKey)
		if err != nil {
			applyErr = err
			return false
		}
		values, found, err := db.tree.Search(k)
		if err != nil {
			applyErr = err
			return false
		}
		btreeCount := 0
		if found {
			btreeCount = len(values)
		}

		merged := dupecache.New()
		merged.Rebuild(btreeCount, ops)

		final := make([]uint64, merged.Len())
		for i := 0; i < merged.Len(); i++ {
			line := merged.At(i)
			if line.FromBTree {
				final[i] = values[line.BTreeIdx]
			} else {
				final[i] = decodeValueID(line.Op.Value)
			}
		}
		if err := db.tree.Replace(k, final); err != nil {
			applyErr = err
			return false
		}
		return true
	})
	return applyErr
}

// replayWAL reapplies every entry logged before a prior close without a
// matching checkpoint, then truncates the log. Entries outside any
// transaction (TxnID 0) are applied immediately; entries inside a
// transaction are buffered until a matching commit marker is seen, and
// discarded on abort or if the log ends without one — an in-flight,
// never-committed transaction does not survive a restart.
func (db *Database) replayWAL() error {
	entries, err := db.wal.ReadAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	pending := make(map[uint64][]*walog.Entry)
	for _, e := range entries {
		switch e.Op {
		case walog.OpTxnBegin:
			pending[e.TxnID] = nil
		case walog.OpTxnCommit:
			for _, pe := range pending[e.TxnID] {
				if err := db.replayApply(pe); err != nil {
					return err
				}
			}
			delete(pending, e.TxnID)
		case walog.OpTxnAbort:
			delete(pending, e.TxnID)
		default:
			if e.TxnID == 0 {
				if err := db.replayApply(e); err != nil {
					return err
				}
			} else {
				pending[e.TxnID] = append(pending[e.TxnID], e)
			}
		}
	}
	return db.wal.Truncate()
}

func (db *Database) replayApply(e *walog.Entry) error {
	k, err := db.makeKey(e.Key)
	if err != nil {
		return err
	}
	if e.Op == walog.OpErase {
		if err := db.tree.Erase(k, true, 0); err != nil && !errors.Is(err, errs.ErrKeyNotFound) {
			return err
		}
		return nil
	}
	valueID, err := db.env.blobs.Write(e.Value)
	if err != nil {
		return err
	}
	overwrite := e.Op == walog.OpInsertOverwrite
	duplicate := e.Op == walog.OpInsertDuplicate
	return db.tree.Insert(k, valueID, overwrite, duplicate)
}
