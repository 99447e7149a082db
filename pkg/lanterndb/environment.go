// Package lanterndb is the public shell: it owns the pager, page cache,
// extended-key cache, and blob store, and exposes an
// Environment/Database/Transaction/Cursor surface on top of the internal
// storage core. It plays the role the teacher's pkg/database package plays
// for sharingan-db, widened from one anonymous database to an environment
// holding any number of named ones.
package lanterndb

import (
	"fmt"
	"os"
	"sync"

	"github.com/lanterndb/lanterndb/internal/blobstore"
	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/extkey"
	"github.com/lanterndb/lanterndb/internal/page"
	"github.com/lanterndb/lanterndb/internal/pagecache"
	"github.com/lanterndb/lanterndb/internal/pageio"
)

// Environment owns the resources a set of named databases share: the page
// file (or in-memory page table), the page and extended-key caches, and
// the blob store. Individual databases differ only in their B-tree root
// and key-size policy.
type Environment struct {
	mu sync.Mutex

	path  string
	flags OpenFlags

	pager       *pageio.FilePager
	cachedPager *pagecache.CachedPager
	budget      *pagecache.Budget
	pageCache   *pagecache.Cache
	extkeys     *extkey.Cache
	blobs       *blobstore.Store

	cfg config

	metaPath string
	dbs      map[string]*Database

	nextTxnID uint64
}

func metaPathFor(path string) string { return path + ".meta" }
func dataPathFor(path string) string { return path + ".db" }

// Create creates a fresh environment at path (or a purely in-memory one if
// flags includes InMemoryDB). It fails with ErrDatabaseAlreadyOpen if a
// data file already exists at path.
func Create(path string, flags OpenFlags, opts ...Option) (*Environment, error) {
	if flags&UseHash != 0 {
		return nil, fmt.Errorf("lanterndb: create: hash indices are reserved: %w", errs.ErrInvalidParameter)
	}
	cfg := newConfig(opts)

	if flags&InMemoryDB != 0 {
		return newEnvironment("", flags, cfg)
	}

	if _, err := os.Stat(dataPathFor(path)); err == nil {
		return nil, fmt.Errorf("lanterndb: create %q: %w", path, errs.ErrDatabaseAlreadyOpen)
	}
	return newEnvironment(path, flags, cfg)
}

// Open resumes an environment previously created at path.
func Open(path string, flags OpenFlags, opts ...Option) (*Environment, error) {
	if flags&InMemoryDB != 0 {
		return nil, fmt.Errorf("lanterndb: open: %w: an in-memory environment cannot be reopened", errs.ErrInvalidParameter)
	}
	if _, err := os.Stat(dataPathFor(path)); err != nil {
		return nil, fmt.Errorf("lanterndb: open %q: %w", path, errs.ErrIO)
	}
	return newEnvironment(path, flags, newConfig(opts))
}

func newEnvironment(path string, flags OpenFlags, cfg config) (*Environment, error) {
	dataPath := ""
	if path != "" {
		dataPath = dataPathFor(path)
	}
	pager, err := pageio.Open(dataPath, cfg.pageSize, flags&UseMmap != 0 && flags&InMemoryDB == 0)
	if err != nil {
		return nil, fmt.Errorf("lanterndb: open pager: %w", err)
	}
	// Open reports the page size actually recorded on disk for an
	// existing file; an in-memory pager always reflects cfg.pageSize.
	pageSize := pager.PageSize()

	budget := pagecache.NewBudget(cfg.cacheSize)
	pageCache := pagecache.New(budget, pageSize)
	pageCache.FlushDirty = func(p *page.Page) error { return pager.WritePage(p) }
	cachedPager := pagecache.NewCachedPager(pager, pageCache)

	env := &Environment{
		path:        path,
		flags:       flags,
		pager:       pager,
		cachedPager: cachedPager,
		budget:      budget,
		pageCache:   pageCache,
		extkeys:     extkey.New(budget, cfg.extkeyBucket),
		blobs:       blobstore.New(cachedPager),
		cfg:         cfg,
		dbs:         make(map[string]*Database),
	}

	if path != "" {
		env.metaPath = metaPathFor(path)
		entries, err := loadMetadata(env.metaPath)
		if err != nil {
			pager.Close()
			return nil, err
		}
		for _, e := range entries {
			db, err := env.resumeDatabase(e)
			if err != nil {
				pager.Close()
				return nil, err
			}
			env.dbs[e.name] = db
		}
	}

	return env, nil
}

// Flush writes every dirty resident page back to disk.
func (env *Environment) Flush() error {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.flushLocked()
}

func (env *Environment) flushLocked() error {
	var firstErr error
	env.pageCache.Range(func(addr uint64, p *page.Page) bool {
		if !p.Dirty {
			return true
		}
		if err := env.pager.WritePage(p); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	if firstErr != nil {
		return firstErr
	}
	return env.pager.Flush()
}

// Close flushes and releases every resource the environment owns,
// including every still-open database. Closing a database always closes
// any cursors still open on it, with or without AutoCleanup. Once the
// directory is persisted, each database's WAL is truncated, since every
// logged write is already in its B-tree.
func (env *Environment) Close(flags CloseFlags) error {
	env.mu.Lock()
	defer env.mu.Unlock()

	if err := env.persistMetaLocked(); err != nil {
		return fmt.Errorf("lanterndb: close: %w", err)
	}

	for name, db := range env.dbs {
		if db.wal != nil {
			if err := db.wal.Truncate(); err != nil {
				return fmt.Errorf("lanterndb: close %q: wal: %w", name, err)
			}
		}
		if err := env.closeDatabaseLocked(db); err != nil {
			return fmt.Errorf("lanterndb: close %q: %w", name, err)
		}
	}
	env.dbs = make(map[string]*Database)

	if err := env.flushLocked(); err != nil {
		return err
	}
	return env.pager.Close()
}

func (env *Environment) closeDatabaseLocked(db *Database) error {
	return db.Close()
}

// GetDatabaseNames returns the names of every database the environment
// currently holds, in no particular order.
func (env *Environment) GetDatabaseNames() []string {
	env.mu.Lock()
	defer env.mu.Unlock()
	names := make([]string, 0, len(env.dbs))
	for name := range env.dbs {
		names = append(names, name)
	}
	return names
}

// Begin starts a transaction, optionally scoped to a named database (an
// empty name is only valid when the environment holds exactly one
// database). EnableTransactions must have been passed to Create/Open.
func (env *Environment) Begin(name string) (*Transaction, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	if env.flags&EnableTransactions == 0 {
		return nil, fmt.Errorf("lanterndb: begin: %w: transactions not enabled", errs.ErrInvalidParameter)
	}

	db, err := env.resolveLocked(name)
	if err != nil {
		return nil, err
	}
	env.nextTxnID++
	return db.beginTxn(env.nextTxnID)
}

func (env *Environment) resolveLocked(name string) (*Database, error) {
	if name != "" {
		db, ok := env.dbs[name]
		if !ok {
			return nil, fmt.Errorf("lanterndb: %q: %w", name, errs.ErrInvalidParameter)
		}
		return db, nil
	}
	if len(env.dbs) != 1 {
		return nil, fmt.Errorf("lanterndb: no database name given and %d databases are open: %w", len(env.dbs), errs.ErrInvalidParameter)
	}
	for _, db := range env.dbs {
		return db, nil
	}
	panic("unreachable")
}

func (env *Environment) persistMetaLocked() error {
	if env.metaPath == "" {
		return nil
	}
	entries := make([]dbEntry, 0, len(env.dbs))
	for name, db := range env.dbs {
		entries = append(entries, dbEntry{name: name, root: db.tree.RootAddr(), keySize: db.keySize})
	}
	return saveMetadata(env.metaPath, entries)
}
