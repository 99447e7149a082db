// Package pagecache implements an LRU page cache: a fixed byte budget
// shared with the extended key cache, and pinned or delete-pending pages
// exempt from eviction. Victims are taken in the LRU backend's eviction
// order; each page's CacheCounter is stamped on Put and on a hit but is
// not consulted when choosing a victim.
package pagecache

import (
	"fmt"
	"sync"

	"github.com/segmentio/datastructures/v2/cache"

	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/page"
)

// Cache is the page cache. Each method takes the cache's own lock.
type Cache struct {
	mu       sync.Mutex
	backend  cache.Cache[uint64, *page.Page]
	budget   *Budget
	pageSize int
	counter  uint64

	// FlushDirty is called on a page about to be evicted, before it leaves
	// the cache. A nil value means dirty pages are evicted unwritten, which
	// is only safe for an in-memory database.
	FlushDirty func(*page.Page) error
}

// New constructs a page cache that shares budget with the owning database's
// extended key cache.
func New(budget *Budget, pageSize int) *Cache {
	c := &Cache{budget: budget, pageSize: pageSize}
	c.backend.Init(new(cache.LRU[uint64, *page.Page]))
	return c
}

// Get returns the cached page for addr, bumping its recency counter.
func (c *Cache) Get(addr uint64) (*page.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, found := c.backend.Lookup(addr)
	if found {
		c.counter++
		p.CacheCounter = c.counter
	}
	return p, found
}

// Put inserts p into the cache, evicting unpinned pages as needed to stay
// within budget. It returns errs.ErrCacheFull if every resident page is
// pinned and the budget still cannot accommodate p.
func (c *Cache) Put(p *page.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for !c.budget.CanAdd(c.pageSize) {
		if !c.evictOneLocked() {
			return fmt.Errorf("pagecache: put page %d: %w", p.Self, errs.ErrCacheFull)
		}
	}

	c.counter++
	p.CacheCounter = c.counter
	if _, replaced := c.backend.Insert(p.Self, p); replaced {
		c.budget.RemovePage(c.pageSize)
	}
	c.budget.AddPage(c.pageSize)
	return nil
}

// Remove evicts addr unconditionally (used when a page is freed).
func (c *Cache) Remove(addr uint64) (*page.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.backend.Delete(addr)
	if ok {
		c.budget.RemovePage(c.pageSize)
	}
	return p, ok
}

// evictOneLocked tries to evict the least-recently-used unpinned page.
// Pinned pages encountered along the way are reinserted so the cache's
// membership is unaffected by the scan; it reports false only if every
// resident page is pinned.
func (c *Cache) evictOneLocked() bool {
	attempts := c.backend.Len()
	for i := 0; i < attempts; i++ {
		addr, p, ok := c.backend.Evict()
		if !ok {
			return false
		}
		if p.Pinned() || p.DeletePending {
			c.backend.Insert(addr, p)
			continue
		}
		if p.Dirty && c.FlushDirty != nil {
			if err := c.FlushDirty(p); err != nil {
				c.backend.Insert(addr, p)
				continue
			}
		}
		c.budget.RemovePage(c.pageSize)
		return true
	}
	return false
}

// Len reports the number of resident pages, exposed for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Len()
}

// Range calls f for every resident page; iteration order is unspecified.
// Used by Flush to find dirty pages.
func (c *Cache) Range(f func(addr uint64, p *page.Page) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend.Range(f)
}
