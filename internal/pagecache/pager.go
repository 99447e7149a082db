package pagecache

import (
	"github.com/lanterndb/lanterndb/internal/page"
	"github.com/lanterndb/lanterndb/internal/pageio"
)

// CachedPager decorates a pageio.Pager with a Cache, so every caller above
// it — internal/btree, internal/blobstore — gets cache-backed reads for
// free without taking a dependency on the cache itself. Writes are
// write-through: WritePage always reaches the backend before the page is
// admitted to the cache, so a page resident in the cache is never the only
// copy of its bytes.
type CachedPager struct {
	backend pageio.Pager
	cache   *Cache
}

// NewCachedPager wraps backend with cache.
func NewCachedPager(backend pageio.Pager, cache *Cache) *CachedPager {
	return &CachedPager{backend: backend, cache: cache}
}

func (p *CachedPager) PageSize() int  { return p.backend.PageSize() }
func (p *CachedPager) InMemory() bool { return p.backend.InMemory() }

// ReadPage returns the cached page for addr if resident, otherwise reads
// through to the backend and offers the result to the cache. A cache miss
// on Put (budget exhausted, every resident page pinned) is not an error:
// the page is still returned, just not retained.
func (p *CachedPager) ReadPage(addr uint64) (*page.Page, error) {
	if pg, ok := p.cache.Get(addr); ok {
		return pg, nil
	}
	pg, err := p.backend.ReadPage(addr)
	if err != nil {
		return nil, err
	}
	p.cache.Put(pg)
	return pg, nil
}

// WritePage writes pg through to the backend, then offers it to the cache.
func (p *CachedPager) WritePage(pg *page.Page) error {
	if err := p.backend.WritePage(pg); err != nil {
		return err
	}
	p.cache.Put(pg)
	return nil
}

// AllocPageDevice allocates a new page from the backend and seeds the
// cache with it, since the caller almost always reads it back immediately.
func (p *CachedPager) AllocPageDevice(flags pageio.AllocFlags, typ page.Type) (*page.Page, error) {
	pg, err := p.backend.AllocPageDevice(flags, typ)
	if err != nil {
		return nil, err
	}
	p.cache.Put(pg)
	return pg, nil
}

// FreePage drops addr from the cache before freeing it at the backend, so
// a later allocation reusing the same offset never finds a stale entry.
func (p *CachedPager) FreePage(addr uint64) error {
	p.cache.Remove(addr)
	return p.backend.FreePage(addr)
}

func (p *CachedPager) Flush() error { return p.backend.Flush() }
func (p *CachedPager) Close() error { return p.backend.Close() }
