package pagecache

import "sync"

// Budget tracks the combined byte usage of the page cache and the extended
// key cache against a single cachesize ceiling: the extkey cache's used
// size is deducted from the same budget as page bytes, not a separate one.
type Budget struct {
	mu         sync.Mutex
	cachesize  int
	pageUsed   int
	extkeyUsed int
}

func NewBudget(cachesize int) *Budget {
	return &Budget{cachesize: cachesize}
}

func (b *Budget) CanAdd(size int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageUsed+b.extkeyUsed+size <= b.cachesize
}

func (b *Budget) AddPage(size int) {
	b.mu.Lock()
	b.pageUsed += size
	b.mu.Unlock()
}

func (b *Budget) RemovePage(size int) {
	b.mu.Lock()
	b.pageUsed -= size
	b.mu.Unlock()
}

func (b *Budget) AddExtkey(size int) {
	b.mu.Lock()
	b.extkeyUsed += size
	b.mu.Unlock()
}

func (b *Budget) RemoveExtkey(size int) {
	b.mu.Lock()
	b.extkeyUsed -= size
	b.mu.Unlock()
}

func (b *Budget) Used() (page, extkey int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageUsed, b.extkeyUsed
}

func (b *Budget) Cachesize() int {
	return b.cachesize
}
