// Package extkey implements the extended key cache: a fixed bucket-count
// hash chain, keyed by the blob id holding a key's overflow tail, sharing
// its byte budget with the page cache.
package extkey

import (
	"sync"

	"github.com/lanterndb/lanterndb/internal/pagecache"
)

// DefaultBucketSize is the default bucket count. It must be a power of two;
// the cache is never rehashed, matching the teacher's fixed-size tables.
const DefaultBucketSize = 128

type entry struct {
	blobID uint64
	data   []byte
	next   *entry
}

// Cache is the extended key cache. Each method takes the cache's own lock.
type Cache struct {
	mu      sync.Mutex
	buckets []*entry
	mask    uint64
	budget  *pagecache.Budget
	count   int
}

// New creates a cache with bucketSize buckets, rounded up to the next power
// of two if necessary.
func New(budget *pagecache.Budget, bucketSize int) *Cache {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}
	bucketSize = nextPowerOfTwo(bucketSize)
	return &Cache{
		buckets: make([]*entry, bucketSize),
		mask:    uint64(bucketSize - 1),
		budget:  budget,
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *Cache) bucket(blobID uint64) int {
	return int(hash64(blobID) & c.mask)
}

// hash64 is a fixed-output mixing function (splitmix64 finalizer), used only
// to distribute blob ids across buckets — not a security primitive.
func hash64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Get returns the cached tail bytes for blobID, if resident.
func (c *Cache) Get(blobID uint64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.buckets[c.bucket(blobID)]; e != nil; e = e.next {
		if e.blobID == blobID {
			return e.data, true
		}
	}
	return nil, false
}

// Put inserts or replaces the cached tail for blobID. It reports false,
// making no change, if the shared budget has no room.
func (c *Cache) Put(blobID uint64, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.bucket(blobID)
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.blobID == blobID {
			c.budget.RemoveExtkey(len(e.data))
			if !c.budget.CanAdd(len(data)) {
				c.budget.AddExtkey(len(e.data))
				return false
			}
			c.budget.AddExtkey(len(data))
			e.data = data
			return true
		}
	}

	if !c.budget.CanAdd(len(data)) {
		return false
	}
	c.buckets[idx] = &entry{blobID: blobID, data: data, next: c.buckets[idx]}
	c.budget.AddExtkey(len(data))
	c.count++
	return true
}

// Remove evicts blobID, used when its backing blob is deleted.
func (c *Cache) Remove(blobID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.bucket(blobID)
	var prev *entry
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.blobID == blobID {
			if prev == nil {
				c.buckets[idx] = e.next
			} else {
				prev.next = e.next
			}
			c.budget.RemoveExtkey(len(e.data))
			c.count--
			return
		}
		prev = e
	}
}

// Len reports the number of cached entries, exposed for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
