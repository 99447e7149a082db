// Package keycmp implements ordering over possibly-extended keys, where
// only a prefix is stored in the B-tree node and the remainder lives in
// the blob store, lazily materialized through the extended key cache.
package keycmp

import (
	"bytes"
	"fmt"

	"github.com/lanterndb/lanterndb/internal/extkey"
)

// Key is a possibly-extended key as stored in a B-tree node: Data holds the
// full key if it fits inline, or the retained prefix plus a pointer to the
// blob holding the rest.
type Key struct {
	Data     []byte
	Extended bool
	BlobID   uint64
}

// Source fetches the tail bytes of an extended key from the blob store.
type Source interface {
	FetchTail(blobID uint64) ([]byte, error)
}

// PrefixFunc is an optional user-supplied comparator invoked with whatever
// prefix bytes are available without materializing either key's tail. It
// returns requestFull=true — the PREFIX_REQUEST_FULLKEY convention — to
// tell the comparator it cannot decide from the prefix alone and the full
// keys must be materialized and compared.
type PrefixFunc func(lhsPrefix, rhsPrefix []byte, lhsFullLen, rhsFullLen int) (cmp int, requestFull bool)

// CompareFunc is a user-supplied whole-key comparator, substituted for
// bytes.Compare at every point a full key (not just a prefix) is compared.
type CompareFunc func(a, b []byte) int

// Comparator orders Keys, materializing extended tails on demand.
type Comparator struct {
	source Source
	cache  *extkey.Cache
	prefix PrefixFunc
	full   CompareFunc
}

// New builds a Comparator. prefix may be nil, in which case prefix bytes are
// compared directly with bytes.Compare before falling back to the full key.
func New(source Source, cache *extkey.Cache, prefix PrefixFunc) *Comparator {
	return &Comparator{source: source, cache: cache, prefix: prefix}
}

// SetCompareFunc installs a user whole-key comparator, replacing the
// default byte-lexicographic order. Passing nil restores the default.
func (c *Comparator) SetCompareFunc(f CompareFunc) { c.full = f }

// SetPrefixFunc installs a user prefix comparator. Passing nil restores the
// default shared-prefix-length comparison.
func (c *Comparator) SetPrefixFunc(f PrefixFunc) { c.prefix = f }

func (c *Comparator) compareFull(a, b []byte) int {
	if c.full != nil {
		return c.full(a, b)
	}
	return bytes.Compare(a, b)
}

// Compare returns -1, 0, or 1 per the usual convention. It returns an error
// only if a tail had to be materialized and the blob store failed.
func (c *Comparator) Compare(lhs, rhs Key) (int, error) {
	// Step 1: neither key is extended — direct comparison, no I/O.
	if !lhs.Extended && !rhs.Extended {
		return c.compareFull(lhs.Data, rhs.Data), nil
	}

	// Step 2: a custom prefix comparator gets first refusal on the bytes
	// already resident in the node, avoiding a blob fetch entirely when it
	// can decide.
	if c.prefix != nil {
		cmp, requestFull := c.prefix(lhs.Data, rhs.Data, lhs.fullLen(), rhs.fullLen())
		if !requestFull {
			return cmp, nil
		}
	} else {
		// Step 3: without a custom comparator, the shared prefix length can
		// still settle the comparison without touching the blob store.
		n := min(len(lhs.Data), len(rhs.Data))
		if cmp := bytes.Compare(lhs.Data[:n], rhs.Data[:n]); cmp != 0 {
			return cmp, nil
		}
		if !lhs.Extended && !rhs.Extended && len(lhs.Data) != len(rhs.Data) {
			return c.compareFull(lhs.Data, rhs.Data), nil
		}
	}

	// Step 4: prefixes tie (or the custom comparator asked for the full
	// key) — materialize both tails and compare in full.
	lfull, err := c.materialize(lhs)
	if err != nil {
		return 0, fmt.Errorf("keycmp: materialize lhs: %w", err)
	}
	rfull, err := c.materialize(rhs)
	if err != nil {
		return 0, fmt.Errorf("keycmp: materialize rhs: %w", err)
	}
	return c.compareFull(lfull, rfull), nil
}

func (k Key) fullLen() int {
	return len(k.Data)
}

// materialize returns k's complete bytes, fetching and caching the tail
// through the extkey cache when k is extended.
func (c *Comparator) materialize(k Key) ([]byte, error) {
	if !k.Extended {
		return k.Data, nil
	}
	if tail, ok := c.cache.Get(k.BlobID); ok {
		return append(append([]byte(nil), k.Data...), tail...), nil
	}
	tail, err := c.source.FetchTail(k.BlobID)
	if err != nil {
		return nil, err
	}
	c.cache.Put(k.BlobID, tail)
	return append(append([]byte(nil), k.Data...), tail...), nil
}
