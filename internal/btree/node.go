package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/keycmp"
	"github.com/lanterndb/lanterndb/internal/page"
)

// nodeHeaderSize is the fixed prefix every node page carries before its
// variable-length entry area: numKeys(4) + sibling/leftmost(8) + parent(8).
const nodeHeaderSize = 20

// entry is one key in a node. For a leaf, Values holds every duplicate's
// blob id, in storage order — this is the "B-tree's stored duplicate
// table" the duplicate cache merges against (internal/dupecache). For an
// internal node, Child is the page address of the subtree to its right;
// every node also keeps a single Leftmost pointer for the subtree left of
// its first key.
type entry struct {
	Key    keycmp.Key
	Values []uint64 // leaf only
	Child  uint64   // internal only
}

// node is the in-memory, deserialized form of a btree page.
type node struct {
	leaf     bool
	numKeys  int
	sibling  uint64 // leaf: next leaf in key order. 0 if none.
	leftmost uint64 // internal: child left of entries[0].Key. 0 for leaves.
	parent   uint64 // 0 for the root.
	entries  []entry
}

func newLeaf() *node {
	return &node{leaf: true}
}

func newInternal() *node {
	return &node{leaf: false}
}

// decodeNode parses pg's bytes into a node. pg.Type must already have been
// set to TypeBTreeRoot or TypeBTreeIndex by the caller; leaf-ness is
// recorded in the serialized header since both share the same page types.
func decodeNode(pg *page.Page) (*node, error) {
	buf := pg.Bytes()
	if len(buf) < nodeHeaderSize+4 {
		return nil, fmt.Errorf("btree: page %d too small for a node header: %w", pg.Self, errs.ErrInternal)
	}
	off := 2 // skip the page.Type tag pageio already writes
	isLeaf := buf[off] != 0
	off++
	off++ // padding byte

	n := &node{leaf: isLeaf}
	n.numKeys = int(binary.LittleEndian.Uint32(buf[off : off+4]))
	off += 4
	sibOrLeft := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	n.parent = binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	if isLeaf {
		n.sibling = sibOrLeft
	} else {
		n.leftmost = sibOrLeft
	}

	n.entries = make([]entry, 0, n.numKeys)
	for i := 0; i < n.numKeys; i++ {
		if off+3 > len(buf) {
			return nil, fmt.Errorf("btree: page %d: truncated entry %d: %w", pg.Self, i, errs.ErrInternal)
		}
		keyLen := int(binary.LittleEndian.Uint16(buf[off : off+2]))
		off += 2
		extended := buf[off] != 0
		off++
		key := append([]byte(nil), buf[off:off+keyLen]...)
		off += keyLen

		var blobID uint64
		if extended {
			blobID = binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
		}

		e := entry{Key: keycmp.Key{Data: key, Extended: extended, BlobID: blobID}}
		if isLeaf {
			count := int(binary.LittleEndian.Uint32(buf[off : off+4]))
			off += 4
			e.Values = make([]uint64, count)
			for j := 0; j < count; j++ {
				e.Values[j] = binary.LittleEndian.Uint64(buf[off : off+8])
				off += 8
			}
		} else {
			e.Child = binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
		}
		n.entries = append(n.entries, e)
	}
	return n, nil
}

// encodedSize reports how many bytes n needs, used to decide whether an
// insert fits before a split is required.
func (n *node) encodedSize() int {
	size := 4 + nodeHeaderSize // type tag(2) + leaf flag(1) + padding(1)
	for _, e := range n.entries {
		size += 3 + len(e.Key.Data)
		if e.Key.Extended {
			size += 8
		}
		if n.leaf {
			size += 4 + 8*len(e.Values)
		} else {
			size += 8
		}
	}
	return size
}

// encode writes n into pg, which must already be sized to the owning
// pager's page size.
func (n *node) encode(pg *page.Page) error {
	buf := pg.Bytes()
	need := n.encodedSize()
	if need > len(buf) {
		return fmt.Errorf("btree: node needs %d bytes, page holds %d: %w", need, len(buf), errs.ErrLimitsReached)
	}

	off := 2
	if n.leaf {
		buf[off] = 1
	} else {
		buf[off] = 0
	}
	off++
	buf[off] = 0
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(n.entries)))
	off += 4
	if n.leaf {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.sibling)
	} else {
		binary.LittleEndian.PutUint64(buf[off:off+8], n.leftmost)
	}
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], n.parent)
	off += 8

	for _, e := range n.entries {
		binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(e.Key.Data)))
		off += 2
		if e.Key.Extended {
			buf[off] = 1
		} else {
			buf[off] = 0
		}
		off++
		copy(buf[off:], e.Key.Data)
		off += len(e.Key.Data)
		if e.Key.Extended {
			binary.LittleEndian.PutUint64(buf[off:off+8], e.Key.BlobID)
			off += 8
		}
		if n.leaf {
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(e.Values)))
			off += 4
			for _, v := range e.Values {
				binary.LittleEndian.PutUint64(buf[off:off+8], v)
				off += 8
			}
		} else {
			binary.LittleEndian.PutUint64(buf[off:off+8], e.Child)
			off += 8
		}
	}

	for i := off; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}
