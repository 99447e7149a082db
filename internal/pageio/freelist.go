package pageio

import "encoding/binary"

// freeList is a plain stack of reclaimed page offsets, consulted by
// AllocPageDevice before the file is extended. Adapted from the teacher's
// pkg/storage/free_list.go: same push/pop/serialize shape, generalized from
// a page-count index to a byte offset.
type freeList struct {
	offsets []uint64
}

func newFreeList() *freeList {
	return &freeList{offsets: make([]uint64, 0)}
}

func (f *freeList) push(offset uint64) {
	f.offsets = append(f.offsets, offset)
}

func (f *freeList) pop() (uint64, bool) {
	if len(f.offsets) == 0 {
		return 0, false
	}
	offset := f.offsets[len(f.offsets)-1]
	f.offsets = f.offsets[:len(f.offsets)-1]
	return offset, true
}

func (f *freeList) size() int {
	return len(f.offsets)
}

// serialize writes the free list into a page-sized buffer: a 4-byte count
// followed by 8-byte offsets.
func (f *freeList) serialize(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(f.offsets)))
	off := 4
	for _, o := range f.offsets {
		binary.LittleEndian.PutUint64(buf[off:off+8], o)
		off += 8
	}
}

func deserializeFreeList(buf []byte) *freeList {
	f := newFreeList()
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		f.offsets = append(f.offsets, binary.LittleEndian.Uint64(buf[off:off+8]))
		off += 8
	}
	return f
}

func maxFreeOffsets(pageSize int) int {
	return (pageSize - 4) / 8
}
