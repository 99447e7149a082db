// Package blobstore holds record values and extended key tails too large to
// fit inline in a B-tree node. It is a deliberately simple stand-in for the
// teacher's allocator: an append-only log of length-prefixed records, with
// same-size offsets reclaimed from a free list before the log is extended.
// Placement strategy and compaction beyond the free list are out of scope.
package blobstore

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/page"
	"github.com/lanterndb/lanterndb/internal/pageio"
)

const headerSize = 8 // uint64 record length, little-endian

// Store persists blob records as pages of type page.TypeBlob, addressed by
// their page offset (doubling as the blob id used elsewhere in the store).
type Store struct {
	pager    pageio.Pager
	pageSize int
	free     map[int][]uint64 // size class -> free offsets
}

// New wraps pager as a blob store.
func New(pager pageio.Pager) *Store {
	return &Store{pager: pager, pageSize: pager.PageSize(), free: make(map[int][]uint64)}
}

// sizeClass rounds a record's total on-disk size up to a whole number of
// pages, since AllocPageDevice only grants whole pages.
func (s *Store) sizeClass(totalSize int) int {
	pages := (totalSize + s.pageSize - 1) / s.pageSize
	if pages < 1 {
		pages = 1
	}
	return pages
}

// Write stores data as a new blob and returns its id.
func (s *Store) Write(data []byte) (uint64, error) {
	total := headerSize + len(data)
	class := s.sizeClass(total)

	if offsets := s.free[class]; len(offsets) > 0 {
		offset := offsets[len(offsets)-1]
		s.free[class] = offsets[:len(offsets)-1]
		if err := s.writeAt(offset, class, data); err != nil {
			return 0, err
		}
		return offset, nil
	}

	first, err := s.pager.AllocPageDevice(pageio.AllocFlags{IgnoreFreelist: true}, page.TypeBlob)
	if err != nil {
		return 0, fmt.Errorf("blobstore: alloc: %w", err)
	}
	offset := first.Self
	for i := 1; i < class; i++ {
		if _, err := s.pager.AllocPageDevice(pageio.AllocFlags{IgnoreFreelist: true}, page.TypeBlob); err != nil {
			return 0, fmt.Errorf("blobstore: alloc continuation: %w", err)
		}
	}
	if err := s.writeAt(offset, class, data); err != nil {
		return 0, err
	}
	return offset, nil
}

func (s *Store) writeAt(offset uint64, class int, data []byte) error {
	buf := make([]byte, class*s.pageSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(data)))
	copy(buf[headerSize:], data)

	for i := 0; i < class; i++ {
		pg, err := s.pager.ReadPage(offset + uint64(i*s.pageSize))
		if err != nil {
			return fmt.Errorf("blobstore: write: locate page %d: %w", offset+uint64(i*s.pageSize), err)
		}
		copy(pg.Bytes(), buf[i*s.pageSize:(i+1)*s.pageSize])
		pg.Dirty = true
		if err := s.pager.WritePage(pg); err != nil {
			return fmt.Errorf("blobstore: write: %w", err)
		}
	}
	return nil
}

// Read reads back the blob identified by id.
func (s *Store) Read(id uint64) ([]byte, error) {
	first, err := s.pager.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %d: %w", id, err)
	}
	length := binary.LittleEndian.Uint64(first.Bytes()[0:8])
	class := s.sizeClass(headerSize + int(length))

	buf := make([]byte, 0, length)
	buf = append(buf, first.Bytes()[headerSize:]...)
	for i := 1; i < class && len(buf) < int(length); i++ {
		pg, err := s.pager.ReadPage(id + uint64(i*s.pageSize))
		if err != nil {
			return nil, fmt.Errorf("blobstore: read %d continuation: %w", id, err)
		}
		buf = append(buf, pg.Bytes()...)
	}
	if len(buf) > int(length) {
		buf = buf[:length]
	}
	if uint64(len(buf)) < length {
		return nil, fmt.Errorf("blobstore: read %d: truncated blob: %w", id, errs.ErrIO)
	}
	return buf, nil
}

// FetchTail satisfies internal/keycmp.Source, letting the comparator
// materialize an extended key's tail directly from blob storage.
func (s *Store) FetchTail(blobID uint64) ([]byte, error) {
	return s.Read(blobID)
}

// Free releases id's storage for reuse by a future Write of the same size
// class. Blob pages are never handed back to the generic page allocator's
// freelist: a multi-page blob's offsets are only contiguous by construction
// here, and the pager's freelist reclaims single pages independently, so
// mixing the two would let an unrelated page allocation split a blob run.
func (s *Store) Free(id uint64) error {
	first, err := s.pager.ReadPage(id)
	if err != nil {
		return fmt.Errorf("blobstore: free %d: %w", id, err)
	}
	length := binary.LittleEndian.Uint64(first.Bytes()[0:8])
	class := s.sizeClass(headerSize + int(length))

	s.free[class] = append(s.free[class], id)
	sort.Slice(s.free[class], func(i, j int) bool { return s.free[class][i] < s.free[class][j] })
	return nil
}
