// Package pageio implements §4.1 of the storage core: reading, writing, and
// allocating fixed-size pages against a backing file, either through a
// memory mapping or through positional read/write. Concurrency is left to
// the caller — a single Pager is serialized by the owning database's lock.
package pageio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/lanterndb/lanterndb/internal/errs"
	"github.com/lanterndb/lanterndb/internal/page"
)

const (
	magic   = 0x4c4e5452 // "LNTR"
	version = 1

	// headerPageOffset and freelistPageOffset are reserved; user pages start
	// at offset 2*pageSize.
	headerPageOffset   = 0
	freelistPageOffset = 1
)

// AllocFlags controls AllocPageDevice.
type AllocFlags struct {
	IgnoreFreelist bool
}

// Pager is the contract the rest of the storage core depends on: read,
// write, and allocate pages. Node split/merge, the freelist's internal
// placement strategy, and the blob allocator are out of the core's scope —
// this type only needs to read, write, and allocate fixed-size pages.
type Pager interface {
	PageSize() int
	InMemory() bool
	ReadPage(addr uint64) (*page.Page, error)
	WritePage(p *page.Page) error
	AllocPageDevice(flags AllocFlags, typ page.Type) (*page.Page, error)
	FreePage(addr uint64) error
	Flush() error
	Close() error
}

// FilePager implements Pager against an *os.File, in either mmap or
// positional-I/O mode, and also implements the in-memory special case when
// no file is opened at all.
type FilePager struct {
	file     *os.File
	pageSize int
	useMmap  bool
	mm       mmap.MMap
	fileSize int64
	freelist *freeList

	inMemory    bool
	nextInMemID uint64
	memPages    map[uint64]*page.Page
}

// Open opens or creates path. When path is empty the pager runs in the
// in-memory special case: no file, no mmap, self-addresses are synthetic.
// Since there is no file backing a page, the page objects handed out by
// AllocPageDevice are the only copy of their bytes and must be retained for
// later ReadPage calls to find.
func Open(path string, pageSize int, useMmap bool) (*FilePager, error) {
	if path == "" {
		return &FilePager{
			pageSize:    pageSize,
			inMemory:    true,
			nextInMemID: uint64(pageSize),
			memPages:    make(map[uint64]*page.Page),
		}, nil
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("pageio: open %q: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("pageio: stat %q: %w", path, err)
	}

	p := &FilePager{
		file:     file,
		pageSize: pageSize,
		useMmap:  useMmap,
		fileSize: stat.Size(),
		freelist: newFreeList(),
	}

	if stat.Size() == 0 {
		if err := p.initLayout(); err != nil {
			file.Close()
			return nil, err
		}
	} else {
		if err := p.loadLayout(); err != nil {
			file.Close()
			return nil, err
		}
	}

	if useMmap {
		if err := p.remap(); err != nil {
			file.Close()
			return nil, err
		}
	}

	return p, nil
}

func (p *FilePager) PageSize() int  { return p.pageSize }
func (p *FilePager) InMemory() bool { return p.inMemory }

func (p *FilePager) initLayout() error {
	p.fileSize = int64(p.pageSize) * 2
	if err := p.file.Truncate(p.fileSize); err != nil {
		return fmt.Errorf("pageio: init layout: %w", err)
	}

	header := make([]byte, p.pageSize)
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], uint32(p.pageSize))
	if _, err := p.file.WriteAt(header, headerPageOffset*int64(p.pageSize)); err != nil {
		return fmt.Errorf("pageio: write header: %w", err)
	}

	fl := make([]byte, p.pageSize)
	if _, err := p.file.WriteAt(fl, freelistPageOffset*int64(p.pageSize)); err != nil {
		return fmt.Errorf("pageio: write freelist: %w", err)
	}
	return nil
}

func (p *FilePager) loadLayout() error {
	header := make([]byte, p.pageSize)
	if _, err := io.ReadFull(io.NewSectionReader(p.file, headerPageOffset*int64(p.pageSize), int64(p.pageSize)), header); err != nil {
		return fmt.Errorf("pageio: read header: %w: %w", errs.ErrIO, err)
	}
	if got := binary.LittleEndian.Uint32(header[0:4]); got != magic {
		return fmt.Errorf("pageio: bad magic %x: %w", got, errs.ErrInvalidParameter)
	}
	if recorded := int(binary.LittleEndian.Uint32(header[8:12])); recorded > 0 {
		p.pageSize = recorded
	}

	fl := make([]byte, p.pageSize)
	if _, err := io.ReadFull(io.NewSectionReader(p.file, freelistPageOffset*int64(p.pageSize), int64(p.pageSize)), fl); err != nil {
		return fmt.Errorf("pageio: read freelist: %w: %w", errs.ErrIO, err)
	}
	p.freelist = deserializeFreeList(fl)
	return nil
}

func (p *FilePager) saveFreelist() error {
	buf := make([]byte, p.pageSize)
	p.freelist.serialize(buf)
	if p.useMmap {
		copy(p.mm[freelistPageOffset*int64(p.pageSize):], buf)
		return nil
	}
	_, err := p.file.WriteAt(buf, freelistPageOffset*int64(p.pageSize))
	if err != nil {
		return fmt.Errorf("pageio: save freelist: %w: %w", errs.ErrIO, err)
	}
	return nil
}

func (p *FilePager) remap() error {
	if p.mm != nil {
		if err := p.mm.Unmap(); err != nil {
			return fmt.Errorf("pageio: unmap: %w", err)
		}
	}
	mm, err := mmap.MapRegion(p.file, int(p.fileSize), mmap.RDWR, 0, 0)
	if err != nil {
		return fmt.Errorf("pageio: mmap: %w", err)
	}
	p.mm = mm
	return nil
}

// ReadPage reads the page at addr. Fails with errs.ErrIO on a short read or
// past-EOF access.
func (p *FilePager) ReadPage(addr uint64) (*page.Page, error) {
	if p.inMemory {
		pg, ok := p.memPages[addr]
		if !ok {
			return nil, fmt.Errorf("pageio: read_page %d: %w", addr, errs.ErrKeyNotFound)
		}
		return pg, nil
	}
	if int64(addr)+int64(p.pageSize) > p.fileSize {
		return nil, fmt.Errorf("pageio: read_page %d past EOF: %w", addr, errs.ErrIO)
	}

	if p.useMmap {
		region := p.mm[addr : addr+uint64(p.pageSize)]
		typ := page.Type(binary.LittleEndian.Uint16(region[0:2]))
		return page.New(addr, typ, mmapSlice(region)), nil
	}

	heap := page.NewHeapBuffer(p.pageSize)
	if _, err := p.file.ReadAt(heap.Bytes(), int64(addr)); err != nil {
		return nil, fmt.Errorf("pageio: read_page %d: %w: %w", addr, errs.ErrIO, err)
	}
	typ := page.Type(binary.LittleEndian.Uint16(heap.Bytes()[0:2]))
	return page.New(addr, typ, heap), nil
}

// WritePage writes p's bytes back to its self offset and clears Dirty. For
// an in-memory pager it records pg as the page at its address instead.
func (p *FilePager) WritePage(pg *page.Page) error {
	if p.inMemory {
		p.memPages[pg.Self] = pg
		pg.Dirty = false
		return nil
	}
	binary.LittleEndian.PutUint16(pg.Bytes()[0:2], uint16(pg.Type))

	if p.useMmap {
		copy(p.mm[pg.Self:pg.Self+uint64(p.pageSize)], pg.Bytes())
		pg.Dirty = false
		return nil
	}
	if _, err := p.file.WriteAt(pg.Bytes(), int64(pg.Self)); err != nil {
		return fmt.Errorf("pageio: write_page %d: %w: %w", pg.Self, errs.ErrIO, err)
	}
	pg.Dirty = false
	return nil
}

// AllocPageDevice allocates a new page, reusing a freed offset unless
// IgnoreFreelist is set, otherwise extending the file by one page.
func (p *FilePager) AllocPageDevice(flags AllocFlags, typ page.Type) (*page.Page, error) {
	if p.inMemory {
		id := p.nextInMemID
		p.nextInMemID += uint64(p.pageSize)
		pg := page.New(id, typ, page.NewHeapBuffer(p.pageSize))
		p.memPages[id] = pg
		return pg, nil
	}

	if !flags.IgnoreFreelist {
		if offset, ok := p.freelist.pop(); ok {
			if err := p.saveFreelist(); err != nil {
				return nil, err
			}
			return p.zeroPageAt(offset, typ)
		}
	}

	offset := uint64(p.fileSize)
	p.fileSize += int64(p.pageSize)
	if err := p.file.Truncate(p.fileSize); err != nil {
		p.fileSize -= int64(p.pageSize)
		return nil, fmt.Errorf("pageio: extend file: %w: %w", errs.ErrIO, err)
	}
	if p.useMmap {
		if err := p.remap(); err != nil {
			return nil, err
		}
	}
	return p.zeroPageAt(offset, typ)
}

func (p *FilePager) zeroPageAt(offset uint64, typ page.Type) (*page.Page, error) {
	zero := make([]byte, p.pageSize)
	binary.LittleEndian.PutUint16(zero[0:2], uint16(typ))

	if p.useMmap {
		copy(p.mm[offset:offset+uint64(p.pageSize)], zero)
		return page.New(offset, typ, mmapSlice(p.mm[offset:offset+uint64(p.pageSize)])), nil
	}
	if _, err := p.file.WriteAt(zero, int64(offset)); err != nil {
		return nil, fmt.Errorf("pageio: zero page %d: %w: %w", offset, errs.ErrIO, err)
	}
	return page.New(offset, typ, page.NewHeapBuffer(p.pageSize)), nil
}

// FreePage marks offset reusable by a future AllocPageDevice call. The
// caller is responsible for having already scrubbed any extended keys
// referencing pages at this offset from the extkey cache.
func (p *FilePager) FreePage(addr uint64) error {
	if p.inMemory {
		delete(p.memPages, addr)
		return nil
	}
	p.freelist.push(addr)
	return p.saveFreelist()
}

func (p *FilePager) Flush() error {
	if p.inMemory {
		return nil
	}
	if p.useMmap {
		if err := p.mm.Flush(); err != nil {
			return fmt.Errorf("pageio: flush mmap: %w", err)
		}
		return nil
	}
	return nil
}

func (p *FilePager) Close() error {
	if p.inMemory {
		return nil
	}
	if p.useMmap && p.mm != nil {
		if err := p.mm.Unmap(); err != nil {
			return fmt.Errorf("pageio: unmap on close: %w", err)
		}
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("pageio: close: %w", err)
	}
	return nil
}

// FreeListSize reports the number of reclaimable page offsets, exposed for
// tests asserting reuse behavior.
func (p *FilePager) FreeListSize() int {
	return p.freelist.size()
}
