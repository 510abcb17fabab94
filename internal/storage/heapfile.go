package storage

import (
	"fmt"
	"os"
	"sync"
)

// HeapFile is the bridge collaborator BufferPool uses for page I/O: a
// cache miss calls ReadPage, a flush calls WritePage. It knows nothing
// about caching, locking, or eviction -- those are entirely BufferPool's
// concerns.
type HeapFile interface {
	TableID() uint32
	ReadPage(id PageId) (*Page, error)
	WritePage(p *Page) error
	NumPages() int
	// AllocatePage extends the file by one page and returns it, zeroed
	// and clean, ready to be cached and locked by BufferPool.
	AllocatePage() (*Page, error)
}

// DiskHeapFile is a concrete HeapFile over a single OS file, laid out as
// a sequence of fixed-size pages. Each page begins with an occupancy
// bitmap (one bit per slot, rounded up to a byte) followed by
// fixed-width, zero-padded tuple slots. Free-slot lookup is a plain
// in-memory scan; there is no on-disk free-page log to replay.
type DiskHeapFile struct {
	mu   sync.Mutex
	file *os.File

	tableID  uint32
	pageSize int
	desc     TupleDesc

	tupleWidth   int
	slotsPerPage int
	headerBytes  int

	numPages int
}

// OpenDiskHeapFile opens (creating if necessary) the file at path as a
// heap file for tableID using the given page size and tuple layout.
func OpenDiskHeapFile(path string, tableID uint32, pageSize int, desc TupleDesc) (*DiskHeapFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, WrapDbError("opening heap file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, WrapDbError("statting heap file", err)
	}
	tupleWidth := desc.TupleWidth()
	if tupleWidth <= 0 {
		f.Close()
		panicIllegalArgument("heap file tuple width must be > 0")
	}
	slots := slotsPerPageFor(pageSize, tupleWidth)
	if slots <= 0 {
		f.Close()
		return nil, NewDbError(fmt.Sprintf("page size %d too small for tuple width %d", pageSize, tupleWidth))
	}
	return &DiskHeapFile{
		file:         f,
		tableID:      tableID,
		pageSize:     pageSize,
		desc:         desc,
		tupleWidth:   tupleWidth,
		slotsPerPage: slots,
		headerBytes:  (slots + 7) / 8,
		numPages:     int(info.Size() / int64(pageSize)),
	}, nil
}

// slotsPerPageFor finds the largest slot count such that
// slots*tupleWidth + ceil(slots/8) <= pageSize.
func slotsPerPageFor(pageSize, tupleWidth int) int {
	max := pageSize / tupleWidth
	for slots := max; slots > 0; slots-- {
		header := (slots + 7) / 8
		if slots*tupleWidth+header <= pageSize {
			return slots
		}
	}
	return 0
}

// TableID returns the table this heap file backs.
func (hf *DiskHeapFile) TableID() uint32 { return hf.tableID }

// NumPages returns the number of pages currently allocated on disk.
func (hf *DiskHeapFile) NumPages() int {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.numPages
}

// SlotsPerPage returns how many fixed-width tuple slots fit on one page
// under this file's layout.
func (hf *DiskHeapFile) SlotsPerPage() int { return hf.slotsPerPage }

// TupleDesc returns the tuple layout this file was opened with.
func (hf *DiskHeapFile) TupleDesc() TupleDesc { return hf.desc }

// ReadPage reads page id.PageNumber from disk. It does not touch the
// buffer pool or any lock.
func (hf *DiskHeapFile) ReadPage(id PageId) (*Page, error) {
	if id.TableID != hf.tableID {
		panicIllegalArgument("ReadPage: table mismatch, got %d want %d", id.TableID, hf.tableID)
	}
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if int(id.PageNumber) >= hf.numPages {
		return nil, NewDbError(fmt.Sprintf("page %v out of range (numPages=%d)", id, hf.numPages))
	}
	buf := make([]byte, hf.pageSize)
	off := int64(id.PageNumber) * int64(hf.pageSize)
	if _, err := hf.file.ReadAt(buf, off); err != nil {
		return nil, WrapDbError(fmt.Sprintf("reading page %v", id), err)
	}
	p := &Page{id: id, data: buf}
	return p, nil
}

// WritePage flushes p's in-memory bytes to its page's offset on disk.
func (hf *DiskHeapFile) WritePage(p *Page) error {
	if p.id.TableID != hf.tableID {
		panicIllegalArgument("WritePage: table mismatch, got %d want %d", p.id.TableID, hf.tableID)
	}
	hf.mu.Lock()
	defer hf.mu.Unlock()
	if int(p.id.PageNumber) >= hf.numPages {
		return NewDbError(fmt.Sprintf("page %v out of range (numPages=%d)", p.id, hf.numPages))
	}
	off := int64(p.id.PageNumber) * int64(hf.pageSize)
	if _, err := hf.file.WriteAt(p.data, off); err != nil {
		return WrapDbError(fmt.Sprintf("writing page %v", p.id), err)
	}
	return nil
}

// AllocatePage extends the heap file by one zeroed page and returns it.
func (hf *DiskHeapFile) AllocatePage() (*Page, error) {
	hf.mu.Lock()
	pageNum := hf.numPages
	hf.numPages++
	hf.mu.Unlock()

	id := PageId{TableID: hf.tableID, PageNumber: uint32(pageNum)}
	p := NewPage(id, hf.pageSize)
	if err := hf.WritePage(p); err != nil {
		return nil, err
	}
	return p, nil
}

// IsSlotOccupied reports whether slot on page is marked occupied in the
// page's header bitmap.
func (hf *DiskHeapFile) IsSlotOccupied(page *Page, slot int) bool {
	hf.checkSlot(slot)
	byteIdx, bit := slot/8, uint(slot%8)
	return page.data[byteIdx]&(1<<bit) != 0
}

// SetSlotOccupied sets or clears slot's occupancy bit. Callers must hold
// the page's PageLock in X mode.
func (hf *DiskHeapFile) SetSlotOccupied(page *Page, slot int, occupied bool) {
	hf.checkSlot(slot)
	byteIdx, bit := slot/8, uint(slot%8)
	if occupied {
		page.data[byteIdx] |= 1 << bit
	} else {
		page.data[byteIdx] &^= 1 << bit
	}
}

// SlotBytes returns the sub-slice of page.Data() holding slot's tuple
// bytes, after the occupancy header.
func (hf *DiskHeapFile) SlotBytes(page *Page, slot int) []byte {
	hf.checkSlot(slot)
	start := hf.headerBytes + slot*hf.tupleWidth
	return page.data[start : start+hf.tupleWidth]
}

// FindFreeSlot returns the lowest-numbered unoccupied slot on page, or
// (0, false) if the page is full.
func (hf *DiskHeapFile) FindFreeSlot(page *Page) (int, bool) {
	for slot := 0; slot < hf.slotsPerPage; slot++ {
		if !hf.IsSlotOccupied(page, slot) {
			return slot, true
		}
	}
	return 0, false
}

// CountOccupied returns how many slots on page are currently occupied.
func (hf *DiskHeapFile) CountOccupied(page *Page) int {
	n := 0
	for slot := 0; slot < hf.slotsPerPage; slot++ {
		if hf.IsSlotOccupied(page, slot) {
			n++
		}
	}
	return n
}

// PutTuple writes tuple into slot's bytes, zero-padding or truncating to
// the file's fixed tuple width, and marks the slot occupied.
func (hf *DiskHeapFile) PutTuple(page *Page, slot int, tuple []byte) {
	dst := hf.SlotBytes(page, slot)
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, tuple)
	hf.SetSlotOccupied(page, slot, true)
}

// ClearTuple zero-fills slot's bytes and marks it unoccupied.
func (hf *DiskHeapFile) ClearTuple(page *Page, slot int) {
	dst := hf.SlotBytes(page, slot)
	for i := range dst {
		dst[i] = 0
	}
	hf.SetSlotOccupied(page, slot, false)
}

func (hf *DiskHeapFile) checkSlot(slot int) {
	if slot < 0 || slot >= hf.slotsPerPage {
		panicIllegalArgument("slot %d out of range [0,%d)", slot, hf.slotsPerPage)
	}
}

// Close closes the underlying file.
func (hf *DiskHeapFile) Close() error {
	hf.mu.Lock()
	defer hf.mu.Unlock()
	return hf.file.Close()
}
