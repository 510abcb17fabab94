package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Permission selects which PageLock mode a BufferPool caller needs.
type Permission int

const (
	ReadOnly Permission = iota
	ReadWrite
)

// BufferPool is the transactional page cache: it caches at most Capacity
// pages, enforces page-granular two-phase locking through a LockManager
// before handing out a page, and applies NO-STEAL (never evict an
// uncommitted dirty page) and FORCE (flush every page a transaction
// dirtied, synchronously, at commit).
type BufferPool struct {
	mu       sync.Mutex
	capacity int
	pages    map[PageId]*Page
	mruTrack *MRU
	files    map[uint32]HeapFile

	locks    *LockManager
	detector *DeadlockDetector

	txMu     sync.Mutex
	txCancel map[TransactionId]context.CancelCauseFunc
	txCtx    map[TransactionId]context.Context

	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

// Stats is a point-in-time snapshot of a BufferPool's cache behavior:
// hit/miss/eviction counters plus current occupancy, useful for the demo
// driver and diagnostics.
type Stats struct {
	Hits, Misses, Evictions int64
	Size, Capacity          int
}

// String renders s with locale-grouped thousands separators, readable at
// a glance in an operator's log line.
func (s Stats) String() string {
	p := message.NewPrinter(language.English)
	return p.Sprintf("pages=%d/%d hits=%d misses=%d evictions=%d", s.Size, s.Capacity, s.Hits, s.Misses, s.Evictions)
}

// Stats returns a snapshot of this pool's hit/miss/eviction counters.
func (bp *BufferPool) Stats() Stats {
	bp.mu.Lock()
	size := len(bp.pages)
	bp.mu.Unlock()
	return Stats{
		Hits:      bp.hits.Load(),
		Misses:    bp.misses.Load(),
		Evictions: bp.evicted.Load(),
		Size:      size,
		Capacity:  bp.capacity,
	}
}

// NewBufferPool creates a pool holding at most capacity pages, backed by
// detector for deadlock detection.
func NewBufferPool(capacity int, detector *DeadlockDetector) *BufferPool {
	if capacity <= 0 {
		panicIllegalArgument("buffer pool capacity must be > 0, got %d", capacity)
	}
	return &BufferPool{
		capacity: capacity,
		pages:    make(map[PageId]*Page),
		mruTrack: NewMRU(capacity),
		files:    make(map[uint32]HeapFile),
		locks:    NewLockManager(detector),
		detector: detector,
		txCancel: make(map[TransactionId]context.CancelCauseFunc),
		txCtx:    make(map[TransactionId]context.Context),
	}
}

// RegisterFile makes hf the backing collaborator for its TableID. Must be
// called before any GetPage call against that table.
func (bp *BufferPool) RegisterFile(hf HeapFile) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.files[hf.TableID()] = hf
}

// BeginTransaction allocates a Transaction, registers its abort token with
// the deadlock detector, and returns it. Callers must eventually call
// TransactionComplete.
func (bp *BufferPool) BeginTransaction() *Transaction {
	t := BeginTransaction()
	ctx, cancel := context.WithCancelCause(context.Background())
	bp.txMu.Lock()
	bp.txCancel[t.ID] = cancel
	bp.txCtx[t.ID] = ctx
	bp.txMu.Unlock()
	bp.detector.RegisterAbortToken(t.ID, cancel)
	return t
}

func (bp *BufferPool) ctxFor(tid TransactionId) context.Context {
	bp.txMu.Lock()
	defer bp.txMu.Unlock()
	if ctx, ok := bp.txCtx[tid]; ok {
		return ctx
	}
	return context.Background()
}

// GetPage returns the page identified by id, first acquiring the
// requested lock mode for tid. It blocks while the lock is unavailable
// and returns ErrAborted if the deadlock detector wounds tid during the
// wait. The pool's own monitor is never held across the PageLock
// acquisition: holding it while blocked on a lock would serialize the
// whole pool.
func (bp *BufferPool) GetPage(tid TransactionId, id PageId, perm Permission) (*Page, error) {
	ctx := bp.ctxFor(tid)
	var err error
	if perm == ReadWrite {
		err = bp.locks.AcquireExclusive(ctx, tid, id)
	} else {
		err = bp.locks.AcquireShared(ctx, tid, id)
	}
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	if p, ok := bp.pages[id]; ok {
		bp.mruTrack.Add(id)
		bp.mu.Unlock()
		bp.hits.Add(1)
		return p, nil
	}
	bp.mu.Unlock()
	bp.misses.Add(1)

	hf, err := bp.fileFor(id.TableID)
	if err != nil {
		return nil, err
	}
	p, err := hf.ReadPage(id)
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	if existing, ok := bp.pages[id]; ok {
		// Lost a race with a concurrent reader of the same page.
		bp.mruTrack.Add(id)
		bp.mu.Unlock()
		return existing, nil
	}
	if len(bp.pages) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			bp.mu.Unlock()
			// tid already holds its requested lock on id, but id will
			// never become resident now: release it immediately rather
			// than leaving tid to hold a lock on a phantom page until
			// TransactionComplete.
			bp.locks.UnsafeRelease(tid, id)
			return nil, err
		}
	}
	bp.pages[id] = p
	bp.mruTrack.Add(id)
	bp.mu.Unlock()
	return p, nil
}

func (bp *BufferPool) fileFor(tableID uint32) (HeapFile, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	hf, ok := bp.files[tableID]
	if !ok {
		return nil, NewDbError(fmt.Sprintf("no heap file registered for table %d", tableID))
	}
	return hf, nil
}

// evictOneLocked picks a page via MRU that is both clean and unlocked and
// drops it from the cache. NO-STEAL forbids evicting a dirty page
// regardless of what MRU picks, and a page some transaction still holds a
// lock on may be mid-flight for that transaction, so candidates are
// walked from most- to least-recently-used until one satisfies both
// conditions. Must be called with bp.mu held.
func (bp *BufferPool) evictOneLocked() error {
	for _, id := range bp.mruTrack.Keys() {
		p, ok := bp.pages[id]
		if !ok || p.IsDirty() || bp.locks.IsLocked(id) {
			continue
		}
		bp.mruTrack.Remove(id)
		delete(bp.pages, id)
		bp.locks.ForgetPage(id)
		bp.evicted.Add(1)
		return nil
	}
	return NewDbError("all pages dirty/locked")
}

// UnsafeReleasePage drops tid's lock (S or X) on id without regard to
// two-phase locking. This is meant for scans that want to release a read
// lock early for performance; the "unsafe" name documents that the
// caller, not the pool, is responsible for any resulting isolation
// violation.
func (bp *BufferPool) UnsafeReleasePage(tid TransactionId, id PageId) {
	bp.locks.UnsafeRelease(tid, id)
}

// RemovePage discards id from the pool's cache without flushing it,
// regardless of dirty state, and forgets its PageLock. Intended for
// recovery and test setup, not for normal transactional use.
func (bp *BufferPool) RemovePage(id PageId) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	delete(bp.pages, id)
	bp.mruTrack.Remove(id)
	bp.locks.ForgetPage(id)
}

// FlushPages writes every page currently dirtied by tid to its heap file
// without ending the transaction or releasing its locks. Intended for
// recovery and test setup.
func (bp *BufferPool) FlushPages(tid TransactionId) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for id, p := range bp.pages {
		owner, dirty := p.DirtiedBy()
		if !dirty || owner != tid {
			continue
		}
		hf, ok := bp.files[id.TableID]
		if !ok {
			return NewDbError(fmt.Sprintf("no heap file registered for table %d", id.TableID))
		}
		if err := hf.WritePage(p); err != nil {
			return WrapDbError(fmt.Sprintf("flushing %v", id), err)
		}
		p.MarkClean()
	}
	return nil
}

// HoldsLock reports whether tid currently holds a lock (S or X) on id.
func (bp *BufferPool) HoldsLock(tid TransactionId, id PageId) bool {
	return bp.locks.HoldsLock(tid, id)
}

// InsertTuple finds or allocates space for tuple in tableID's heap file,
// writing it under tid's exclusive lock, and returns where it landed.
func (bp *BufferPool) InsertTuple(tid TransactionId, tableID uint32, tuple []byte) (PageId, int, error) {
	hf, err := bp.fileFor(tableID)
	if err != nil {
		return PageId{}, 0, err
	}
	dhf, ok := hf.(*DiskHeapFile)
	if !ok {
		return PageId{}, 0, NewDbError("InsertTuple requires a *DiskHeapFile collaborator")
	}

	n := hf.NumPages()
	for pageNum := 0; pageNum < n; pageNum++ {
		id := PageId{TableID: tableID, PageNumber: uint32(pageNum)}
		p, err := bp.GetPage(tid, id, ReadWrite)
		if err != nil {
			return PageId{}, 0, err
		}
		if slot, ok := dhf.FindFreeSlot(p); ok {
			dhf.PutTuple(p, slot, tuple)
			p.MarkDirty(tid)
			return id, slot, nil
		}
	}

	p, err := hf.AllocatePage()
	if err != nil {
		return PageId{}, 0, err
	}

	// Acquire tid's exclusive lock before the page is ever visible in
	// bp.pages: installing it first would let a concurrent GetPage miss
	// evict this clean, apparently-unlocked page out from under the
	// insert still in flight, silently losing the tuple.
	if err := bp.locks.AcquireExclusive(bp.ctxFor(tid), tid, p.id); err != nil {
		return PageId{}, 0, err
	}

	bp.mu.Lock()
	if len(bp.pages) >= bp.capacity {
		if err := bp.evictOneLocked(); err != nil {
			bp.mu.Unlock()
			bp.locks.UnsafeRelease(tid, p.id)
			return PageId{}, 0, err
		}
	}
	bp.pages[p.id] = p
	bp.mruTrack.Add(p.id)
	bp.mu.Unlock()

	slot, ok := dhf.FindFreeSlot(p)
	if !ok {
		return PageId{}, 0, NewDbError("freshly allocated page has no free slot")
	}
	dhf.PutTuple(p, slot, tuple)
	p.MarkDirty(tid)
	return p.id, slot, nil
}

// DeleteTuple removes the tuple at id/slot under tid's exclusive lock.
func (bp *BufferPool) DeleteTuple(tid TransactionId, id PageId, slot int) error {
	hf, err := bp.fileFor(id.TableID)
	if err != nil {
		return err
	}
	dhf, ok := hf.(*DiskHeapFile)
	if !ok {
		return NewDbError("DeleteTuple requires a *DiskHeapFile collaborator")
	}
	p, err := bp.GetPage(tid, id, ReadWrite)
	if err != nil {
		return err
	}
	dhf.ClearTuple(p, slot)
	p.MarkDirty(tid)
	return nil
}

// TransactionComplete ends tid: on commit it force-flushes every page tid
// dirtied; on abort it discards those pages' in-memory contents by
// re-reading them from disk. Either way it releases every lock tid holds
// and retires its abort token.
func (bp *BufferPool) TransactionComplete(tid TransactionId, commit bool) error {
	var firstErr error
	bp.mu.Lock()
	for id, p := range bp.pages {
		owner, dirty := p.DirtiedBy()
		if !dirty || owner != tid {
			continue
		}
		if commit {
			hf, ok := bp.files[id.TableID]
			if !ok {
				if firstErr == nil {
					firstErr = NewDbError(fmt.Sprintf("no heap file registered for table %d", id.TableID))
				}
				continue
			}
			if err := hf.WritePage(p); err != nil {
				// FORCE requires every dirtied page to reach disk before
				// commit is acknowledged; an I/O failure here means FORCE
				// is broken and the process cannot continue safely.
				bp.mu.Unlock()
				logger.Printf("fatal: commit flush failed for %v: %v", id, err)
				exitFunc(1)
				return WrapDbError("commit flush failed", err)
			}
			p.MarkClean()
		} else {
			hf, ok := bp.files[id.TableID]
			if ok {
				if fresh, err := hf.ReadPage(id); err == nil {
					p.data = fresh.data
				}
			}
			p.MarkClean()
		}
	}
	bp.mu.Unlock()

	bp.locks.ReleaseAll(tid)
	bp.detector.UnregisterAbortToken(tid)

	bp.txMu.Lock()
	if cancel, ok := bp.txCancel[tid]; ok {
		cancel(nil)
	}
	delete(bp.txCancel, tid)
	delete(bp.txCtx, tid)
	bp.txMu.Unlock()

	return firstErr
}

// FlushAllPages writes every dirty page in the pool to its heap file,
// regardless of owning transaction. Intended for graceful shutdown, not
// for use mid-transaction: it does not respect NO-STEAL's "uncommitted
// data never touches disk" guarantee.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for id, p := range bp.pages {
		if !p.IsDirty() {
			continue
		}
		hf, ok := bp.files[id.TableID]
		if !ok {
			continue
		}
		if err := hf.WritePage(p); err != nil {
			return WrapDbError(fmt.Sprintf("flushing %v", id), err)
		}
		p.MarkClean()
	}
	return nil
}

// LockStats returns a snapshot of the pool's underlying LockManager
// bookkeeping.
func (bp *BufferPool) LockStats() LockManagerStats {
	return bp.locks.Stats()
}

// Size returns the number of pages currently cached.
func (bp *BufferPool) Size() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.pages)
}
