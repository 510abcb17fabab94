package storage

import (
	"context"
	"sync"
)

// LockManager owns the PageLock for every page currently resident in the
// buffer pool and tracks, per transaction, which pages it holds a lock on
// so BufferPool.TransactionComplete can release them all at commit or
// abort.
type LockManager struct {
	mu       sync.Mutex
	locks    map[PageId]*PageLock
	held     map[TransactionId]map[PageId]struct{}
	detector *DeadlockDetector
}

// NewLockManager creates a LockManager that registers every wait with
// detector.
func NewLockManager(detector *DeadlockDetector) *LockManager {
	return &LockManager{
		locks:    make(map[PageId]*PageLock),
		held:     make(map[TransactionId]map[PageId]struct{}),
		detector: detector,
	}
}

// lockFor returns the PageLock for id, creating one if this is the page's
// first appearance in the pool. A PageLock's lifetime equals its page's
// pool residency, so ForgetPage must be called when the page is evicted.
func (lm *LockManager) lockFor(id PageId) *PageLock {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	pl, ok := lm.locks[id]
	if !ok {
		pl = NewPageLock(id, lm.detector)
		lm.locks[id] = pl
	}
	return pl
}

// AcquireShared blocks until tid holds S on id, or returns ErrAborted if
// the detector wounds tid first.
func (lm *LockManager) AcquireShared(ctx context.Context, tid TransactionId, id PageId) error {
	pl := lm.lockFor(id)
	if err := pl.SLock(ctx, tid); err != nil {
		return err
	}
	lm.recordHeld(tid, id)
	return nil
}

// AcquireExclusive blocks until tid holds X on id, or returns ErrAborted
// if the detector wounds tid first.
func (lm *LockManager) AcquireExclusive(ctx context.Context, tid TransactionId, id PageId) error {
	pl := lm.lockFor(id)
	if err := pl.XLock(ctx, tid); err != nil {
		return err
	}
	lm.recordHeld(tid, id)
	return nil
}

func (lm *LockManager) recordHeld(tid TransactionId, id PageId) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	set, ok := lm.held[tid]
	if !ok {
		set = make(map[PageId]struct{})
		lm.held[tid] = set
	}
	set[id] = struct{}{}
}

// HoldsLock reports whether tid holds any lock (S or X) on id.
func (lm *LockManager) HoldsLock(tid TransactionId, id PageId) bool {
	lm.mu.Lock()
	pl, ok := lm.locks[id]
	lm.mu.Unlock()
	if !ok {
		return false
	}
	return pl.HoldsLock(tid)
}

// IsLocked reports whether any transaction currently holds id's lock.
func (lm *LockManager) IsLocked(id PageId) bool {
	lm.mu.Lock()
	pl, ok := lm.locks[id]
	lm.mu.Unlock()
	if !ok {
		return false
	}
	return len(pl.GetHolders()) > 0
}

// UnsafeRelease drops tid's lock on id outside the normal commit/abort
// path, bypassing two-phase locking. The name documents the risk:
// callers (typically scan operators releasing a read lock early) accept
// that this can violate serializability.
func (lm *LockManager) UnsafeRelease(tid TransactionId, id PageId) {
	lm.mu.Lock()
	pl, ok := lm.locks[id]
	if ok {
		if set := lm.held[tid]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(lm.held, tid)
			}
		}
	}
	lm.mu.Unlock()
	if ok {
		pl.ReleaseAll(tid)
	}
}

// ReleaseAll releases every lock tid holds, in no particular order, and
// clears tid's bookkeeping. Safe to call even if tid holds nothing.
func (lm *LockManager) ReleaseAll(tid TransactionId) {
	lm.mu.Lock()
	ids := lm.held[tid]
	delete(lm.held, tid)
	locks := make([]*PageLock, 0, len(ids))
	for id := range ids {
		if pl, ok := lm.locks[id]; ok {
			locks = append(locks, pl)
		}
	}
	lm.mu.Unlock()

	for _, pl := range locks {
		pl.ReleaseAll(tid)
	}
}

// ForgetPage drops the PageLock for id entirely. BufferPool calls this
// when a page is evicted or removed so a later reload starts with a fresh
// PageLock rather than inheriting stale holders.
func (lm *LockManager) ForgetPage(id PageId) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	delete(lm.locks, id)
}

// PagesHeldBy returns a snapshot of the PageIds tid currently holds a lock
// on, for diagnostics and tests.
func (lm *LockManager) PagesHeldBy(tid TransactionId) []PageId {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	ids := lm.held[tid]
	out := make([]PageId, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// LockManagerStats is a read-only snapshot of the lock manager's
// bookkeeping: never load-bearing for correctness, useful for the demo
// driver and diagnostics.
type LockManagerStats struct {
	ActiveTransactions int
	PagesTracked       int
}

// Stats returns a snapshot of how many transactions currently hold at
// least one lock and how many distinct pages have a live PageLock.
func (lm *LockManager) Stats() LockManagerStats {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return LockManagerStats{
		ActiveTransactions: len(lm.held),
		PagesTracked:       len(lm.locks),
	}
}
