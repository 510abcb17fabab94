package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultDetectorInterval is the cron "@every" spec used when Config does
// not set one: a 10ms sweep.
const DefaultDetectorInterval = "@every 10ms"

// DeadlockDetector periodically walks the wait-for graph implied by every
// PageLock currently blocking a transaction and wounds the youngest
// transaction in any cycle it finds (WOUND-WAIT). It drives its sweep
// off github.com/robfig/cron/v3 rather than a hand-rolled time.Ticker
// loop.
type DeadlockDetector struct {
	mu        sync.Mutex
	waitingOn map[TransactionId]*PageLock
	tokens    map[TransactionId]context.CancelCauseFunc

	sched    *cron.Cron
	entryID  cron.EntryID
	interval string
}

// NewDeadlockDetector creates a detector that sweeps on the given cron
// "@every" interval. An empty interval falls back to
// DefaultDetectorInterval.
func NewDeadlockDetector(interval string) *DeadlockDetector {
	if interval == "" {
		interval = DefaultDetectorInterval
	}
	return &DeadlockDetector{
		waitingOn: make(map[TransactionId]*PageLock),
		tokens:    make(map[TransactionId]context.CancelCauseFunc),
		sched:     cron.New(),
		interval:  interval,
	}
}

// Start schedules the periodic sweep and starts the underlying cron
// scheduler. It is a no-op if already started.
func (d *DeadlockDetector) Start() error {
	if d.entryID != 0 {
		return nil
	}
	id, err := d.sched.AddFunc(d.interval, d.Sweep)
	if err != nil {
		return fmt.Errorf("storage: scheduling deadlock sweep: %w", err)
	}
	d.entryID = id
	d.sched.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (d *DeadlockDetector) Stop() {
	ctx := d.sched.Stop()
	<-ctx.Done()
}

// RegisterAbortToken associates tid with the CancelCauseFunc that aborts
// its blocked lock waits. BufferPool calls this once per transaction,
// before the transaction's first lock attempt.
func (d *DeadlockDetector) RegisterAbortToken(tid TransactionId, cancel context.CancelCauseFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens[tid] = cancel
}

// UnregisterAbortToken drops tid's bookkeeping at transaction end.
func (d *DeadlockDetector) UnregisterAbortToken(tid TransactionId) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tokens, tid)
	delete(d.waitingOn, tid)
}

// WaitFor records that tid is blocked on lock. Implements deadlockNotifier.
func (d *DeadlockDetector) WaitFor(tid TransactionId, lock *PageLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitingOn[tid] = lock
}

// Unwait clears tid's wait-for edge if it still points at lock. A tid that
// was granted the lock and immediately began waiting on a different one
// must not have its new wait cleared by a stale Unwait call, hence the
// identity check. Implements deadlockNotifier.
func (d *DeadlockDetector) Unwait(tid TransactionId, lock *PageLock) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waitingOn[tid] == lock {
		delete(d.waitingOn, tid)
	}
}

// Sweep runs one deadlock check immediately. Exported so tests can force a
// check without waiting on the cron interval.
func (d *DeadlockDetector) Sweep() {
	edges, tokens := d.snapshot()
	victim, found := detectCycle(edges)
	if !found {
		return
	}
	cancel := tokens[victim]
	if cancel == nil {
		return
	}
	logger.Printf("wounding %v to break a deadlock cycle", victim)
	cancel(ErrAborted)
}

func (d *DeadlockDetector) snapshot() (map[TransactionId][]TransactionId, map[TransactionId]context.CancelCauseFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	edges := make(map[TransactionId][]TransactionId, len(d.waitingOn))
	for tid, lock := range d.waitingOn {
		for _, holder := range lock.GetHolders() {
			if holder != tid {
				edges[tid] = append(edges[tid], holder)
			}
		}
	}
	tokens := make(map[TransactionId]context.CancelCauseFunc, len(d.tokens))
	for tid, cancel := range d.tokens {
		tokens[tid] = cancel
	}
	return edges, tokens
}

// detectCycle runs DFS with a recursion stack over the wait-for graph and
// returns the youngest (numerically largest) TransactionId in the first
// cycle it finds, per WOUND-WAIT.
func detectCycle(edges map[TransactionId][]TransactionId) (TransactionId, bool) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[TransactionId]int)
	var path []TransactionId
	var cycle []TransactionId

	var dfs func(n TransactionId) bool
	dfs = func(n TransactionId) bool {
		color[n] = gray
		path = append(path, n)
		for _, m := range edges[n] {
			switch color[m] {
			case gray:
				for i, p := range path {
					if p == m {
						cycle = append([]TransactionId(nil), path[i:]...)
						return true
					}
				}
			case white:
				if dfs(m) {
					return true
				}
			}
		}
		color[n] = black
		path = path[:len(path)-1]
		return false
	}

	for n := range edges {
		if color[n] == white {
			if dfs(n) {
				return youngest(cycle), true
			}
		}
	}
	return 0, false
}

func youngest(tids []TransactionId) TransactionId {
	max := tids[0]
	for _, t := range tids[1:] {
		if t > max {
			max = t
		}
	}
	return max
}
