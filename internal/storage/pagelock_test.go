package storage

import (
	"context"
	"testing"
	"time"
)

// fakeNotifier records WaitFor/Unwait calls without driving any real
// deadlock detection, so PageLock can be tested in isolation.
type fakeNotifier struct {
	waits   []TransactionId
	unwaits []TransactionId
}

func (f *fakeNotifier) WaitFor(tid TransactionId, lock *PageLock) { f.waits = append(f.waits, tid) }
func (f *fakeNotifier) Unwait(tid TransactionId, lock *PageLock)  { f.unwaits = append(f.unwaits, tid) }

func TestPageLockSharedLocksAreCompatible(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	ctx := context.Background()
	if err := pl.SLock(ctx, 1); err != nil {
		t.Fatalf("SLock(1): %v", err)
	}
	if err := pl.SLock(ctx, 2); err != nil {
		t.Fatalf("SLock(2): %v", err)
	}
	if !pl.HoldsSLock(1) || !pl.HoldsSLock(2) {
		t.Error("both transactions should hold S")
	}
}

func TestPageLockExclusiveExcludesShared(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	ctx := context.Background()
	if err := pl.XLock(ctx, 1); err != nil {
		t.Fatalf("XLock(1): %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- pl.SLock(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("SLock(2) should block while tid 1 holds X")
	case <-time.After(50 * time.Millisecond):
	}

	pl.XUnlock(1)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SLock(2) after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SLock(2) never woke after XUnlock(1)")
	}
}

func TestPageLockSoleHolderUpgrade(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	ctx := context.Background()
	if err := pl.SLock(ctx, 1); err != nil {
		t.Fatalf("SLock: %v", err)
	}
	if err := pl.XLock(ctx, 1); err != nil {
		t.Fatalf("sole-holder upgrade should succeed immediately: %v", err)
	}
	if !pl.HoldsXLock(1) {
		t.Error("tid 1 should now hold X")
	}
	if pl.HoldsSLock(1) {
		t.Error("tid 1 should no longer be tracked as an S holder after upgrading")
	}
}

func TestPageLockUpgradeBlocksBehindOtherSHolder(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	ctx := context.Background()
	pl.SLock(ctx, 1)
	pl.SLock(ctx, 2)

	done := make(chan error, 1)
	go func() { done <- pl.XLock(ctx, 1) }()

	select {
	case <-done:
		t.Fatal("upgrade should block while tid 2 also holds S")
	case <-time.After(50 * time.Millisecond):
	}

	pl.SUnlock(2)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("upgrade after other release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("upgrade never completed after SUnlock(2)")
	}
	if !pl.HoldsXLock(1) {
		t.Error("tid 1 should hold X after upgrade completes")
	}
}

func TestPageLockAbortTokenWoundsWaiter(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	ctx := context.Background()
	pl.XLock(ctx, 1)

	waitCtx, cancel := context.WithCancelCause(context.Background())
	done := make(chan error, 1)
	go func() { done <- pl.SLock(waitCtx, 2) }()

	time.Sleep(20 * time.Millisecond)
	cancel(ErrAborted)

	select {
	case err := <-done:
		if err != ErrAborted {
			t.Fatalf("err = %v, want ErrAborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wounded waiter never returned")
	}
	if pl.HoldsSLock(2) {
		t.Error("wounded waiter should not end up holding S")
	}
}

func TestPageLockBatchGrantsAllSharedWaiters(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	ctx := context.Background()
	pl.XLock(ctx, 1)

	results := make(chan error, 2)
	go func() { results <- pl.SLock(ctx, 2) }()
	go func() { results <- pl.SLock(ctx, 3) }()
	time.Sleep(20 * time.Millisecond)

	pl.XUnlock(1)

	for i := 0; i < 2; i++ {
		select {
		case err := <-results:
			if err != nil {
				t.Fatalf("shared waiter %d: %v", i, err)
			}
		case <-time.After(time.Second):
			t.Fatal("shared waiters never woke")
		}
	}
	if !pl.HoldsSLock(2) || !pl.HoldsSLock(3) {
		t.Error("both shared waiters should have been granted together")
	}
}

func TestPageLockUnlockNotHeldPanics(t *testing.T) {
	pl := NewPageLock(pid(0), &fakeNotifier{})
	defer func() {
		if recover() == nil {
			t.Error("expected panic unlocking a lock not held")
		}
	}()
	pl.SUnlock(1)
}
