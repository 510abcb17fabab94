package storage

import (
	"context"
	"testing"
	"time"
)

func TestDetectCycleFindsYoungest(t *testing.T) {
	// 1 -> 2 -> 3 -> 1 is a cycle; tid 3 is youngest (largest) and should
	// be the chosen victim.
	edges := map[TransactionId][]TransactionId{
		1: {2},
		2: {3},
		3: {1},
	}
	victim, found := detectCycle(edges)
	if !found {
		t.Fatal("expected a cycle to be found")
	}
	if victim != 3 {
		t.Errorf("victim = %v, want 3", victim)
	}
}

func TestDetectCycleNoneOnAcyclicGraph(t *testing.T) {
	edges := map[TransactionId][]TransactionId{
		1: {2},
		2: {3},
	}
	if _, found := detectCycle(edges); found {
		t.Error("expected no cycle in a DAG")
	}
}

func TestDeadlockDetectorWoundsYoungestInCycle(t *testing.T) {
	d := NewDeadlockDetector("")
	lm := NewLockManager(d)

	pageA, pageB := pid(0), pid(1)

	ctx1, cancel1 := context.WithCancelCause(context.Background())
	ctx2, cancel2 := context.WithCancelCause(context.Background())
	d.RegisterAbortToken(1, cancel1)
	d.RegisterAbortToken(2, cancel2)

	if err := lm.AcquireExclusive(ctx1, 1, pageA); err != nil {
		t.Fatalf("tx1 acquire pageA: %v", err)
	}
	if err := lm.AcquireExclusive(ctx2, 2, pageB); err != nil {
		t.Fatalf("tx2 acquire pageB: %v", err)
	}

	res1 := make(chan error, 1)
	res2 := make(chan error, 1)
	go func() { res1 <- lm.AcquireExclusive(ctx1, 1, pageB) }()
	go func() { res2 <- lm.AcquireExclusive(ctx2, 2, pageA) }()

	// Give both goroutines time to register their wait-for edges.
	time.Sleep(50 * time.Millisecond)
	d.Sweep()

	var aborted TransactionId
	select {
	case err := <-res2:
		if err != ErrAborted {
			t.Fatalf("tx2 err = %v, want ErrAborted", err)
		}
		aborted = 2
		lm.ReleaseAll(2)
	case err := <-res1:
		if err != ErrAborted {
			t.Fatalf("tx1 err = %v, want ErrAborted", err)
		}
		aborted = 1
		lm.ReleaseAll(1)
	case <-time.After(2 * time.Second):
		t.Fatal("neither transaction was wounded")
	}

	// The youngest transaction (tid 2) must be the one wounded, per
	// WOUND-WAIT.
	if aborted != 2 {
		t.Errorf("wounded %v, want tid 2 (the youngest)", aborted)
	}

	// The survivor should now complete.
	survivor := res1
	if aborted == 1 {
		survivor = res2
	}
	select {
	case err := <-survivor:
		if err != nil {
			t.Fatalf("survivor err = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("survivor never acquired its lock after the other was wounded")
	}
}
