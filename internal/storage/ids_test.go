package storage

import "testing"

func TestNewTransactionIdMonotonic(t *testing.T) {
	a := NewTransactionId()
	b := NewTransactionId()
	if b <= a {
		t.Errorf("TransactionId did not increase: a=%v b=%v", a, b)
	}
}

func TestBeginTransactionAssignsDistinctTraceIDs(t *testing.T) {
	t1 := BeginTransaction()
	t2 := BeginTransaction()
	if t1.ID == t2.ID {
		t.Error("two transactions got the same TransactionId")
	}
	if t1.TraceID == t2.TraceID {
		t.Error("two transactions got the same TraceID")
	}
}

func TestPageIdEquality(t *testing.T) {
	a := PageId{TableID: 1, PageNumber: 2}
	b := PageId{TableID: 1, PageNumber: 2}
	c := PageId{TableID: 1, PageNumber: 3}
	if a != b {
		t.Error("identical PageIds should compare equal")
	}
	if a == c {
		t.Error("different PageNumbers should not compare equal")
	}
}
