// Package storage implements the transactional page cache and concurrency
// control subsystem: a buffer pool, page-granular shared/exclusive locking,
// a wait-for deadlock detector, and MRU eviction over a disk-backed heap
// file. Schema, tuple encoding, and query operators are external
// collaborators and live in other packages.
package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// PageId is the stable identity of a page within a table. Two PageIds are
// equal iff their TableID and PageNumber match; it is a plain comparable
// struct so it can be used directly as a map key.
type PageId struct {
	TableID    uint32
	PageNumber uint32
}

// String renders the PageId for log lines and test failure messages.
func (p PageId) String() string {
	return fmt.Sprintf("table%d:page%d", p.TableID, p.PageNumber)
}

// TransactionId is a globally unique, monotonically increasing identifier.
// Ordering defines age: a smaller TransactionId is older. It is immutable
// once assigned.
type TransactionId int64

// String renders the TransactionId for log lines.
func (t TransactionId) String() string {
	return fmt.Sprintf("tx%d", int64(t))
}

// txSeq is the process-wide monotonic counter backing NewTransactionId.
var txSeq atomic.Int64

// NewTransactionId allocates the next TransactionId in age order. It is
// safe for concurrent use by multiple goroutines.
func NewTransactionId() TransactionId {
	return TransactionId(txSeq.Add(1))
}

// Transaction bundles a TransactionId with a non-ordering trace identifier
// used only to correlate log lines for a single logical transaction across
// goroutines; it carries no semantic weight and is never compared for age
// or used as a lock key. TransactionId itself stays a plain monotonic
// int64 rather than a UUID precisely because its numeric ordering is load
// bearing for WOUND-WAIT.
type Transaction struct {
	ID      TransactionId
	TraceID uuid.UUID
}

// BeginTransaction allocates a new Transaction with a fresh id and trace id.
func BeginTransaction() *Transaction {
	return &Transaction{ID: NewTransactionId(), TraceID: uuid.New()}
}
