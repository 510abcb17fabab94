package storage

import (
	"fmt"
	"hash/fnv"
)

// FieldType enumerates the fixed-width field kinds a TupleDesc can
// describe. Variable-length values are out of scope; every column is
// fixed-width and zero-padded to fit its slot.
type FieldType int

const (
	FieldInt64 FieldType = iota
	FieldString
)

// Field describes one column: its type and its on-disk byte width. For
// FieldString, Width is the fixed capacity a value is zero-padded or
// truncated to fit.
type Field struct {
	Type  FieldType
	Width int
}

// TupleDesc describes the fixed-width layout of every tuple in a heap
// file. Two TupleDescs with the same field sequence compare equal via
// Hash, which callers can use to reject a page whose layout doesn't
// match the schema they expect.
type TupleDesc struct {
	Fields []Field
}

// TupleWidth returns the total byte width of one tuple under this
// descriptor.
func (td TupleDesc) TupleWidth() int {
	w := 0
	for _, f := range td.Fields {
		w += f.Width
	}
	return w
}

// Hash returns a deterministic digest of the field sequence. Two
// TupleDescs describing the same fields in the same order always hash
// equal; this is not a security digest, just an equality shortcut.
func (td TupleDesc) Hash() uint64 {
	h := fnv.New64a()
	for _, f := range td.Fields {
		fmt.Fprintf(h, "%d:%d;", f.Type, f.Width)
	}
	return h.Sum64()
}

// Equal reports whether td and other describe identical tuple layouts.
func (td TupleDesc) Equal(other TupleDesc) bool { return td.Hash() == other.Hash() }

// Page is one fixed-size buffer of page bytes plus the bookkeeping the
// buffer pool needs to enforce NO-STEAL: a page is either clean, or dirty
// and attributed to the single transaction that dirtied it. There is no
// write-ahead log, so a dirty page's only record of its origin is this
// in-memory attribution.
type Page struct {
	id        PageId
	data      []byte
	dirty     bool
	dirtiedBy TransactionId
}

// NewPage allocates a zeroed page of the given size for id.
func NewPage(id PageId, size int) *Page {
	return &Page{id: id, data: make([]byte, size)}
}

// Id returns the page's identity.
func (p *Page) Id() PageId { return p.id }

// Data returns the page's raw byte buffer. Callers must hold the page's
// PageLock (S to read, X to write) before touching it.
func (p *Page) Data() []byte { return p.data }

// IsDirty reports whether the page has unflushed writes.
func (p *Page) IsDirty() bool { return p.dirty }

// MarkDirty records that tid has written this page. NO-STEAL relies on
// IsDirty to refuse evicting a page dirtied by a transaction still in
// flight.
func (p *Page) MarkDirty(tid TransactionId) {
	p.dirty = true
	p.dirtiedBy = tid
}

// MarkClean clears the dirty bit after a successful flush.
func (p *Page) MarkClean() {
	p.dirty = false
	p.dirtiedBy = 0
}

// DirtiedBy returns the transaction that last dirtied the page and
// whether the page is currently dirty at all.
func (p *Page) DirtiedBy() (TransactionId, bool) {
	return p.dirtiedBy, p.dirty
}
