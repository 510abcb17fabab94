// Command dbcore-demo exercises the storage package end to end: it opens
// a heap file, inserts a handful of tuples under one transaction, then
// runs two more transactions concurrently on the same page to provoke
// lock waits, and logs the outcome. It is a demonstration driver, not a SQL surface or wire
// protocol.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/pgheap/dbcore/internal/storage"
)

func main() {
	dir, err := os.MkdirTemp("", "dbcore-demo")
	if err != nil {
		log.Fatalf("mkdtemp: %v", err)
	}
	defer os.RemoveAll(dir)

	cfg := storage.DefaultConfig()
	cfg.BufferPoolPages = 4
	pool, detector, err := storage.NewBufferPoolFromConfig(cfg)
	if err != nil {
		log.Fatalf("starting buffer pool: %v", err)
	}
	defer detector.Stop()

	desc := storage.TupleDesc{Fields: []storage.Field{
		{Type: storage.FieldInt64, Width: 8},
		{Type: storage.FieldString, Width: 24},
	}}
	hf, err := storage.OpenDiskHeapFile(filepath.Join(dir, "accounts.heap"), 1, cfg.PageSize, desc)
	if err != nil {
		log.Fatalf("opening heap file: %v", err)
	}
	defer hf.Close()
	pool.RegisterFile(hf)

	catalog := storage.NewCatalog()
	catalog.AddTable("accounts", hf)

	tx := pool.BeginTransaction()
	for i := 0; i < 5; i++ {
		tuple := make([]byte, desc.TupleWidth())
		copy(tuple[8:], fmt.Sprintf("account-%d", i))
		if _, _, err := pool.InsertTuple(tx.ID, hf.TableID(), tuple); err != nil {
			log.Fatalf("insert: %v", err)
		}
	}
	if err := pool.TransactionComplete(tx.ID, true); err != nil {
		log.Fatalf("commit: %v", err)
	}
	log.Printf("committed transaction %v, pool size=%d", tx.ID, pool.Size())

	// Run two transactions concurrently over the first page to show the
	// lock manager and deadlock detector in action.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		t := pool.BeginTransaction()
		id := storage.PageId{TableID: hf.TableID(), PageNumber: 0}
		if _, err := pool.GetPage(t.ID, id, storage.ReadWrite); err != nil {
			log.Printf("reader A aborted: %v", err)
			pool.TransactionComplete(t.ID, false)
			return
		}
		pool.TransactionComplete(t.ID, true)
	}()
	go func() {
		defer wg.Done()
		t := pool.BeginTransaction()
		id := storage.PageId{TableID: hf.TableID(), PageNumber: 0}
		if _, err := pool.GetPage(t.ID, id, storage.ReadOnly); err != nil {
			log.Printf("reader B aborted: %v", err)
			pool.TransactionComplete(t.ID, false)
			return
		}
		pool.TransactionComplete(t.ID, true)
	}()
	wg.Wait()

	if err := pool.FlushAllPages(); err != nil {
		log.Fatalf("final flush: %v", err)
	}
	log.Printf("demo complete: %s lockStats=%+v", pool.Stats(), pool.LockStats())
}
