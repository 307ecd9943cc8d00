package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"github.com/goclaw/clusterctl/pkg/logengine"
)

func newTestEngine(t *testing.T, path string) *Engine {
	t.Helper()
	engine, err := New(&Config{
		Path:              path,
		SyncWrites:        false,
		ValueLogFileSize:  1 << 20,
		NumVersionsToKeep: 1,
	})
	if err != nil {
		t.Fatalf("failed to open badger engine: %v", err)
	}
	return engine
}

func TestBadgerEngineSuite(t *testing.T) {
	suite := &logengine.EngineTestSuite{
		NewEngine: func(t *testing.T) logengine.LogEngine {
			return newTestEngine(t, t.TempDir())
		},
	}
	suite.RunAllTests(t)
}

func TestBadgerEngine_InMemory(t *testing.T) {
	engine, err := New(&Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open in-memory engine: %v", err)
	}
	defer engine.Close()

	lsn, err := engine.Append(context.Background(), 1, []byte("x"))
	if err != nil || lsn != 1 {
		t.Fatalf("Append() = (%d, %v), want (1, nil)", lsn, err)
	}
}

func TestBadgerEngine_StatePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	engine := newTestEngine(t, dir)
	for i := 0; i < 5; i++ {
		if _, err := engine.Append(ctx, 3, []byte("r")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := engine.Trim(ctx, 3, 2); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := newTestEngine(t, dir)
	defer reopened.Close()

	if point, _ := reopened.TrimPoint(ctx, 3); point != 2 {
		t.Fatalf("trim point after reopen = %d, want 2", point)
	}
	if tail, _ := reopened.Tail(ctx, 3); tail != 6 {
		t.Fatalf("tail after reopen = %d, want 6", tail)
	}
	records, err := reopened.Read(ctx, 3, 0, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(records) != 3 || records[0].LSN != 3 {
		t.Fatalf("Read after reopen returned %d records", len(records))
	}
}

func TestBadgerEngine_TrimDeletesKeys(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, t.TempDir())
	defer engine.Close()

	for i := 0; i < 20; i++ {
		if _, err := engine.Append(ctx, 1, []byte("r")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := engine.Trim(ctx, 1, 15); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}

	var remaining int
	if err := engine.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix(1)})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(recordPrefix(1)); it.Next() {
			remaining++
		}
		return nil
	}); err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("remaining record keys = %d, want 5", remaining)
	}
}

func TestBadgerEngine_RepeatedTrimRemovesLeftovers(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, t.TempDir())
	defer engine.Close()

	for i := 0; i < 10; i++ {
		if _, err := engine.Append(ctx, 2, []byte("r")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	// Advance the trim point without deleting, as a failed delete would.
	if err := engine.db.Update(func(txn *badger.Txn) error {
		return txn.Set(trimKey(2), encodeLSN(6))
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if n := countKeys(t, engine, 2); n != 10 {
		t.Fatalf("record keys before retry = %d, want 10", n)
	}

	if err := engine.Trim(ctx, 2, 6); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if n := countKeys(t, engine, 2); n != 4 {
		t.Fatalf("record keys after retry = %d, want 4", n)
	}
	if point, _ := engine.TrimPoint(ctx, 2); point != 6 {
		t.Fatalf("trim point = %d, want 6", point)
	}

	if err := engine.Trim(ctx, 2, 3); err != nil {
		t.Fatalf("Trim below trim point failed: %v", err)
	}
	if point, _ := engine.TrimPoint(ctx, 2); point != 6 {
		t.Fatalf("trim point moved back to %d", point)
	}
}

func countKeys(t *testing.T, engine *Engine, log logengine.LogID) int {
	t.Helper()
	var n int
	if err := engine.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: recordPrefix(log)})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(recordPrefix(log)); it.Next() {
			n++
		}
		return nil
	}); err != nil {
		t.Fatalf("View failed: %v", err)
	}
	return n
}
