package logengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// EngineTestSuite runs the behavior every LogEngine must have against an
// implementation.
type EngineTestSuite struct {
	NewEngine func(t *testing.T) LogEngine
}

// RunAllTests runs every test in the suite.
func (s *EngineTestSuite) RunAllTests(t *testing.T) {
	t.Run("AppendAssignsSequentialLSNs", s.TestAppendAssignsSequentialLSNs)
	t.Run("ReadRange", s.TestReadRange)
	t.Run("TrimDiscardsPrefix", s.TestTrimDiscardsPrefix)
	t.Run("TrimIsIdempotent", s.TestTrimIsIdempotent)
	t.Run("TrimIsClampedToTail", s.TestTrimIsClampedToTail)
	t.Run("LogsAreIndependent", s.TestLogsAreIndependent)
	t.Run("ConcurrentAppends", s.TestConcurrentAppends)
	t.Run("Closed", s.TestClosed)
}

func appendN(t *testing.T, engine LogEngine, log LogID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := engine.Append(context.Background(), log, []byte(fmt.Sprintf("record-%d", i+1))); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

// TestAppendAssignsSequentialLSNs checks LSNs start at 1 and Tail follows.
func (s *EngineTestSuite) TestAppendAssignsSequentialLSNs(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()

	tail, err := engine.Tail(ctx, 1)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if tail != 1 {
		t.Fatalf("empty log tail = %d, want 1", tail)
	}

	for want := LSN(1); want <= 3; want++ {
		lsn, err := engine.Append(ctx, 1, []byte("x"))
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if lsn != want {
			t.Fatalf("Append returned %d, want %d", lsn, want)
		}
	}

	if tail, _ := engine.Tail(ctx, 1); tail != 4 {
		t.Fatalf("tail = %d, want 4", tail)
	}
	if point, _ := engine.TrimPoint(ctx, 1); point != 0 {
		t.Fatalf("trim point = %d, want 0", point)
	}
}

// TestReadRange checks from and limit handling.
func (s *EngineTestSuite) TestReadRange(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()
	appendN(t, engine, 2, 10)

	records, err := engine.Read(ctx, 2, 4, 3)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Read returned %d records, want 3", len(records))
	}
	for i, rec := range records {
		if want := LSN(4 + i); rec.LSN != want {
			t.Fatalf("record %d has LSN %d, want %d", i, rec.LSN, want)
		}
		if want := fmt.Sprintf("record-%d", 4+i); string(rec.Payload) != want {
			t.Fatalf("record %d payload = %q, want %q", i, rec.Payload, want)
		}
	}

	all, err := engine.Read(ctx, 2, 0, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("unbounded Read returned %d records, want 10", len(all))
	}

	none, err := engine.Read(ctx, 99, 1, 10)
	if err != nil {
		t.Fatalf("Read of unknown log failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("Read of unknown log returned %d records", len(none))
	}
}

// TestTrimDiscardsPrefix checks trimmed records are never read.
func (s *EngineTestSuite) TestTrimDiscardsPrefix(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()
	appendN(t, engine, 3, 10)

	if err := engine.Trim(ctx, 3, 6); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if point, _ := engine.TrimPoint(ctx, 3); point != 6 {
		t.Fatalf("trim point = %d, want 6", point)
	}

	records, err := engine.Read(ctx, 3, 1, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(records) != 4 || records[0].LSN != 7 {
		t.Fatalf("Read after trim returned %d records starting at %v", len(records), firstLSN(records))
	}
	if tail, _ := engine.Tail(ctx, 3); tail != 11 {
		t.Fatalf("trim changed tail to %d", tail)
	}
}

// TestTrimIsIdempotent checks repeated and lower trims are no-ops.
func (s *EngineTestSuite) TestTrimIsIdempotent(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()
	appendN(t, engine, 4, 10)

	for _, upTo := range []LSN{5, 5, 3, 0} {
		if err := engine.Trim(ctx, 4, upTo); err != nil {
			t.Fatalf("Trim(%d) failed: %v", upTo, err)
		}
		if point, _ := engine.TrimPoint(ctx, 4); point != 5 {
			t.Fatalf("after Trim(%d) trim point = %d, want 5", upTo, point)
		}
	}
}

// TestTrimIsClampedToTail checks trimming past the end keeps the tail.
func (s *EngineTestSuite) TestTrimIsClampedToTail(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()
	appendN(t, engine, 5, 3)

	if err := engine.Trim(ctx, 5, 100); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if point, _ := engine.TrimPoint(ctx, 5); point != 3 {
		t.Fatalf("trim point = %d, want 3", point)
	}
	lsn, err := engine.Append(ctx, 5, []byte("after"))
	if err != nil {
		t.Fatalf("Append after trim failed: %v", err)
	}
	if lsn != 4 {
		t.Fatalf("Append after trim returned %d, want 4", lsn)
	}
	records, _ := engine.Read(ctx, 5, 0, 0)
	if len(records) != 1 || records[0].LSN != 4 {
		t.Fatalf("Read returned %v, want only LSN 4", records)
	}

	if err := engine.Trim(ctx, 42, 10); err != nil {
		t.Fatalf("Trim of empty log failed: %v", err)
	}
	if point, _ := engine.TrimPoint(ctx, 42); point != 0 {
		t.Fatalf("empty log trim point = %d, want 0", point)
	}
}

// TestLogsAreIndependent checks LSNs and trims are per log.
func (s *EngineTestSuite) TestLogsAreIndependent(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()
	appendN(t, engine, 6, 5)
	appendN(t, engine, 7, 2)

	if err := engine.Trim(ctx, 6, 4); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}
	if point, _ := engine.TrimPoint(ctx, 7); point != 0 {
		t.Fatalf("trim leaked to another log: %d", point)
	}
	if tail, _ := engine.Tail(ctx, 7); tail != 3 {
		t.Fatalf("tail of log 7 = %d, want 3", tail)
	}
}

// TestConcurrentAppends checks concurrent appends get unique LSNs.
func (s *EngineTestSuite) TestConcurrentAppends(t *testing.T) {
	engine := s.NewEngine(t)
	defer engine.Close()
	ctx := context.Background()

	const n = 40
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[LSN]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lsn, err := engine.Append(ctx, 8, []byte("c"))
			if err != nil {
				t.Errorf("Append failed: %v", err)
				return
			}
			mu.Lock()
			seen[lsn] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("got %d unique LSNs, want %d", len(seen), n)
	}
	for lsn := LSN(1); lsn <= n; lsn++ {
		if !seen[lsn] {
			t.Fatalf("LSN %d was never assigned", lsn)
		}
	}
}

// TestClosed checks operations fail after Close.
func (s *EngineTestSuite) TestClosed(t *testing.T) {
	engine := s.NewEngine(t)
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err := engine.Append(context.Background(), 1, []byte("x"))
	if err == nil {
		t.Fatal("expected Append to fail after Close")
	}
	if !errors.Is(err, ErrClosed) {
		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("Append after Close returned %v, want ErrClosed or UnavailableError", err)
		}
	}
}

func firstLSN(records []Record) any {
	if len(records) == 0 {
		return "none"
	}
	return records[0].LSN
}
