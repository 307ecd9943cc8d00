// Package memory provides an in-memory log engine.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goclaw/clusterctl/pkg/logengine"
)

type memLog struct {
	records   []logengine.Record
	tail      logengine.LSN
	trimPoint logengine.LSN
}

// Engine implements logengine.LogEngine with in-memory slices.
type Engine struct {
	mu     sync.RWMutex
	logs   map[logengine.LogID]*memLog
	closed bool
	now    func() time.Time
}

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{
		logs: make(map[logengine.LogID]*memLog),
		now:  time.Now,
	}
}

func (e *Engine) logLocked(id logengine.LogID) *memLog {
	l, ok := e.logs[id]
	if !ok {
		l = &memLog{tail: 1}
		e.logs[id] = l
	}
	return l
}

func (e *Engine) Append(ctx context.Context, log logengine.LogID, payload []byte) (logengine.LSN, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, logengine.ErrClosed
	}

	l := e.logLocked(log)
	lsn := l.tail
	data := make([]byte, len(payload))
	copy(data, payload)
	l.records = append(l.records, logengine.Record{LSN: lsn, Payload: data, AppendedAt: e.now().UTC()})
	l.tail++
	return lsn, nil
}

func (e *Engine) Read(ctx context.Context, log logengine.LogID, from logengine.LSN, limit int) ([]logengine.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, logengine.ErrClosed
	}

	l, ok := e.logs[log]
	if !ok {
		return nil, nil
	}
	start := logengine.ReadFrom(from, l.trimPoint)
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].LSN >= start })

	var out []logengine.Record
	for ; i < len(l.records) && (limit <= 0 || len(out) < limit); i++ {
		rec := l.records[i]
		rec.Payload = append([]byte(nil), rec.Payload...)
		out = append(out, rec)
	}
	return out, nil
}

func (e *Engine) Trim(ctx context.Context, log logengine.LogID, upTo logengine.LSN) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return logengine.ErrClosed
	}

	l := e.logLocked(log)
	upTo = logengine.ClampTrim(upTo, l.tail)
	if upTo <= l.trimPoint {
		return nil
	}
	i := sort.Search(len(l.records), func(i int) bool { return l.records[i].LSN > upTo })
	l.records = append([]logengine.Record(nil), l.records[i:]...)
	l.trimPoint = upTo
	return nil
}

func (e *Engine) TrimPoint(ctx context.Context, log logengine.LogID) (logengine.LSN, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, logengine.ErrClosed
	}
	if l, ok := e.logs[log]; ok {
		return l.trimPoint, nil
	}
	return 0, nil
}

func (e *Engine) Tail(ctx context.Context, log logengine.LogID) (logengine.LSN, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, logengine.ErrClosed
	}
	if l, ok := e.logs[log]; ok {
		return l.tail, nil
	}
	return 1, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.logs = make(map[logengine.LogID]*memLog)
	return nil
}
