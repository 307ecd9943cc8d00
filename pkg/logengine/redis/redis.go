// Package redis provides a log engine on Redis Streams. Each log is a stream
// whose entry ids are "<lsn>-0", so LSN order and stream order agree.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goclaw/clusterctl/pkg/logengine"
)

// Config holds configuration for the Redis engine.
type Config struct {
	// KeyPrefix namespaces every key the engine writes.
	KeyPrefix string
}

// DefaultKeyPrefix is used when Config.KeyPrefix is empty.
const DefaultKeyPrefix = "clusterctl:log:"

// appendScript assigns the next LSN and adds the entry with that id.
// KEYS[1] stream, KEYS[2] tail counter. ARGV[1] payload, ARGV[2] append time.
var appendScript = redis.NewScript(`
local lsn = redis.call('INCR', KEYS[2])
redis.call('XADD', KEYS[1], lsn .. '-0', 'payload', ARGV[1], 'at', ARGV[2])
return lsn
`)

// trimScript raises the trim point, clamped to the last assigned LSN, and
// drops stream entries at or below it. Lowering is a no-op.
// KEYS[1] stream, KEYS[2] trim point, KEYS[3] tail counter. ARGV[1] point.
var trimScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[2]) or '0')
local last = tonumber(redis.call('GET', KEYS[3]) or '0')
local want = tonumber(ARGV[1])
if want > last then want = last end
if want <= current then return current end
redis.call('SET', KEYS[2], want)
redis.call('XTRIM', KEYS[1], 'MINID', (want + 1) .. '-0')
return want
`)

// Engine implements logengine.LogEngine on Redis.
type Engine struct {
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
	now    func() time.Time
}

// New creates a Redis engine. The engine does not own the client.
func New(client redis.UniversalClient, cfg Config) *Engine {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Engine{client: client, prefix: prefix, now: time.Now}
}

func (e *Engine) streamKey(log logengine.LogID) string {
	return fmt.Sprintf("%s{%d}:stream", e.prefix, uint64(log))
}

func (e *Engine) tailKey(log logengine.LogID) string {
	return fmt.Sprintf("%s{%d}:tail", e.prefix, uint64(log))
}

func (e *Engine) trimKey(log logengine.LogID) string {
	return fmt.Sprintf("%s{%d}:trim", e.prefix, uint64(log))
}

func (e *Engine) check() error {
	if e.closed.Load() {
		return logengine.ErrClosed
	}
	return nil
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return logengine.ErrClosed
	}
	return &logengine.UnavailableError{Backend: "redis", Cause: err}
}

func (e *Engine) Append(ctx context.Context, log logengine.LogID, payload []byte) (logengine.LSN, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	at := strconv.FormatInt(e.now().UTC().UnixNano(), 10)
	lsn, err := appendScript.Run(ctx, e.client, []string{e.streamKey(log), e.tailKey(log)}, payload, at).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return logengine.LSN(lsn), nil
}

func (e *Engine) Read(ctx context.Context, log logengine.LogID, from logengine.LSN, limit int) ([]logengine.Record, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	trimPoint, err := e.TrimPoint(ctx, log)
	if err != nil {
		return nil, err
	}
	start := fmt.Sprintf("%d-0", uint64(logengine.ReadFrom(from, trimPoint)))

	var msgs []redis.XMessage
	if limit > 0 {
		msgs, err = e.client.XRangeN(ctx, e.streamKey(log), start, "+", int64(limit)).Result()
	} else {
		msgs, err = e.client.XRange(ctx, e.streamKey(log), start, "+").Result()
	}
	if err != nil {
		return nil, unavailable(err)
	}

	out := make([]logengine.Record, 0, len(msgs))
	for _, msg := range msgs {
		rec, err := decodeMessage(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeMessage(msg redis.XMessage) (logengine.Record, error) {
	id, _, _ := strings.Cut(msg.ID, "-")
	lsn, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return logengine.Record{}, &logengine.SerializationError{Operation: "decode id", Cause: err}
	}
	rec := logengine.Record{LSN: logengine.LSN(lsn)}
	if payload, ok := msg.Values["payload"].(string); ok {
		rec.Payload = []byte(payload)
	}
	if raw, ok := msg.Values["at"].(string); ok {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return logengine.Record{}, &logengine.SerializationError{Operation: "decode time", Cause: err}
		}
		rec.AppendedAt = time.Unix(0, nanos).UTC()
	}
	return rec, nil
}

func (e *Engine) Trim(ctx context.Context, log logengine.LogID, upTo logengine.LSN) error {
	if err := e.check(); err != nil {
		return err
	}
	keys := []string{e.streamKey(log), e.trimKey(log), e.tailKey(log)}
	return unavailable(trimScript.Run(ctx, e.client, keys, uint64(upTo)).Err())
}

func (e *Engine) TrimPoint(ctx context.Context, log logengine.LogID) (logengine.LSN, error) {
	return e.readCounter(ctx, e.trimKey(log), 0)
}

func (e *Engine) Tail(ctx context.Context, log logengine.LogID) (logengine.LSN, error) {
	return e.readCounter(ctx, e.tailKey(log), 1)
}

// readCounter reads a counter key. offset is added so the tail counter,
// which holds the last assigned LSN, reads as the next one.
func (e *Engine) readCounter(ctx context.Context, key string, offset logengine.LSN) (logengine.LSN, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	v, err := e.client.Get(ctx, key).Uint64()
	if errors.Is(err, redis.Nil) {
		return offset, nil
	}
	if err != nil {
		return 0, unavailable(err)
	}
	return logengine.LSN(v) + offset, nil
}

// Close marks the engine closed. The client is left open.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}
