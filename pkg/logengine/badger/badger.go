// Package badger provides a Badger-backed log engine.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/goclaw/clusterctl/pkg/logengine"
)

// Config holds configuration for the Badger engine.
type Config struct {
	Path              string
	SyncWrites        bool
	ValueLogFileSize  int64
	NumVersionsToKeep int
	// InMemory runs Badger without touching disk. Path must be empty.
	InMemory bool
}

// Engine implements logengine.LogEngine on Badger. Records are stored under
// ordered keys so a log's records can be scanned and trimmed as a prefix.
type Engine struct {
	db *badger.DB

	// writeMu serializes appends and trims so LSN assignment never conflicts.
	writeMu sync.Mutex
	now     func() time.Time
}

// New opens a Badger engine.
func New(config *Config) (*Engine, error) {
	opts := badger.DefaultOptions(config.Path).WithLogger(nil)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	opts.SyncWrites = config.SyncWrites
	if config.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = config.ValueLogFileSize
	}
	if config.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = config.NumVersionsToKeep
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &logengine.UnavailableError{Backend: "badger", Cause: err}
	}
	return &Engine{db: db, now: time.Now}, nil
}

func recordPrefix(log logengine.LogID) []byte {
	return []byte(fmt.Sprintf("log:%020d:rec:", uint64(log)))
}

func recordKey(log logengine.LogID, lsn logengine.LSN) []byte {
	return []byte(fmt.Sprintf("log:%020d:rec:%020d", uint64(log), uint64(lsn)))
}

func tailKey(log logengine.LogID) []byte {
	return []byte(fmt.Sprintf("log:%020d:meta:tail", uint64(log)))
}

func trimKey(log logengine.LogID) []byte {
	return []byte(fmt.Sprintf("log:%020d:meta:trim", uint64(log)))
}

type storedRecord struct {
	Payload    []byte    `json:"payload"`
	AppendedAt time.Time `json:"appended_at"`
}

func encodeLSN(lsn logengine.LSN) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(lsn))
	return buf
}

func readLSN(txn *badger.Txn, key []byte, fallback logengine.LSN) (logengine.LSN, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fallback, nil
	}
	if err != nil {
		return 0, err
	}
	var lsn logengine.LSN
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return &logengine.SerializationError{Operation: "decode lsn", Cause: fmt.Errorf("length %d", len(val))}
		}
		lsn = logengine.LSN(binary.BigEndian.Uint64(val))
		return nil
	})
	return lsn, err
}

func (e *Engine) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return logengine.ErrClosed
	}
	var serr *logengine.SerializationError
	if errors.As(err, &serr) {
		return err
	}
	return &logengine.UnavailableError{Backend: "badger", Cause: err}
}

func (e *Engine) Append(ctx context.Context, log logengine.LogID, payload []byte) (logengine.LSN, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(storedRecord{Payload: payload, AppendedAt: e.now().UTC()})
	if err != nil {
		return 0, &logengine.SerializationError{Operation: "marshal", Cause: err}
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var lsn logengine.LSN
	err = e.db.Update(func(txn *badger.Txn) error {
		tail, err := readLSN(txn, tailKey(log), 1)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(log, tail), data); err != nil {
			return err
		}
		lsn = tail
		return txn.Set(tailKey(log), encodeLSN(tail+1))
	})
	if err != nil {
		return 0, e.wrap(err)
	}
	return lsn, nil
}

func (e *Engine) Read(ctx context.Context, log logengine.LogID, from logengine.LSN, limit int) ([]logengine.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []logengine.Record
	err := e.db.View(func(txn *badger.Txn) error {
		trimPoint, err := readLSN(txn, trimKey(log), 0)
		if err != nil {
			return err
		}
		start := logengine.ReadFrom(from, trimPoint)

		prefix := recordPrefix(log)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()

		for it.Seek(recordKey(log, start)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var lsn uint64
			if _, err := fmt.Sscanf(string(it.Item().Key()[len(prefix):]), "%d", &lsn); err != nil {
				return &logengine.SerializationError{Operation: "decode key", Cause: err}
			}
			var rec storedRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return &logengine.SerializationError{Operation: "unmarshal", Cause: err}
			}
			out = append(out, logengine.Record{LSN: logengine.LSN(lsn), Payload: rec.Payload, AppendedAt: rec.AppendedAt})
		}
		return nil
	})
	if err != nil {
		return nil, e.wrap(err)
	}
	return out, nil
}

// Trim records the new trim point first and then deletes the trimmed
// records in batches. Reads filter by the trim point, so a crash or a failed
// delete between the two steps only leaves garbage behind, and the next trim
// that does not advance the point deletes it again.
func (e *Engine) Trim(ctx context.Context, log logengine.LogID, upTo logengine.LSN) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var previous, point logengine.LSN
	err := e.db.Update(func(txn *badger.Txn) error {
		var err error
		if previous, err = readLSN(txn, trimKey(log), 0); err != nil {
			return err
		}
		tail, err := readLSN(txn, tailKey(log), 1)
		if err != nil {
			return err
		}
		point = logengine.ClampTrim(upTo, tail)
		if point <= previous {
			return nil
		}
		return txn.Set(trimKey(log), encodeLSN(point))
	})
	if err != nil {
		return e.wrap(err)
	}
	if point <= previous {
		point = previous
	}
	if point == 0 {
		return nil
	}
	return e.wrap(e.deleteRange(log, point))
}

func (e *Engine) deleteRange(log logengine.LogID, upTo logengine.LSN) error {
	var keys [][]byte
	err := e.db.View(func(txn *badger.Txn) error {
		prefix := recordPrefix(log)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		last := recordKey(log, upTo)
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) > string(last) {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := e.db.NewWriteBatch()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return err
		}
	}
	return wb.Flush()
}

func (e *Engine) TrimPoint(ctx context.Context, log logengine.LogID) (logengine.LSN, error) {
	var lsn logengine.LSN
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		lsn, err = readLSN(txn, trimKey(log), 0)
		return err
	})
	return lsn, e.wrap(err)
}

func (e *Engine) Tail(ctx context.Context, log logengine.LogID) (logengine.LSN, error) {
	var lsn logengine.LSN
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		lsn, err = readLSN(txn, tailKey(log), 1)
		return err
	})
	return lsn, e.wrap(err)
}

func (e *Engine) Close() error {
	return e.db.Close()
}
