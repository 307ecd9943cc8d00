// Package logengine defines the append-only log engine the cluster
// controller trims, and its typed errors.
package logengine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// LogID identifies a log.
type LogID uint64

// LSN is a record position within one log. The first record gets LSN 1.
type LSN uint64

// Record is one entry of a log.
type Record struct {
	LSN        LSN       `json:"lsn"`
	Payload    []byte    `json:"payload"`
	AppendedAt time.Time `json:"appended_at"`
}

// LogEngine is an append-only log store with prefix trimming.
type LogEngine interface {
	// Append appends payload to log and returns its LSN.
	Append(ctx context.Context, log LogID, payload []byte) (LSN, error)
	// Read returns up to limit records with LSN >= from. Trimmed records are
	// never returned.
	Read(ctx context.Context, log LogID, from LSN, limit int) ([]Record, error)
	// Trim discards every record with LSN <= upTo. Trimming to or below the
	// current trim point is a no-op and a point past the last record is
	// clamped to it.
	Trim(ctx context.Context, log LogID, upTo LSN) error
	// TrimPoint returns the LSN up to which the log has been trimmed.
	TrimPoint(ctx context.Context, log LogID) (LSN, error)
	// Tail returns the LSN the next append will receive.
	Tail(ctx context.Context, log LogID) (LSN, error)

	Close() error
}

// ErrClosed is returned by engines after Close.
var ErrClosed = errors.New("logengine: engine closed")

// UnavailableError indicates that the log engine backend is unavailable.
type UnavailableError struct {
	Backend string
	Cause   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("logengine: %s unavailable: %v", e.Backend, e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}

// SerializationError indicates a failure encoding or decoding a record.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("logengine: serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// ReadFrom returns the first LSN a read starting at from may return given the
// trim point.
func ReadFrom(from, trimPoint LSN) LSN {
	if from <= trimPoint {
		return trimPoint + 1
	}
	return from
}

// ClampTrim clamps a requested trim point to the last appended record.
func ClampTrim(upTo, tail LSN) LSN {
	if tail == 0 {
		return 0
	}
	if last := tail - 1; upTo > last {
		return last
	}
	return upTo
}
