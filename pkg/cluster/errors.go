package cluster

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLeadershipAmbiguous indicates two Alive nodes claim leadership of the
	// same partition at the same epoch.
	ErrLeadershipAmbiguous = errors.New("cluster: leadership ambiguous")
	// ErrUnsafeTrim indicates a trim request beyond the safe trim point.
	ErrUnsafeTrim = errors.New("cluster: unsafe trim")
	// ErrTrimFailed indicates the log engine failed to trim.
	ErrTrimFailed = errors.New("cluster: trim failed")
	// ErrUnknownLog indicates the log is not known to membership.
	ErrUnknownLog = errors.New("cluster: unknown log")
)

// LeadershipConflictError carries the conflicting claimants.
type LeadershipConflictError struct {
	Conflict LeadershipConflict
}

func (e *LeadershipConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflict.Claimants))
	for _, id := range e.Conflict.Claimants {
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("cluster: partition %d has %d leaders at epoch %d: %s",
		e.Conflict.Partition, len(ids), e.Conflict.Epoch, strings.Join(ids, ", "))
}

func (e *LeadershipConflictError) Is(target error) bool {
	return target == ErrLeadershipAmbiguous
}

// UnsafeTrimError is returned when a requested trim point exceeds the safe
// trim point. Safe is false when no point is currently safe.
type UnsafeTrimError struct {
	Log       LogID
	Requested LSN
	SafePoint LSN
	Safe      bool
}

func (e *UnsafeTrimError) Error() string {
	if !e.Safe {
		return fmt.Sprintf("cluster: trim of log %d to %d rejected: no safe trim point", e.Log, e.Requested)
	}
	return fmt.Sprintf("cluster: trim of log %d to %d rejected: exceeds safe trim point %d",
		e.Log, e.Requested, e.SafePoint)
}

func (e *UnsafeTrimError) Is(target error) bool {
	return target == ErrUnsafeTrim
}

// TrimFailedError wraps a log engine failure.
type TrimFailedError struct {
	Log   LogID
	Point LSN
	Err   error
}

func (e *TrimFailedError) Error() string {
	return fmt.Sprintf("cluster: trim of log %d to %d failed: %v", e.Log, e.Point, e.Err)
}

func (e *TrimFailedError) Unwrap() error {
	return e.Err
}

func (e *TrimFailedError) Is(target error) bool {
	return target == ErrTrimFailed
}
