package nav

import (
	"errors"
	"fmt"
)

var (
	// ErrPathNotFound is returned when no route connects the requested nodes
	ErrPathNotFound = errors.New("no path between requested nodes")

	// ErrNodeNotFound is returned when a route endpoint is not in the graph
	ErrNodeNotFound = errors.New("node not found")

	// ErrWorkerUnavailable is returned when the route worker pool is closed or crashed
	ErrWorkerUnavailable = errors.New("route worker unavailable")

	// ErrWorkerTimeout is returned when a worker does not answer in time
	ErrWorkerTimeout = errors.New("route worker timed out")

	// ErrSessionNotFound is returned for unknown session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrOutOfCoverage marks a position outside the configured map bounds.
	// It is surfaced as a flag on SmoothedPosition rather than returned.
	ErrOutOfCoverage = errors.New("position outside coverage area")
)

// CalibrationError reports degenerate or insufficient control points.
// It is fatal to setup.
type CalibrationError struct {
	Reason string
	Points int
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration failed (%d control points): %s", e.Points, e.Reason)
}

// GraphIntegrityError describes an adjacency entry that references a missing node
type GraphIntegrityError struct {
	NodeID    string
	MissingID string
}

func (e GraphIntegrityError) Error() string {
	return fmt.Sprintf("node %q has edge to missing node %q", e.NodeID, e.MissingID)
}

// RejectReason says which gate dropped a fix
type RejectReason string

const (
	RejectAccuracy  RejectReason = "accuracy"
	RejectJump      RejectReason = "jump"
	RejectRateLimit RejectReason = "rate_limit"
	RejectStale     RejectReason = "stale"
)

// SensorRejected is returned for fixes dropped by a gate.
// Callers skip the fix and keep going.
type SensorRejected struct {
	Reason RejectReason
	Value  float64
	Limit  float64
}

func (e *SensorRejected) Error() string {
	return fmt.Sprintf("fix rejected by %s gate: %.2f (limit %.2f)", e.Reason, e.Value, e.Limit)
}

// IsRejected reports whether err is a SensorRejected and returns it
func IsRejected(err error) (*SensorRejected, bool) {
	var r *SensorRejected
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
