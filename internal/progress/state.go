package progress

import (
	"math"
	"time"
)

// LoadingState is the record for one tracked load. Values handed out by the
// Store are snapshots; mutating them has no effect on the Store.
type LoadingState struct {
	// ID is the non-empty key of the load in the Store.
	ID string
	// Phase is the most recently reported lifecycle stage.
	Phase Phase
	// Progress is clamped to [0,1] and only meaningful while non-terminal.
	Progress float64
	// Message carries the producer's latest status line.
	Message string
	// Categories tags the load for filtered observation.
	Categories CategorySet
	// Timestamp is when the state last changed; never decreases for an ID.
	Timestamp time.Time

	version uint64
}

// IsTerminal reports whether the state's phase is terminal.
func (s LoadingState) IsTerminal() bool {
	return s.Phase.Terminal
}

// IsSuccess reports whether the state ended in a success phase.
func (s LoadingState) IsSuccess() bool {
	return s.Phase.IsSuccess()
}

// Version identifies the report that produced this snapshot. It increases with
// every report for the same ID.
func (s LoadingState) Version() uint64 {
	return s.version
}

func clampProgress(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
