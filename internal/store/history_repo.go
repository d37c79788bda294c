package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("history record not found")

// Outcome summarizes where a load stood when a change was recorded.
type Outcome string

// Outcomes persisted in load_changes.outcome.
const (
	OutcomeActive  Outcome = "active"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ChangeRecord models one row of the load change history.
type ChangeRecord struct {
	// Seq is assigned by the repository on append and orders records.
	Seq int64
	// LoadID is the producer-chosen load identifier.
	LoadID string
	// Kind is added/updated/removed.
	Kind string
	// PhaseID and PhaseName describe the phase at the time of the change.
	PhaseID   string
	PhaseName string
	// Outcome is derived from the phase's terminal and success flags.
	Outcome Outcome
	// Progress is the completion fraction in [0,1].
	Progress float64
	// Message is the producer's free-form note.
	Message string
	// Categories is the raw category bit-set.
	Categories uint64
	// RecordedAt is the state timestamp.
	RecordedAt time.Time
}

// HistoryRepository persists the change history of loads.
type HistoryRepository interface {
	// AppendChanges stores the records in order.
	AppendChanges(ctx context.Context, records []ChangeRecord) error
	// ListChanges returns the history of one load, oldest first, or ErrNotFound.
	ListChanges(ctx context.Context, loadID string, limit, offset int) ([]ChangeRecord, error)
	// ListRecent returns the newest records filtered by optional outcome.
	ListRecent(ctx context.Context, outcome *Outcome, limit, offset int) ([]ChangeRecord, error)
}
