// Package progress defines the change events emitted by the state store.
package progress

import (
	"errors"
	"fmt"
)

// ChangeKind classifies a Store mutation.
type ChangeKind string

// Supported change kinds.
const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change is delivered to observers once per Store mutation.
type Change struct {
	// State is a snapshot taken right after the mutation. For removals it is the
	// last known state.
	State LoadingState
	// Kind tells whether the load was added, updated or removed.
	Kind ChangeKind
}

// Validate performs coarse validation on Change payloads.
func (c Change) Validate() error {
	if c.State.ID == "" {
		return errors.New("load id is required")
	}
	if c.State.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch c.Kind {
	case ChangeAdded, ChangeUpdated, ChangeRemoved:
	default:
		return fmt.Errorf("unknown change kind %q", c.Kind)
	}
	return nil
}
