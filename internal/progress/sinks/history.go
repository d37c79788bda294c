package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/progress"
	"github.com/JakeFAU/loadstate/internal/store"
)

// HistorySink appends every change to a store.HistoryRepository. A batch is
// written with a single AppendChanges call.
type HistorySink struct {
	repo   store.HistoryRepository
	logger *zap.Logger
}

// NewHistorySink constructs a HistorySink for the provided repository.
func NewHistorySink(repo store.HistoryRepository, logger *zap.Logger) *HistorySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistorySink{repo: repo, logger: logger}
}

// Consume converts the batch into change records and forwards them to the
// repository. It respects ctx deadlines and wraps repository errors.
func (s *HistorySink) Consume(ctx context.Context, batch []progress.Change) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	records := make([]store.ChangeRecord, 0, len(batch))
	for _, change := range batch {
		records = append(records, RecordFromChange(change))
	}
	if err := s.repo.AppendChanges(ctx, records); err != nil {
		return fmt.Errorf("append changes: %w", err)
	}
	s.logger.Debug("history appended", zap.Int("records", len(records)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *HistorySink) Close(context.Context) error {
	return nil
}

// RecordFromChange maps a change onto its persisted form.
func RecordFromChange(change progress.Change) store.ChangeRecord {
	st := change.State
	return store.ChangeRecord{
		LoadID:     st.ID,
		Kind:       string(change.Kind),
		PhaseID:    st.Phase.ID,
		PhaseName:  st.Phase.DisplayName,
		Outcome:    OutcomeOf(st),
		Progress:   st.Progress,
		Message:    st.Message,
		Categories: uint64(st.Categories),
		RecordedAt: st.Timestamp,
	}
}

// OutcomeOf derives the persisted outcome of a state.
func OutcomeOf(st progress.LoadingState) store.Outcome {
	switch {
	case !st.IsTerminal():
		return store.OutcomeActive
	case st.IsSuccess():
		return store.OutcomeSuccess
	default:
		return store.OutcomeFailure
	}
}
