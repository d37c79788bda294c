package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// LogSink emits structured logs for debugging change streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger     *zap.Logger
	categories *progress.CategoryRegistry
}

// NewLogSink wires a Zap logger to the sink interface. Categories are
// rendered by name when a registry is supplied.
func NewLogSink(logger *zap.Logger, categories *progress.CategoryRegistry) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger, categories: categories}
}

// Consume logs each change in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Change) error {
	for _, change := range batch {
		st := change.State
		fields := []zap.Field{
			zap.String("load_id", st.ID),
			zap.String("kind", string(change.Kind)),
			zap.String("phase", st.Phase.ID),
			zap.Bool("terminal", st.Phase.Terminal),
			zap.Float64("progress", st.Progress),
			zap.String("message", st.Message),
			zap.Time("ts", st.Timestamp),
		}
		if s.categories != nil {
			fields = append(fields, zap.Strings("categories", s.categories.Names(st.Categories)))
		} else {
			fields = append(fields, zap.Stringer("categories", st.Categories))
		}
		s.logger.Info("load change", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
