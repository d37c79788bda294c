package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// Publisher sends a payload to a topic and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ChangeMessage is the wire form of a change notification.
type ChangeMessage struct {
	LoadID       string    `json:"load_id"`
	Kind         string    `json:"kind"`
	PhaseID      string    `json:"phase_id"`
	PhaseName    string    `json:"phase_name"`
	Terminal     bool      `json:"terminal"`
	Outcome      string    `json:"outcome"`
	Progress     float64   `json:"progress"`
	Message      string    `json:"message,omitempty"`
	Categories   []string  `json:"categories,omitempty"`
	CategoryBits uint64    `json:"category_bits"`
	Timestamp    time.Time `json:"timestamp"`
}

// Attributes returns the message attributes brokers can filter on.
func (m ChangeMessage) Attributes() map[string]string {
	return map[string]string{
		"load_id": m.LoadID,
		"kind":    m.Kind,
		"outcome": m.Outcome,
	}
}

// PublishSink forwards every change to a Publisher as a ChangeMessage.
type PublishSink struct {
	publisher  Publisher
	topic      string
	categories *progress.CategoryRegistry
	logger     *zap.Logger
}

// NewPublishSink constructs a PublishSink for topic.
func NewPublishSink(
	publisher Publisher,
	topic string,
	categories *progress.CategoryRegistry,
	logger *zap.Logger,
) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{
		publisher:  publisher,
		topic:      topic,
		categories: categories,
		logger:     logger,
	}
}

// Consume publishes the batch in order. Every change is attempted; failures
// are joined into the returned error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Change) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, change := range batch {
		msg := s.message(change)
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish change for %s: %w", msg.LoadID, err))
			continue
		}
		s.logger.Debug("change published",
			zap.String("load_id", msg.LoadID),
			zap.String("kind", msg.Kind),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}

func (s *PublishSink) message(change progress.Change) ChangeMessage {
	st := change.State
	msg := ChangeMessage{
		LoadID:       st.ID,
		Kind:         string(change.Kind),
		PhaseID:      st.Phase.ID,
		PhaseName:    st.Phase.DisplayName,
		Terminal:     st.Phase.Terminal,
		Outcome:      string(OutcomeOf(st)),
		Progress:     st.Progress,
		Message:      st.Message,
		CategoryBits: uint64(st.Categories),
		Timestamp:    st.Timestamp,
	}
	if s.categories != nil {
		msg.Categories = s.categories.Names(st.Categories)
	}
	return msg
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
