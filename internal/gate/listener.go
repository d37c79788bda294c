package gate

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// Listener routes every change, regardless of category, using
// ClassifyByPhaseID.
type Listener struct {
	source  Subscriber
	actions Actions
	logger  *zap.Logger

	sub     progress.Subscription
	running bool
}

// NewListener builds a Listener. A nil source is logged and leaves the
// Listener inert.
func NewListener(source Subscriber, actions Actions, logger *zap.Logger) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if source == nil {
		logger.Error("listener has no state source; it will never respond")
	}
	return &Listener{source: source, actions: actions, logger: logger}
}

// Start subscribes the Listener to its source.
func (l *Listener) Start() {
	if l.source == nil || l.running {
		return
	}
	l.sub = l.source.Subscribe(l)
	l.running = true
}

// Stop unsubscribes the Listener.
func (l *Listener) Stop() {
	if !l.running {
		return
	}
	l.source.Unsubscribe(l.sub)
	l.sub = 0
	l.running = false
}

// Observe implements progress.Observer.
func (l *Listener) Observe(change progress.Change) {
	if l.source == nil || change.Kind == progress.ChangeRemoved {
		return
	}
	l.actions.dispatch(ClassifyByPhaseID(change.State), change.State)
}
