package gate

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// Subscriber is the registration half of the Store surface.
type Subscriber interface {
	Subscribe(observer progress.Observer) progress.Subscription
	Unsubscribe(handle progress.Subscription) bool
}

// Source is the Store surface a Gate needs. It is called from inside change
// dispatch, so it must be the Store itself (or something equally
// non-blocking), never a façade that marshals onto the dispatching context.
type Source interface {
	Subscriber
	ByCategories(mask progress.CategorySet) []progress.LoadingState
}

// Config controls which changes a Gate responds to.
//   - Filter: categories of interest; CategoryNone never responds.
//   - IgnoreIDs: load ids that are neither routed nor counted when gating.
//   - RequireAllComplete: suppress actions while any relevant load is active.
//   - Logger: optional structured logger.
type Config struct {
	Filter             progress.CategorySet
	IgnoreIDs          []string
	RequireAllComplete bool
	Logger             *zap.Logger
}

// Gate is a category-filtered consumer of Store changes. Like the Store it
// runs on a single execution context.
type Gate struct {
	source  Source
	filter  progress.CategorySet
	ignore  map[string]struct{}
	gated   bool
	actions Actions
	logger  *zap.Logger

	sub     progress.Subscription
	running bool
}

// New builds a Gate. A nil source is logged and leaves the Gate inert.
func New(source Source, cfg Config, actions Actions) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ignore := make(map[string]struct{}, len(cfg.IgnoreIDs))
	for _, id := range cfg.IgnoreIDs {
		ignore[id] = struct{}{}
	}
	if source == nil {
		logger.Error("gate has no state source; it will never respond",
			zap.Stringer("filter", cfg.Filter),
		)
	}
	return &Gate{
		source:  source,
		filter:  cfg.Filter,
		ignore:  ignore,
		gated:   cfg.RequireAllComplete,
		actions: actions,
		logger:  logger,
	}
}

// Start subscribes the Gate to its source. It is a no-op when already
// running or inert.
func (g *Gate) Start() {
	if g.source == nil || g.running {
		return
	}
	g.sub = g.source.Subscribe(g)
	g.running = true
}

// Stop unsubscribes the Gate. It may be called from inside an action.
func (g *Gate) Stop() {
	if !g.running {
		return
	}
	g.source.Unsubscribe(g.sub)
	g.sub = 0
	g.running = false
}

// Running reports whether the Gate is subscribed.
func (g *Gate) Running() bool {
	return g.running
}

// Observe implements progress.Observer.
func (g *Gate) Observe(change progress.Change) {
	if g.source == nil || change.Kind == progress.ChangeRemoved {
		return
	}
	st := change.State
	if !g.relevant(st) {
		return
	}
	if g.gated && g.IsAnyActive() {
		g.logger.Debug("change held until related loads settle",
			zap.String("load_id", st.ID),
			zap.String("phase", st.Phase.ID),
		)
		return
	}
	action := Classify(st)
	if g.actions.dispatch(action, st) {
		g.logger.Debug("gate dispatched action",
			zap.String("load_id", st.ID),
			zap.Stringer("action", action),
		)
	}
}

// IsAnyActive reports whether any non-ignored load matching the filter is
// still in a non-terminal phase.
func (g *Gate) IsAnyActive() bool {
	if g.source == nil || g.filter.IsNone() {
		return false
	}
	return progress.AnyActive(g.source.ByCategories(g.filter), g.ignore)
}

func (g *Gate) relevant(st progress.LoadingState) bool {
	if g.filter.IsNone() {
		return false
	}
	if _, skip := g.ignore[st.ID]; skip {
		return false
	}
	return st.Categories.Matches(g.filter)
}
