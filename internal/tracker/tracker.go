// Package tracker is the goroutine-safe entry point to the progress Store.
// Every call is marshalled onto a loop.Loop, so producers and queries may
// come from any goroutine while the Store itself stays single-context.
package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/loop"
	"github.com/JakeFAU/loadstate/internal/progress"
)

// Config controls the Tracker.
//   - CleanupDelay: see progress.StoreConfig.
//   - LoopBuffer: task buffer of the underlying loop.
//   - Clock: optional time source for state timestamps.
//   - Phases, Categories: registries shared with callers (defaults when nil).
//   - Logger: optional structured logger.
type Config struct {
	CleanupDelay time.Duration
	LoopBuffer   int
	Clock        progress.Clock
	Phases       *progress.PhaseRegistry
	Categories   *progress.CategoryRegistry
	Logger       *zap.Logger
}

// Component is a consumer with an explicit lifecycle, such as a gate.Gate.
type Component interface {
	Start()
	Stop()
}

// Tracker owns a Store and the loop it runs on.
type Tracker struct {
	loop       *loop.Loop
	store      *progress.Store
	phases     *progress.PhaseRegistry
	categories *progress.CategoryRegistry
	logger     *zap.Logger
}

// New starts the loop and builds the Store on it.
func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Phases == nil {
		cfg.Phases = progress.NewPhaseRegistry()
	}
	if cfg.Categories == nil {
		cfg.Categories = progress.NewCategoryRegistry()
	}
	l := loop.New(loop.Config{BufferSize: cfg.LoopBuffer, Logger: logger.Named("loop")})
	store := progress.NewStore(progress.StoreConfig{
		CleanupDelay: cfg.CleanupDelay,
		Clock:        cfg.Clock,
		Scheduler:    l,
		Logger:       logger.Named("store"),
	})
	return &Tracker{
		loop:       l,
		store:      store,
		phases:     cfg.Phases,
		categories: cfg.Categories,
		logger:     logger,
	}
}

// Phases returns the phase registry.
func (t *Tracker) Phases() *progress.PhaseRegistry {
	return t.phases
}

// Categories returns the category registry.
func (t *Tracker) Categories() *progress.CategoryRegistry {
	return t.categories
}

// Store returns the underlying Store for use as a gate source. It must only
// be touched from the loop, i.e. inside Do, Attach or an observer callback.
func (t *Tracker) Store() *progress.Store {
	return t.store
}

// Report records a state for id and waits until observers have run.
func (t *Tracker) Report(
	ctx context.Context,
	id string,
	phase progress.Phase,
	categories progress.CategorySet,
	fraction float64,
	message string,
) error {
	return t.call(ctx, "report", func() {
		t.store.Report(id, phase, categories, fraction, message)
	})
}

// Clear removes id.
func (t *Tracker) Clear(ctx context.Context, id string) error {
	return t.call(ctx, "clear", func() {
		t.store.Clear(id)
	})
}

// Get returns the state for id.
func (t *Tracker) Get(ctx context.Context, id string) (progress.LoadingState, bool, error) {
	var (
		st progress.LoadingState
		ok bool
	)
	err := t.call(ctx, "get", func() {
		st, ok = t.store.Get(id)
	})
	return st, ok, err
}

// All returns every tracked state ordered by id.
func (t *Tracker) All(ctx context.Context) ([]progress.LoadingState, error) {
	var out []progress.LoadingState
	err := t.call(ctx, "all", func() {
		out = t.store.All()
	})
	return out, err
}

// ByCategories returns the states intersecting mask.
func (t *Tracker) ByCategories(ctx context.Context, mask progress.CategorySet) ([]progress.LoadingState, error) {
	var out []progress.LoadingState
	err := t.call(ctx, "by categories", func() {
		out = t.store.ByCategories(mask)
	})
	return out, err
}

// IsAnyActive reports whether a non-ignored load matching mask is active.
func (t *Tracker) IsAnyActive(ctx context.Context, mask progress.CategorySet, ignoreIDs ...string) (bool, error) {
	var active bool
	err := t.call(ctx, "is any active", func() {
		active = t.store.IsAnyActive(mask, ignoreIDs...)
	})
	return active, err
}

// Subscribe registers observer on the Store. The observer runs on the loop.
func (t *Tracker) Subscribe(ctx context.Context, observer progress.Observer) (progress.Subscription, error) {
	var sub progress.Subscription
	err := t.call(ctx, "subscribe", func() {
		sub = t.store.Subscribe(observer)
	})
	return sub, err
}

// Unsubscribe removes a subscription.
func (t *Tracker) Unsubscribe(ctx context.Context, sub progress.Subscription) (bool, error) {
	var ok bool
	err := t.call(ctx, "unsubscribe", func() {
		ok = t.store.Unsubscribe(sub)
	})
	return ok, err
}

// Attach starts c on the loop.
func (t *Tracker) Attach(ctx context.Context, c Component) error {
	return t.call(ctx, "attach", c.Start)
}

// Detach stops c on the loop.
func (t *Tracker) Detach(ctx context.Context, c Component) error {
	return t.call(ctx, "detach", c.Stop)
}

// Do runs fn with the Store on the loop.
func (t *Tracker) Do(ctx context.Context, fn func(*progress.Store)) error {
	return t.call(ctx, "do", func() {
		fn(t.store)
	})
}

// Close cancels pending cleanups and stops the loop after queued calls finish.
func (t *Tracker) Close(ctx context.Context) error {
	if err := t.loop.Post(t.store.Close); err != nil {
		t.logger.Debug("store close skipped", zap.Error(err))
	}
	if err := t.loop.Close(ctx); err != nil {
		return fmt.Errorf("close tracker: %w", err)
	}
	return nil
}

func (t *Tracker) call(ctx context.Context, op string, fn func()) error {
	if err := t.loop.Call(ctx, fn); err != nil {
		return fmt.Errorf("tracker %s: %w", op, err)
	}
	return nil
}
