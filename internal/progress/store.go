package progress

import (
	"runtime/debug"
	"sort"
	"time"

	"go.uber.org/zap"
)

// DefaultCleanupDelay is how long a terminal load stays queryable before the
// Store removes it.
const DefaultCleanupDelay = 5 * time.Second

// StoreConfig controls the Store.
//   - CleanupDelay: delay before a terminal load is removed (default 5s, negative disables).
//   - Clock: time source for state timestamps (defaults to UTC wall clock).
//   - Scheduler: runs deferred cleanup; must deliver back onto the Store's context.
//     When nil, due cleanups run at the start of the Store's own calls.
//   - Logger: optional structured logger.
type StoreConfig struct {
	CleanupDelay time.Duration
	Clock        Clock
	Scheduler    Scheduler
	Logger       *zap.Logger
}

// Subscription identifies a registered observer.
type Subscription uint64

type entry struct {
	state   LoadingState
	cleanup Timer
}

type observerEntry struct {
	handle   Subscription
	observer Observer
	active   bool
}

// Store is the authoritative id→state map. It is not safe for concurrent use:
// every method, including the scheduled cleanup, must run on one execution
// context (see internal/loop). Observers are invoked synchronously.
type Store struct {
	cfg       StoreConfig
	logger    *zap.Logger
	states    map[string]*entry
	observers []*observerEntry

	pending     *pendingQueue
	nextHandle  Subscription
	nextVersion uint64
	closed      bool
}

// NewStore builds an empty Store.
func NewStore(cfg StoreConfig) *Store {
	if cfg.CleanupDelay == 0 {
		cfg.CleanupDelay = DefaultCleanupDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	var pending *pendingQueue
	if cfg.Scheduler == nil {
		pending = &pendingQueue{clock: cfg.Clock}
		cfg.Scheduler = pending
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger,
		states:  make(map[string]*entry),
		pending: pending,
	}
}

// Report upserts the state for id and emits an added or updated change. An
// empty id is logged and ignored.
func (s *Store) Report(id string, phase Phase, categories CategorySet, progress float64, message string) {
	if id == "" {
		s.logger.Warn("ignoring progress report without load id",
			zap.String("phase", phase.ID),
			zap.String("message", message),
		)
		return
	}
	s.runDue()
	now := s.cfg.Clock.Now()
	kind := ChangeUpdated
	e, ok := s.states[id]
	if !ok {
		e = &entry{}
		s.states[id] = e
		kind = ChangeAdded
	} else {
		if now.Before(e.state.Timestamp) {
			now = e.state.Timestamp
		}
		s.cancelCleanup(e)
	}
	s.nextVersion++
	e.state = LoadingState{
		ID:         id,
		Phase:      phase,
		Progress:   clampProgress(progress),
		Message:    message,
		Categories: categories,
		Timestamp:  now,
		version:    s.nextVersion,
	}
	if phase.Terminal {
		s.scheduleCleanup(e)
	}
	s.emit(Change{State: e.state, Kind: kind})
}

// Clear removes id and emits a removed change with its last state. Clearing an
// unknown id does nothing.
func (s *Store) Clear(id string) {
	s.runDue()
	e, ok := s.states[id]
	if !ok {
		return
	}
	s.cancelCleanup(e)
	s.remove(id, e)
}

// Get returns the current state for id.
func (s *Store) Get(id string) (LoadingState, bool) {
	s.runDue()
	e, ok := s.states[id]
	if !ok {
		return LoadingState{}, false
	}
	return e.state, true
}

// All returns a snapshot of every state ordered by id.
func (s *Store) All() []LoadingState {
	s.runDue()
	out := make([]LoadingState, 0, len(s.states))
	for _, e := range s.states {
		out = append(out, e.state)
	}
	sortStates(out)
	return out
}

// ByCategories returns a snapshot of the states whose categories intersect
// mask, ordered by id.
func (s *Store) ByCategories(mask CategorySet) []LoadingState {
	s.runDue()
	out := make([]LoadingState, 0)
	if mask.IsNone() {
		return out
	}
	for _, e := range s.states {
		if e.state.Categories.Matches(mask) {
			out = append(out, e.state)
		}
	}
	sortStates(out)
	return out
}

// IsAnyActive reports whether a non-ignored state matching mask is still in a
// non-terminal phase.
func (s *Store) IsAnyActive(mask CategorySet, ignoreIDs ...string) bool {
	return AnyActive(s.ByCategories(mask), ignoreSet(ignoreIDs))
}

// Len returns the number of tracked loads.
func (s *Store) Len() int {
	s.runDue()
	return len(s.states)
}

// Subscribe registers an observer. Observers are notified in registration
// order. A nil observer is ignored and yields the zero Subscription.
func (s *Store) Subscribe(observer Observer) Subscription {
	if observer == nil {
		s.logger.Warn("ignoring nil observer subscription")
		return 0
	}
	s.nextHandle++
	s.observers = append(s.observers, &observerEntry{
		handle:   s.nextHandle,
		observer: observer,
		active:   true,
	})
	return s.nextHandle
}

// Unsubscribe removes an observer. It is safe to call from inside an
// observer; the removed observer will not see the rest of the in-flight
// dispatch. It returns false for unknown handles.
func (s *Store) Unsubscribe(handle Subscription) bool {
	for i, o := range s.observers {
		if o.handle != handle {
			continue
		}
		o.active = false
		s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
		return true
	}
	return false
}

// Close cancels all pending cleanups. Reports are still accepted afterwards
// but terminal loads are no longer scheduled for removal.
func (s *Store) Close() {
	s.closed = true
	for _, e := range s.states {
		s.cancelCleanup(e)
	}
}

func (s *Store) remove(id string, e *entry) {
	delete(s.states, id)
	s.emit(Change{State: e.state, Kind: ChangeRemoved})
}

func (s *Store) scheduleCleanup(e *entry) {
	if s.cfg.CleanupDelay < 0 || s.closed {
		return
	}
	id, version := e.state.ID, e.state.version
	e.cleanup = s.cfg.Scheduler.AfterFunc(s.cfg.CleanupDelay, func() {
		s.expire(id, version)
	})
}

// expire removes id only if it still holds the terminal state version that
// scheduled the cleanup.
func (s *Store) expire(id string, version uint64) {
	e, ok := s.states[id]
	if !ok {
		return
	}
	if e.state.version != version || !e.state.Phase.Terminal {
		s.logger.Debug("skipping cleanup of superseded load",
			zap.String("load_id", id),
			zap.Uint64("scheduled_version", version),
			zap.Uint64("current_version", e.state.version),
		)
		return
	}
	e.cleanup = nil
	s.remove(id, e)
}

// runDue fires the default queue's expired cleanups on the caller's context.
func (s *Store) runDue() {
	if s.pending != nil {
		s.pending.runDue()
	}
}

func (s *Store) cancelCleanup(e *entry) {
	if e.cleanup == nil {
		return
	}
	e.cleanup.Stop()
	e.cleanup = nil
}

func (s *Store) emit(change Change) {
	observers := append([]*observerEntry(nil), s.observers...)
	for _, o := range observers {
		if !o.active {
			continue
		}
		s.safeObserve(o, change)
	}
}

// safeObserve recovers observer panics so one misbehaving observer cannot
// block delivery to the others.
func (s *Store) safeObserve(o *observerEntry, change Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("observer panicked",
				zap.Uint64("subscription", uint64(o.handle)),
				zap.String("load_id", change.State.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	o.observer.Observe(change)
}

// pendingQueue is the Scheduler used when none is configured. Nothing fires
// on its own: the Store runs due tasks when it is next called.
type pendingQueue struct {
	clock Clock
	tasks []*pendingTask
}

type pendingTask struct {
	due  time.Time
	fn   func()
	done bool
}

func (q *pendingQueue) AfterFunc(d time.Duration, fn func()) Timer {
	t := &pendingTask{due: q.clock.Now().Add(d), fn: fn}
	q.tasks = append(q.tasks, t)
	return t
}

func (q *pendingQueue) runDue() {
	if len(q.tasks) == 0 {
		return
	}
	now := q.clock.Now()
	var due []*pendingTask
	keep := make([]*pendingTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		switch {
		case t.done:
		case t.due.After(now):
			keep = append(keep, t)
		default:
			due = append(due, t)
		}
	}
	q.tasks = keep
	for _, t := range due {
		if t.done {
			continue
		}
		t.done = true
		t.fn()
	}
}

func (t *pendingTask) Stop() bool {
	if t.done {
		return false
	}
	t.done = true
	return true
}

// AnyActive reports whether any state not listed in ignore is non-terminal.
func AnyActive(states []LoadingState, ignore map[string]struct{}) bool {
	for _, st := range states {
		if _, skip := ignore[st.ID]; skip {
			continue
		}
		if !st.Phase.Terminal {
			return true
		}
	}
	return false
}

func ignoreSet(ids []string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func sortStates(states []LoadingState) {
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
}
