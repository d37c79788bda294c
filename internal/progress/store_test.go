package progress

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestStoreReportLastWriteWins ensures Get reflects exactly the last report.
func TestStoreReportLastWriteWins(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t, time.Second)
	store.Report("job1", PhaseStarted, CategoryData, 0, "starting")
	store.Report("job1", PhaseInProgress, CategoryData|CategoryStyling, 0.4, "fetching")
	store.Report("job1", PhaseInProgress, CategoryStyling, 0.7, "parsing")

	got, ok := store.Get("job1")
	require.True(t, ok)
	require.Equal(t, PhaseInProgress, got.Phase)
	require.InDelta(t, 0.7, got.Progress, 1e-9)
	require.Equal(t, "parsing", got.Message)
	require.Equal(t, CategoryStyling, got.Categories)
}

// TestStoreTimestampsNeverDecrease clamps clock regressions to the previous timestamp.
func TestStoreTimestampsNeverDecrease(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1000, 0).UTC()}
	store := NewStore(StoreConfig{Clock: clock, Scheduler: newManualScheduler()})

	store.Report("job1", PhaseStarted, CategoryData, 0, "")
	first, _ := store.Get("job1")

	clock.now = clock.now.Add(-time.Minute)
	store.Report("job1", PhaseInProgress, CategoryData, 0.5, "")
	second, _ := store.Get("job1")
	require.False(t, second.Timestamp.Before(first.Timestamp))

	clock.now = clock.now.Add(2 * time.Minute)
	store.Report("job1", PhaseInProgress, CategoryData, 0.6, "")
	third, _ := store.Get("job1")
	require.True(t, third.Timestamp.After(second.Timestamp))
	require.Greater(t, third.Version(), second.Version())
}

// TestStoreReportEmptyIDIgnored verifies empty ids create nothing and emit nothing.
func TestStoreReportEmptyIDIgnored(t *testing.T) {
	t.Parallel()

	store, _, rec := newTestStore(t, time.Second)
	store.Report("", PhaseStarted, CategoryData, 0, "nobody")

	require.Zero(t, store.Len())
	require.Empty(t, store.All())
	require.Empty(t, rec.changes)
}

// TestStoreChangeKinds checks the added/updated/removed sequence.
func TestStoreChangeKinds(t *testing.T) {
	t.Parallel()

	store, _, rec := newTestStore(t, time.Second)
	store.Report("job1", PhaseStarted, CategoryData, 0, "")
	store.Report("job1", PhaseInProgress, CategoryData, 0.5, "")
	store.Clear("job1")
	store.Clear("job1")
	store.Clear("never-seen")

	require.Equal(t, []ChangeKind{ChangeAdded, ChangeUpdated, ChangeRemoved}, rec.kinds())
	removed := rec.changes[2].State
	require.Equal(t, "job1", removed.ID)
	require.Equal(t, PhaseInProgress, removed.Phase)
	_, ok := store.Get("job1")
	require.False(t, ok)
}

// TestStoreObserverOrder asserts observers run in registration order.
func TestStoreObserverOrder(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{Scheduler: newManualScheduler()})
	var order []string
	store.Subscribe(ObserverFunc(func(Change) { order = append(order, "first") }))
	store.Subscribe(ObserverFunc(func(Change) { order = append(order, "second") }))
	store.Subscribe(ObserverFunc(func(Change) { order = append(order, "third") }))

	store.Report("job1", PhaseStarted, CategoryData, 0, "")
	require.Equal(t, []string{"first", "second", "third"}, order)
}

// TestStoreUnsubscribeDuringDispatch skips observers removed mid-dispatch.
func TestStoreUnsubscribeDuringDispatch(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{Scheduler: newManualScheduler()})
	var secondCalls int
	var second Subscription
	store.Subscribe(ObserverFunc(func(Change) {
		store.Unsubscribe(second)
	}))
	second = store.Subscribe(ObserverFunc(func(Change) { secondCalls++ }))

	store.Report("job1", PhaseStarted, CategoryData, 0, "")
	store.Report("job1", PhaseInProgress, CategoryData, 0.1, "")

	require.Zero(t, secondCalls)
	require.False(t, store.Unsubscribe(second))
	require.Zero(t, store.Subscribe(nil))
}

// TestStoreObserverPanicRecovered keeps delivering after a panicking observer.
func TestStoreObserverPanicRecovered(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{Scheduler: newManualScheduler()})
	store.Subscribe(ObserverFunc(func(Change) { panic("boom") }))
	rec := &recordingObserver{}
	store.Subscribe(rec)

	require.NotPanics(t, func() {
		store.Report("job1", PhaseStarted, CategoryData, 0, "")
	})
	require.Len(t, rec.changes, 1)
}

// TestStoreCleanupRemovesTerminal removes terminal loads after the delay.
func TestStoreCleanupRemovesTerminal(t *testing.T) {
	t.Parallel()

	store, sched, rec := newTestStore(t, 5*time.Second)
	store.Report("job1", PhaseStarted, CategoryData, 0, "")
	store.Report("job1", PhaseComplete, CategoryData, 1, "done")

	sched.Advance(4 * time.Second)
	_, ok := store.Get("job1")
	require.True(t, ok)

	sched.Advance(time.Second)
	require.Empty(t, store.All())
	require.Equal(t, []ChangeKind{ChangeAdded, ChangeUpdated, ChangeRemoved}, rec.kinds())
	require.Equal(t, PhaseComplete, rec.changes[2].State.Phase)
}

// TestStoreCleanupSkipsReusedID is the regression test for a terminal load whose
// id is reused by a new, non-terminal report before the cleanup fires.
func TestStoreCleanupSkipsReusedID(t *testing.T) {
	t.Parallel()

	store, sched, _ := newTestStore(t, 5*time.Second)
	store.Report("job1", PhaseFailed, CategoryData, 1, "error")
	sched.Advance(2 * time.Second)
	store.Report("job1", PhaseStarted, CategoryData, 0, "retry")

	sched.Advance(10 * time.Second)
	got, ok := store.Get("job1")
	require.True(t, ok)
	require.Equal(t, PhaseStarted, got.Phase)
	require.Len(t, store.All(), 1)
}

// TestStoreCleanupRevalidatesVersion covers a cleanup that was already in flight
// when the superseding report arrived, so Stop could not cancel it.
func TestStoreCleanupRevalidatesVersion(t *testing.T) {
	t.Parallel()

	sched := &leakyScheduler{}
	store := NewStore(StoreConfig{CleanupDelay: time.Second, Scheduler: sched})
	rec := &recordingObserver{}
	store.Subscribe(rec)

	store.Report("job1", PhaseComplete, CategoryData, 1, "")
	store.Report("job1", PhaseInProgress, CategoryData, 0.2, "second run")
	store.Report("job2", PhaseComplete, CategoryData, 1, "")
	store.Report("job2", PhaseComplete, CategoryData, 1, "repeated")
	sched.FireAll()

	got, ok := store.Get("job1")
	require.True(t, ok)
	require.Equal(t, PhaseInProgress, got.Phase)
	_, ok = store.Get("job2")
	require.False(t, ok)
	require.Equal(t, 1, countKind(rec.changes, ChangeRemoved))
}

// TestStoreClearCancelsCleanup ensures a re-added id survives the old cleanup.
func TestStoreClearCancelsCleanup(t *testing.T) {
	t.Parallel()

	store, sched, rec := newTestStore(t, 5*time.Second)
	store.Report("job1", PhaseCancelled, CategoryData, 0, "")
	store.Clear("job1")
	store.Report("job1", PhaseComplete, CategoryData, 1, "again")

	sched.Advance(3 * time.Second)
	_, ok := store.Get("job1")
	require.True(t, ok)

	sched.Advance(2 * time.Second)
	_, ok = store.Get("job1")
	require.False(t, ok)
	require.Equal(t, 2, countKind(rec.changes, ChangeRemoved))
}

// TestStoreCleanupDisabled keeps terminal loads when the delay is negative.
func TestStoreCleanupDisabled(t *testing.T) {
	t.Parallel()

	store, sched, _ := newTestStore(t, -1)
	store.Report("job1", PhaseComplete, CategoryData, 1, "")
	sched.Advance(time.Hour)
	require.Equal(t, 1, store.Len())
	require.Empty(t, sched.timers)
}

// TestStoreCloseStopsCleanup cancels pending timers on Close.
func TestStoreCloseStopsCleanup(t *testing.T) {
	t.Parallel()

	store, sched, _ := newTestStore(t, time.Second)
	store.Report("job1", PhaseComplete, CategoryData, 1, "")
	store.Close()
	store.Report("job2", PhaseComplete, CategoryData, 1, "")
	sched.Advance(time.Minute)

	require.Equal(t, 2, store.Len())
}

// TestStoreByCategories filters by non-empty intersection.
func TestStoreByCategories(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t, time.Second)
	store.Report("a", PhaseStarted, CategoryData, 0, "")
	store.Report("b", PhaseStarted, CategoryData|CategoryAnalytics, 0, "")
	store.Report("c", PhaseStarted, CategoryStyling, 0, "")

	require.Equal(t, []string{"a", "b"}, ids(store.ByCategories(CategoryData)))
	require.Equal(t, []string{"b", "c"}, ids(store.ByCategories(CategoryAnalytics|CategoryStyling)))
	require.Empty(t, store.ByCategories(CategoryNone))
	require.Equal(t, []string{"a", "b", "c"}, ids(store.All()))
}

// TestStoreIsAnyActive honors ignore lists and terminal phases.
func TestStoreIsAnyActive(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t, time.Second)
	store.Report("a", PhaseComplete, CategoryData, 1, "")
	store.Report("b", PhaseInProgress, CategoryData, 0.5, "")
	store.Report("c", PhaseInProgress, CategoryStyling, 0.5, "")

	require.True(t, store.IsAnyActive(CategoryData))
	require.False(t, store.IsAnyActive(CategoryData, "b"))
	require.False(t, store.IsAnyActive(CategoryAnalytics))
	require.False(t, store.IsAnyActive(CategoryNone))
}

// TestStoreSnapshotsAreCopies verifies callers cannot mutate stored state.
func TestStoreSnapshotsAreCopies(t *testing.T) {
	t.Parallel()

	store, _, rec := newTestStore(t, time.Second)
	store.Report("job1", PhaseStarted, CategoryData, 0, "original")

	all := store.All()
	all[0].Message = "mutated"
	rec.changes[0].State.Message = "mutated"

	got, _ := store.Get("job1")
	require.Equal(t, "original", got.Message)
}

// TestStoreClampsProgress keeps progress within [0,1].
func TestStoreClampsProgress(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t, time.Second)
	store.Report("high", PhaseInProgress, CategoryData, 4, "")
	store.Report("low", PhaseInProgress, CategoryData, -2, "")

	high, _ := store.Get("high")
	low, _ := store.Get("low")
	require.Equal(t, 1.0, high.Progress)
	require.Equal(t, 0.0, low.Progress)
}

// TestStoreDefaultSchedulerExpiresOnCaller covers the built-in cleanup queue:
// terminal loads expire during the Store's own calls, never from a timer
// goroutine.
func TestStoreDefaultSchedulerExpiresOnCaller(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1000, 0).UTC()}
	store := NewStore(StoreConfig{CleanupDelay: time.Second, Clock: clock})
	rec := &recordingObserver{}
	store.Subscribe(rec)

	store.Report("job1", PhaseComplete, CategoryData, 1, "done")
	store.Report("job2", PhaseInProgress, CategoryData, 0.5, "")

	clock.now = clock.now.Add(500 * time.Millisecond)
	_, ok := store.Get("job1")
	require.True(t, ok)

	clock.now = clock.now.Add(600 * time.Millisecond)
	_, ok = store.Get("job1")
	require.False(t, ok)
	require.Equal(t, 1, countKind(rec.changes, ChangeRemoved))
	require.Equal(t, []string{"job2"}, ids(store.All()))
}

// TestStoreDefaultSchedulerSkipsReusedID keeps a load that was reported again
// before its cleanup came due.
func TestStoreDefaultSchedulerSkipsReusedID(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Unix(1000, 0).UTC()}
	store := NewStore(StoreConfig{CleanupDelay: time.Second, Clock: clock})

	store.Report("job1", PhaseFailed, CategoryData, 1, "boom")
	clock.now = clock.now.Add(500 * time.Millisecond)
	store.Report("job1", PhaseStarted, CategoryData, 0, "retry")
	clock.now = clock.now.Add(time.Minute)

	got, ok := store.Get("job1")
	require.True(t, ok)
	require.Equal(t, PhaseStarted, got.Phase)
}

// TestStoreDefaultConfigSingleGoroutine exercises the zero-config Store from
// one goroutine with real time; run with -race.
func TestStoreDefaultConfigSingleGoroutine(t *testing.T) {
	t.Parallel()

	store := NewStore(StoreConfig{CleanupDelay: time.Millisecond})
	removed := 0
	store.Subscribe(ObserverFunc(func(c Change) {
		if c.Kind == ChangeRemoved {
			removed++
		}
	}))

	for i := 0; i < 200; i++ {
		store.Report(fmt.Sprintf("job%d", i), PhaseComplete, CategoryData, 1, "")
		store.Get(fmt.Sprintf("job%d", i))
	}
	time.Sleep(5 * time.Millisecond)

	require.Zero(t, store.Len())
	require.Equal(t, 200, removed)
}

func newTestStore(t *testing.T, delay time.Duration) (*Store, *manualScheduler, *recordingObserver) {
	t.Helper()
	sched := newManualScheduler()
	store := NewStore(StoreConfig{CleanupDelay: delay, Scheduler: sched})
	rec := &recordingObserver{}
	store.Subscribe(rec)
	return store, sched, rec
}

type recordingObserver struct {
	changes []Change
}

func (r *recordingObserver) Observe(change Change) {
	r.changes = append(r.changes, change)
}

func (r *recordingObserver) kinds() []ChangeKind {
	out := make([]ChangeKind, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Kind)
	}
	return out
}

func countKind(changes []Change, kind ChangeKind) int {
	n := 0
	for _, c := range changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func ids(states []LoadingState) []string {
	out := make([]string, 0, len(states))
	for _, s := range states {
		out = append(out, s.ID)
	}
	return out
}

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	return c.now
}

// manualScheduler fires timers only when Advance moves virtual time past them.
type manualScheduler struct {
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{}
}

func (m *manualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{at: m.now + d, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualScheduler) Advance(d time.Duration) {
	m.now += d
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.at <= m.now {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		if t.stopped {
			continue
		}
		t.fired = true
		t.fn()
	}
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// leakyScheduler ignores Stop, like a timer that already fired and queued its
// callback before the cancellation arrived.
type leakyScheduler struct {
	pending []func()
}

func (l *leakyScheduler) AfterFunc(_ time.Duration, fn func()) Timer {
	l.pending = append(l.pending, fn)
	return leakyTimer{}
}

func (l *leakyScheduler) FireAll() {
	pending := l.pending
	l.pending = nil
	for _, fn := range pending {
		fn()
	}
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }
