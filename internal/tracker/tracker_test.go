package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/loadstate/internal/gate"
	"github.com/JakeFAU/loadstate/internal/loop"
	"github.com/JakeFAU/loadstate/internal/progress"
)

func newTracker(t *testing.T, delay time.Duration) *Tracker {
	t.Helper()
	tr := New(Config{CleanupDelay: delay})
	t.Cleanup(func() {
		require.NoError(t, tr.Close(context.Background()))
	})
	return tr
}

func TestConcurrentReports(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, -1)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("load-%02d", i)
			for step := 0; step <= 10; step++ {
				assert.NoError(t, tr.Report(ctx, id, progress.PhaseInProgress, progress.CategoryData, float64(step)/10, ""))
			}
		}()
	}
	wg.Wait()

	all, err := tr.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 20)
	for _, st := range all {
		require.Equal(t, 1.0, st.Progress)
	}

	active, err := tr.IsAnyActive(ctx, progress.CategoryData)
	require.NoError(t, err)
	require.True(t, active)
}

func TestTimedOutReportIsNotApplied(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, -1)
	release := make(chan struct{})
	require.NoError(t, tr.loop.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := tr.Report(ctx, "late", progress.PhaseStarted, progress.CategoryData, 0, "")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	_, ok, err := tr.Get(context.Background(), "late")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestQueriesAndClear(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, -1)
	ctx := context.Background()

	require.NoError(t, tr.Report(ctx, "a", progress.PhaseStarted, progress.CategoryData, 0, "go"))
	require.NoError(t, tr.Report(ctx, "b", progress.PhaseComplete, progress.CategoryStyling, 1, ""))

	st, ok, err := tr.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "go", st.Message)

	styling, err := tr.ByCategories(ctx, progress.CategoryStyling)
	require.NoError(t, err)
	require.Len(t, styling, 1)

	active, err := tr.IsAnyActive(ctx, progress.CategoryData, "a")
	require.NoError(t, err)
	require.False(t, active)

	require.NoError(t, tr.Clear(ctx, "a"))
	_, ok, err = tr.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAttachedGateReceivesActions(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, -1)
	ctx := context.Background()

	var completed []string
	g := gate.New(tr.Store(), gate.Config{Filter: progress.CategoryData, RequireAllComplete: true}, gate.Actions{
		OnCompleted: func(st progress.LoadingState) { completed = append(completed, st.ID) },
	})
	require.NoError(t, tr.Attach(ctx, g))

	require.NoError(t, tr.Report(ctx, "A", progress.PhaseStarted, progress.CategoryData, 0, ""))
	require.NoError(t, tr.Report(ctx, "B", progress.PhaseStarted, progress.CategoryData|progress.CategoryStyling, 0, ""))
	require.NoError(t, tr.Report(ctx, "A", progress.PhaseComplete, progress.CategoryData, 1, ""))
	require.NoError(t, tr.Report(ctx, "B", progress.PhaseComplete, progress.CategoryData|progress.CategoryStyling, 1, ""))
	require.NoError(t, tr.Detach(ctx, g))
	require.NoError(t, tr.Report(ctx, "C", progress.PhaseComplete, progress.CategoryData, 1, ""))

	var got []string
	require.NoError(t, tr.Do(ctx, func(*progress.Store) { got = append(got, completed...) }))
	require.Equal(t, []string{"B"}, got)
}

func TestSubscribeObserver(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, -1)
	ctx := context.Background()

	var kinds []progress.ChangeKind
	sub, err := tr.Subscribe(ctx, progress.ObserverFunc(func(c progress.Change) {
		kinds = append(kinds, c.Kind)
	}))
	require.NoError(t, err)

	require.NoError(t, tr.Report(ctx, "a", progress.PhaseStarted, progress.CategoryData, 0, ""))
	require.NoError(t, tr.Clear(ctx, "a"))
	ok, err := tr.Unsubscribe(ctx, sub)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tr.Report(ctx, "b", progress.PhaseStarted, progress.CategoryData, 0, ""))

	var got []progress.ChangeKind
	require.NoError(t, tr.Do(ctx, func(*progress.Store) { got = append(got, kinds...) }))
	require.Equal(t, []progress.ChangeKind{progress.ChangeAdded, progress.ChangeRemoved}, got)
}

func TestCleanupOnLoop(t *testing.T) {
	t.Parallel()

	tr := newTracker(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, tr.Report(ctx, "done", progress.PhaseComplete, progress.CategoryData, 1, ""))
	require.NoError(t, tr.Report(ctx, "reused", progress.PhaseFailed, progress.CategoryData, 1, ""))
	require.NoError(t, tr.Report(ctx, "reused", progress.PhaseStarted, progress.CategoryData, 0, ""))

	require.Eventually(t, func() bool {
		_, ok, err := tr.Get(ctx, "done")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	st, ok, err := tr.Get(ctx, "reused")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, progress.PhaseStarted, st.Phase)
}

func TestCallsAfterCloseFail(t *testing.T) {
	t.Parallel()

	tr := New(Config{})
	require.NoError(t, tr.Close(context.Background()))
	err := tr.Report(context.Background(), "a", progress.PhaseStarted, progress.CategoryData, 0, "")
	require.ErrorIs(t, err, loop.ErrClosed)
}
