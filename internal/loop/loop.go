// Package loop provides the single execution context the progress Store
// requires. Tasks posted from any goroutine run one at a time, in order, on
// the loop goroutine.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// ErrClosed is returned when posting to a loop that is shutting down.
var ErrClosed = errors.New("loop closed")

const defaultBufferSize = 256

// Config controls the Loop.
//   - BufferSize: size of the task channel (default 256).
//   - Logger: optional structured logger used for task panics.
type Config struct {
	BufferSize int
	Logger     *zap.Logger
}

// Loop runs tasks sequentially on a dedicated goroutine.
type Loop struct {
	tasks  chan func()
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	closed atomic.Bool

	closeOnce sync.Once
}

var _ progress.Scheduler = (*Loop)(nil)

// New starts a Loop.
func New(cfg Config) *Loop {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		tasks:  make(chan func(), cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Post enqueues fn without waiting for it to run. It blocks while the task
// buffer is full and returns ErrClosed once shutdown has begun.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if l.closed.Load() {
		return ErrClosed
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stopCh:
		return ErrClosed
	}
}

const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

// Call runs fn on the loop and waits for it to return. If ctx ends before fn
// starts, fn is skipped and the context error is returned; once fn has
// started, Call waits for it. It must not be called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("loop call: %w", err)
	}
	var state atomic.Int32
	done := make(chan struct{})
	err := l.Post(func() {
		defer close(done)
		if !state.CompareAndSwap(callPending, callRunning) {
			return
		}
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if state.CompareAndSwap(callPending, callAbandoned) {
			return fmt.Errorf("loop call: %w", ctx.Err())
		}
		<-done
		return nil
	case <-l.doneCh:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// AfterFunc implements progress.Scheduler: fn is posted to the loop once d
// has elapsed. Stopping the returned timer from the loop guarantees fn will
// not run, even if the timer already fired.
func (l *Loop) AfterFunc(d time.Duration, fn func()) progress.Timer {
	t := &timer{}
	t.t = time.AfterFunc(d, func() {
		err := l.Post(func() {
			if t.stopped.Load() {
				return
			}
			fn()
		})
		if err != nil {
			l.logger.Debug("dropping timer task", zap.Error(err))
		}
	})
	return t
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}

// Close stops accepting tasks, runs the ones already queued, and waits for
// the loop goroutine to exit. It is safe to call multiple times.
func (l *Loop) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.stopCh)
	})
	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("loop close wait: %w", ctx.Err())
	}
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		select {
		case fn := <-l.tasks:
			l.safeRun(fn)
		case <-l.stopCh:
			l.drain()
			return
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.tasks:
			l.safeRun(fn)
		default:
			return
		}
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	fn()
}

type timer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (t *timer) Stop() bool {
	t.stopped.Store(true)
	return t.t.Stop()
}
