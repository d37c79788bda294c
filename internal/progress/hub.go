package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: changes queued before the Hub starts coalescing per load (default 4096).
//   - MaxBatchChanges: largest batch handed to a sink; reaching it flushes at once (default 1000).
//   - MaxBatchWait: longest a queued change waits for a flush (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize      int
	MaxBatchChanges int
	MaxBatchWait    time.Duration
	SinkTimeout     time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultBufferSize      = 4096
	defaultMaxBatchChanges = 1000
	defaultMaxBatchWait    = 500 * time.Millisecond
	defaultSinkTimeout     = 10 * time.Second
	dropLogInterval        = 5 * time.Second
)

// HubStats counts changes the Hub did not deliver one by one. Coalesced
// updates were folded into a queued change for the same load; Dropped updates
// found the queue full and nothing queued for their load.
type HubStats struct {
	Coalesced int64
	Dropped   int64
}

// Hub batches Store changes on a background goroutine and fans them out to
// registered sinks. It implements Observer so it can be subscribed directly to
// a Store; Observe never blocks the Store's dispatch.
//
// Every change is queued while the queue holds fewer than BufferSize entries.
// Past that, an added or updated change replaces the queued change for the
// same load so the latest state still reaches the sinks, and is dropped only
// when that load has nothing queued. Removed changes are always queued, so
// sinks that track live loads never miss a removal.
type Hub struct {
	cfg         Config
	sinks       []Sink
	logger      *zap.Logger
	dropLimiter rateLimiter

	mu      sync.Mutex
	queue   []Change
	latest  map[string]int
	closed  bool
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	dropped atomic.Int64

	coalesced atomic.Int64
	dropTotal atomic.Int64
	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks. The returned Hub is immediately ready to accept changes.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchChanges <= 0 {
		cfg.MaxBatchChanges = defaultMaxBatchChanges
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
		latest:      make(map[string]int),
		wake:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go h.run()
	return h
}

// Observe queues a change for batching without blocking.
func (h *Hub) Observe(change Change) {
	if h == nil {
		return
	}
	if err := change.Validate(); err != nil {
		h.logger.Debug("discarding invalid change", zap.Error(err))
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	id := change.State.ID
	switch i, queued := h.latest[id]; {
	case change.Kind == ChangeRemoved:
		h.queue = append(h.queue, change)
		delete(h.latest, id)
	case len(h.queue) < h.cfg.BufferSize:
		h.latest[id] = len(h.queue)
		h.queue = append(h.queue, change)
	case queued:
		h.queue[i] = coalesce(h.queue[i], change)
		h.coalesced.Add(1)
	default:
		h.mu.Unlock()
		h.drop(id)
		return
	}
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// coalesce folds next into a queued change for the same load. A load that
// was added inside the batch is still reported as added.
func coalesce(queued, next Change) Change {
	if queued.Kind == ChangeAdded {
		next.Kind = ChangeAdded
	}
	return next
}

func (h *Hub) drop(id string) {
	h.dropTotal.Add(1)
	h.dropped.Add(1)
	if h.dropLimiter.Allow(time.Now()) {
		count := h.dropped.Swap(0)
		h.logger.Warn("changes dropped due to backpressure",
			zap.Int64("dropped", count),
			zap.String("last_load_id", id),
		)
	}
}

// Stats returns the coalesced and dropped totals since the Hub started.
func (h *Hub) Stats() HubStats {
	return HubStats{Coalesced: h.coalesced.Load(), Dropped: h.dropTotal.Load()}
}

// Close flushes queued changes, closes the sinks, and blocks until the
// background goroutine exits. Changes observed after Close are ignored. It is
// safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("change hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	// The timer starts with the first change of a batch and is not pushed
	// back by later ones, so MaxBatchWait bounds delivery latency.
	var deadline <-chan time.Time
	var timer *time.Timer
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		deadline = nil
	}
	for {
		select {
		case <-h.wake:
			n := h.pending()
			switch {
			case n >= h.cfg.MaxBatchChanges:
				stop()
				h.flush(h.take())
			case n > 0 && deadline == nil:
				timer = time.NewTimer(h.cfg.MaxBatchWait)
				deadline = timer.C
			}
		case <-deadline:
			deadline = nil
			h.flush(h.take())
		case <-h.stopCh:
			stop()
			h.flush(h.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// take empties the queue. Coalescing only applies to changes still queued.
func (h *Hub) take() []Change {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.queue
	h.queue = nil
	clear(h.latest)
	return out
}

// flush hands changes to every sink in chunks of at most MaxBatchChanges.
func (h *Hub) flush(changes []Change) {
	for len(changes) > 0 {
		n := min(len(changes), h.cfg.MaxBatchChanges)
		h.deliver(changes[:n])
		changes = changes[n:]
	}
}

func (h *Hub) deliver(batch []Change) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("change sink consume failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("change sink close failed", zap.Error(err))
		}
	}
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
