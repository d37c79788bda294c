package progress

import (
	"context"
	"time"
)

// Sink consumes batches of changes forwarded by a Hub. Implementations must be
// safe for repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Change) error
	Close(ctx context.Context) error
}

// Observer receives every change emitted by a Store, synchronously and in
// registration order. Observers must not retain or mutate the Store from
// another goroutine.
type Observer interface {
	Observe(change Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Change)

// Observe calls f(change).
func (f ObserverFunc) Observe(change Change) {
	f(change)
}

// Timer is a cancellable scheduled action.
type Timer interface {
	// Stop prevents the action from firing. It returns false if the action has
	// already fired or been stopped.
	Stop() bool
}

// Scheduler runs fn after d. The Store only calls it from its own execution
// context and expects fn to be delivered back onto that context.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now().UTC()
}
