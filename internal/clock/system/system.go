// Package system provides the wall clock used for load timestamps.
package system

import (
	"time"

	"github.com/JakeFAU/loadstate/internal/progress"
)

// Clock implements progress.Clock using time.Now in UTC.
type Clock struct{}

var _ progress.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
