package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock provides the time operations the race core schedules on. It is a
// subset of clockwork.Clock so tests can drive timers with a fake clock.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration

	// AfterFunc runs f in its own goroutine once d has elapsed
	AfterFunc(d time.Duration, f func()) clockwork.Timer

	NewTicker(d time.Duration) clockwork.Ticker
}

// New returns a Clock backed by the system clock
func New() Clock {
	return clockwork.NewRealClock()
}
