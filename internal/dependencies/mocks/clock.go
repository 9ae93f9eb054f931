package mocks

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/typerace/internal/dependencies/clock"
)

// Ensure the clockwork fake satisfies Clock
var _ clock.Clock = (*clockwork.FakeClock)(nil)

// NewMockClock creates a fake clock set to the given time. Timers created
// with AfterFunc only fire when the test advances the clock.
func NewMockClock(t time.Time) *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(t)
}
