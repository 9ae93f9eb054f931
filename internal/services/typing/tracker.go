// Package typing scores keystrokes against a passage. It is shared by the
// solo trainer and the race reporter so both use the same accuracy model.
package typing

import (
	"math"
	"time"
)

// charsPerWord is the conventional word length used for WPM
const charsPerWord = 5

// Snapshot is the scored state after a keystroke
type Snapshot struct {
	Index    int // Characters typed correctly so far
	Length   int // Passage length in characters
	Errors   int // Mismatched keystrokes
	Progress int // 0..100
	WPM      int
	Accuracy int // 0..100
	Elapsed  time.Duration

	// Accepted is true when the keystroke matched and advanced the index
	Accepted bool

	// Finished is true once the whole passage has been typed
	Finished bool
}

// Tracker follows one typist through one passage. It is not safe for
// concurrent use.
type Tracker struct {
	text      []rune
	index     int
	errors    int
	startedAt time.Time
}

// NewTracker creates a tracker whose elapsed time is measured from startedAt
func NewTracker(text string, startedAt time.Time) *Tracker {
	return &Tracker{
		text:      []rune(text),
		startedAt: startedAt,
	}
}

// Text returns the passage being typed
func (t *Tracker) Text() string {
	return string(t.text)
}

// StartedAt returns the instant elapsed time is measured from
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// Finished returns true once the whole passage has been typed
func (t *Tracker) Finished() bool {
	return t.index >= len(t.text)
}

// Press scores a keystroke. A key matching the next character advances the
// index; any other key counts as an error. Keys after the finish are ignored.
func (t *Tracker) Press(key rune, now time.Time) Snapshot {
	if t.Finished() {
		return t.Snapshot(now)
	}

	accepted := key == t.text[t.index]
	if accepted {
		t.index++
	} else {
		t.errors++
	}

	snap := t.Snapshot(now)
	snap.Accepted = accepted
	return snap
}

// Snapshot returns the current scores without consuming a keystroke
func (t *Tracker) Snapshot(now time.Time) Snapshot {
	elapsed := now.Sub(t.startedAt)
	return Snapshot{
		Index:    t.index,
		Length:   len(t.text),
		Errors:   t.errors,
		Progress: Progress(t.index, len(t.text)),
		WPM:      WPM(t.index, elapsed),
		Accuracy: Accuracy(t.index, t.errors),
		Elapsed:  elapsed,
		Finished: t.Finished(),
	}
}

// Progress returns round(index / length * 100), or 0 for an empty passage
func Progress(index, length int) int {
	if length <= 0 {
		return 0
	}
	return int(math.Round(float64(index) / float64(length) * 100))
}

// WPM returns round((index / 5) / elapsedMinutes). It is 0 when no time has
// elapsed and never negative.
func WPM(index int, elapsed time.Duration) int {
	if elapsed <= 0 || index <= 0 {
		return 0
	}
	words := float64(index) / charsPerWord
	return int(math.Round(words / elapsed.Minutes()))
}

// Accuracy returns round(index / (index + errors) * 100), or 100 before any keystroke
func Accuracy(index, errors int) int {
	total := index + errors
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(index) / float64(total) * 100))
}
