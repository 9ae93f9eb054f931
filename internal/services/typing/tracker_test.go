package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTrackerProgressSequence(t *testing.T) {
	tracker := NewTracker("cat dog", start)

	var progress []int
	for i, key := range "cat dog" {
		snap := tracker.Press(key, start.Add(time.Duration(i+1)*time.Second))
		require.True(t, snap.Accepted)
		progress = append(progress, snap.Progress)
		assert.Equal(t, i == 6, snap.Finished)
	}

	assert.Equal(t, []int{14, 29, 43, 57, 71, 86, 100}, progress)
}

func TestTrackerMismatchCountsError(t *testing.T) {
	tracker := NewTracker("cat", start)

	snap := tracker.Press('x', start.Add(time.Second))
	assert.False(t, snap.Accepted)
	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, 1, snap.Errors)
	assert.Equal(t, 0, snap.Accuracy)

	snap = tracker.Press('c', start.Add(2*time.Second))
	assert.True(t, snap.Accepted)
	assert.Equal(t, 1, snap.Index)
	assert.Equal(t, 50, snap.Accuracy)
}

func TestTrackerIgnoresKeysAfterFinish(t *testing.T) {
	tracker := NewTracker("ab", start)
	tracker.Press('a', start.Add(time.Second))
	tracker.Press('b', start.Add(2*time.Second))

	snap := tracker.Press('c', start.Add(3*time.Second))
	assert.False(t, snap.Accepted)
	assert.True(t, snap.Finished)
	assert.Equal(t, 0, snap.Errors)
	assert.Equal(t, 100, snap.Progress)
}

func TestTrackerMultibyteText(t *testing.T) {
	tracker := NewTracker("né", start)

	tracker.Press('n', start.Add(time.Second))
	snap := tracker.Press('é', start.Add(2*time.Second))
	assert.True(t, snap.Finished)
	assert.Equal(t, 2, snap.Length)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, Progress(0, 7))
	assert.Equal(t, 100, Progress(7, 7))
	assert.Equal(t, 13, Progress(1, 8))
	assert.Equal(t, 0, Progress(3, 0))
}

func TestWPM(t *testing.T) {
	tests := []struct {
		name    string
		index   int
		elapsed time.Duration
		want    int
	}{
		{"zero elapsed", 10, 0, 0},
		{"negative elapsed", 10, -time.Second, 0},
		{"nothing typed", 0, time.Minute, 0},
		{"one word per minute", 5, time.Minute, 1},
		{"sixty wpm", 50, 10 * time.Second, 60},
		{"rounds", 7, time.Minute, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WPM(tt.index, tt.elapsed)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0)
		})
	}
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 100, Accuracy(0, 0))
	assert.Equal(t, 100, Accuracy(10, 0))
	assert.Equal(t, 90, Accuracy(9, 1))
	assert.Equal(t, 0, Accuracy(0, 3))
}
