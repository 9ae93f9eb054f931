package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/typerace/internal/dependencies/random"
)

var _ random.Random = (*MockRandom)(nil)

// MockRandom replays scripted values. Intn falls back to 0 and Token to a
// numbered placeholder once its queue runs dry, so unscripted calls stay
// deterministic.
type MockRandom struct {
	mu       sync.Mutex
	ints     []int
	tokens   []string
	fallback int
}

// NewMockRandom creates a MockRandom with nothing queued
func NewMockRandom() *MockRandom {
	return &MockRandom{}
}

// Intn pops the next queued value modulo n
func (r *MockRandom) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 || n <= 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

// Token pops the next queued token; n is ignored
func (r *MockRandom) Token(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) == 0 {
		r.fallback++
		return fmt.Sprintf("token-%d", r.fallback)
	}
	v := r.tokens[0]
	r.tokens = r.tokens[1:]
	return v
}

// QueueIntn scripts upcoming Intn results
func (r *MockRandom) QueueIntn(values ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ints = append(r.ints, values...)
}

// QueueToken scripts upcoming Token results
func (r *MockRandom) QueueToken(values ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, values...)
}
