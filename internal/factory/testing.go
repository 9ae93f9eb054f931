package factory

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcoot/typerace/internal/config"
	"github.com/mcoot/typerace/internal/dependencies/mocks"
	"github.com/mcoot/typerace/internal/storage/memory"
	"github.com/mcoot/typerace/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	MemoryStorage *memory.Storage
	MockClock     *clockwork.FakeClock
	MockRandom    *mocks.MockRandom
}

// TestConfig returns a factory configuration for tests: an open gate and
// the cheapest bcrypt cost
func TestConfig() Config {
	return Config{
		Logger:     testutil.NopLogger(),
		EntryGate:  config.GateOpen,
		BcryptCost: 4,
	}
}

// NewTestApp creates an App on a memory store with a fake clock and
// scripted randomness. The built-in catalog is loaded.
func NewTestApp(ctx context.Context, cfg Config) (*TestApp, error) {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app, err := newWithDependencies(store, mockClock, mockRandom, cfg, cfg.Logger)
	if err != nil {
		return nil, err
	}
	if err := app.init(ctx, cfg.CatalogPath); err != nil {
		return nil, err
	}

	return &TestApp{
		App:           app,
		MemoryStorage: store,
		MockClock:     mockClock,
		MockRandom:    mockRandom,
	}, nil
}
