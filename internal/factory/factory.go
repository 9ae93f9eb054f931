// Package factory wires the application's components together
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mcoot/typerace/internal/api"
	apimiddleware "github.com/mcoot/typerace/internal/api/middleware"
	"github.com/mcoot/typerace/internal/config"
	"github.com/mcoot/typerace/internal/dependencies/clock"
	"github.com/mcoot/typerace/internal/dependencies/random"
	"github.com/mcoot/typerace/internal/metrics"
	"github.com/mcoot/typerace/internal/services/arena"
	"github.com/mcoot/typerace/internal/services/auth"
	"github.com/mcoot/typerace/internal/services/catalog"
	"github.com/mcoot/typerace/internal/services/entry"
	"github.com/mcoot/typerace/internal/storage"
	"github.com/mcoot/typerace/internal/storage/memory"
	"github.com/mcoot/typerace/internal/storage/postgres"
	redisstorage "github.com/mcoot/typerace/internal/storage/redis"
	"github.com/mcoot/typerace/internal/web"
	"github.com/mcoot/typerace/internal/web/sse"
	"github.com/mcoot/typerace/internal/web/ws"
)

// App contains all wired application components
type App struct {
	// Storage, decorated with metrics
	Storage storage.Storage
	Metrics *metrics.Metrics

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Catalog     *catalog.Service
	AuthService *auth.Service
	Registry    *entry.Registry // nil unless the registry gate is selected
	Gate        arena.Gate
	Arena       *arena.Service
	HubManager  *sse.HubManager
	Racers      *ws.Handler

	logger *slog.Logger
	closer io.Closer
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger. If nil, a no-op logger is used.
	Logger *slog.Logger

	// StorageType selects the backend; empty means memory
	StorageType    string
	RedisConfig    *redisstorage.Config
	PostgresConfig *postgres.Config

	// CatalogPath is a YAML catalog; empty uses the built-in one
	CatalogPath string

	// EntryGate selects the token gate; empty means registry
	EntryGate     string
	EntrySheetURL string

	// AuthConfig zero value means auth.DefaultConfig()
	AuthConfig auth.Config

	// ArenaConfig zero value means arena.DefaultConfig()
	ArenaConfig arena.Config

	// BcryptCost for entry tokens; 0 uses bcrypt.DefaultCost
	BcryptCost int
}

// FromConfig maps server configuration onto factory configuration
func FromConfig(cfg *config.Config, logger *slog.Logger) Config {
	fc := Config{
		Logger:        logger,
		StorageType:   cfg.StorageType,
		CatalogPath:   cfg.CatalogPath,
		EntryGate:     cfg.EntryGate,
		EntrySheetURL: cfg.EntrySheetURL,
		AuthConfig: auth.Config{
			SessionDuration: auth.DefaultConfig().SessionDuration,
			BootstrapAdmins: cfg.AdminEmails,
		},
		ArenaConfig: arena.Config{
			ReconnectBackoff: cfg.ReconnectBackoff,
			RaceTimeout:      cfg.RaceTimeout,
			SweepInterval:    cfg.SweepInterval,
		},
	}
	switch cfg.StorageType {
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		fc.RedisConfig = &redisCfg
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.DatabaseURL
		fc.PostgresConfig = &pgCfg
	}
	return fc
}

// New creates a new application with all dependencies wired, loads the
// catalog and seeds the bootstrap admins
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	clk := clock.New()
	store, err := newStorage(ctx, cfg, clk, logger)
	if err != nil {
		return nil, err
	}

	app, err := newWithDependencies(store, clk, random.New(), cfg, logger)
	if err != nil {
		closeStorage(store)
		return nil, err
	}
	if err := app.init(ctx, cfg.CatalogPath); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func newStorage(ctx context.Context, cfg Config, clk clock.Clock, logger *slog.Logger) (storage.Storage, error) {
	switch cfg.StorageType {
	case "", config.StorageMemory:
		return memory.NewWithLogger(logger), nil
	case config.StorageRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		return redisstorage.New(*cfg.RedisConfig)
	case config.StoragePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		return postgres.New(ctx, *cfg.PostgresConfig, clk, logger)
	default:
		return nil, fmt.Errorf("invalid StorageType %q: must be memory, redis or postgres", cfg.StorageType)
	}
}

// newWithDependencies creates an App around the given dependencies
func newWithDependencies(store storage.Storage, clk clock.Clock, rnd random.Random, cfg Config, logger *slog.Logger) (*App, error) {
	m := metrics.New()
	instrumented := m.InstrumentStorage(store)

	authCfg := cfg.AuthConfig
	if authCfg.SessionDuration == 0 {
		authCfg.SessionDuration = auth.DefaultConfig().SessionDuration
	}
	arenaCfg := cfg.ArenaConfig
	if arenaCfg == (arena.Config{}) {
		arenaCfg = arena.DefaultConfig()
	}

	cat := catalog.New(instrumented, rnd)
	authService := auth.New(instrumented, clk, rnd, logger, authCfg)

	var registry *entry.Registry
	var gate arena.Gate
	switch cfg.EntryGate {
	case "", config.GateRegistry:
		registry = entry.NewRegistry(instrumented, clk, rnd, logger, cfg.BcryptCost)
		gate = registry
	case config.GateSheet:
		if cfg.EntrySheetURL == "" {
			return nil, errors.New("EntrySheetURL required when EntryGate is sheet")
		}
		gate = entry.NewSheetValidator(entry.DefaultSheetConfig(cfg.EntrySheetURL), logger)
	case config.GateOpen:
		gate = entry.Open{}
	default:
		return nil, fmt.Errorf("invalid EntryGate %q: must be registry, sheet or open", cfg.EntryGate)
	}

	arenaService := arena.NewService(instrumented, cat, gate, clk, logger, arenaCfg)

	var closer io.Closer
	if c, ok := store.(io.Closer); ok {
		closer = c
	}

	return &App{
		Storage:     instrumented,
		Metrics:     m,
		Clock:       clk,
		Random:      rnd,
		Catalog:     cat,
		AuthService: authService,
		Registry:    registry,
		Gate:        gate,
		Arena:       arenaService,
		HubManager:  sse.NewHubManager(arenaService, m.ViewOpened, logger),
		Racers:      ws.NewHandler(arenaService, ws.DefaultConfig(), m.ViewOpened, logger),
		logger:      logger,
		closer:      closer,
	}, nil
}

func (a *App) init(ctx context.Context, catalogPath string) error {
	if catalogPath == "" {
		if err := a.Catalog.LoadDefaults(ctx); err != nil {
			return fmt.Errorf("failed to load built-in catalog: %w", err)
		}
	} else if err := a.Catalog.LoadFromFile(ctx, catalogPath); err != nil {
		return fmt.Errorf("failed to load catalog %s: %w", catalogPath, err)
	}

	if err := a.AuthService.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to seed admins: %w", err)
	}
	return nil
}

// HandlerConfig holds the HTTP-facing settings
type HandlerConfig struct {
	IdentityHeader         string
	CORSOrigins            []string
	EntryAttemptsPerMinute int
}

// Handler builds the complete HTTP handler: the JSON API, the live race
// endpoints and the metrics endpoint, with request metrics and CORS
func (a *App) Handler(cfg HandlerConfig) http.Handler {
	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = config.Default().IdentityHeader
	}

	apiRouter := api.NewRouter(api.RouterConfig{
		Logger:         a.logger,
		AuthService:    a.AuthService,
		Arena:          a.Arena,
		Catalog:        a.Catalog,
		Registry:       a.Registry,
		IdentityHeader: cfg.IdentityHeader,
		EntryLimiter:   apimiddleware.NewEntryLimiter(cfg.EntryAttemptsPerMinute),
	})
	liveRouter := web.NewRouter(web.RouterConfig{
		Logger:      a.logger,
		AuthService: a.AuthService,
		HubManager:  a.HubManager,
		Racers:      a.Racers,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiRouter)
	mux.Handle("/live/", liveRouter)
	mux.Handle("/metrics", a.Metrics.Handler())

	return api.CORS(a.Metrics.Instrument(mux), cfg.CORSOrigins)
}

// Run drives background housekeeping until ctx is done
func (a *App) Run(ctx context.Context) {
	a.Arena.Run(ctx)
}

// Close releases live views and the storage connection
func (a *App) Close() error {
	a.HubManager.Close()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func closeStorage(store storage.Storage) {
	if c, ok := store.(io.Closer); ok {
		_ = c.Close()
	}
}
