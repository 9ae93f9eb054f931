// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Entry gates
const (
	GateRegistry = "registry"
	GateSheet    = "sheet"
	GateOpen     = "open"
)

// Config holds everything the server needs to start
type Config struct {
	Port     int
	LogLevel slog.Level

	StorageType string
	RedisURL    string
	DatabaseURL string

	// CatalogPath is a YAML catalog; empty uses the built-in catalog
	CatalogPath string

	EntryGate     string
	EntrySheetURL string

	// AdminEmails are bootstrap admins that cannot be removed
	AdminEmails []string

	// IdentityHeader carries the email asserted by the identity proxy
	IdentityHeader string

	ReconnectBackoff time.Duration
	RaceTimeout      time.Duration
	SweepInterval    time.Duration

	CORSOrigins []string

	// EntryAttemptsPerMinute limits arena entry attempts per player
	EntryAttemptsPerMinute int
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Port:                   8080,
		LogLevel:               slog.LevelInfo,
		StorageType:            StorageMemory,
		EntryGate:              GateRegistry,
		IdentityHeader:         "X-Auth-Request-Email",
		ReconnectBackoff:       3 * time.Second,
		RaceTimeout:            10 * time.Minute,
		SweepInterval:          30 * time.Second,
		CORSOrigins:            []string{"*"},
		EntryAttemptsPerMinute: 10,
	}
}

// Load reads the environment, falling back to values in the given .env
// files. Missing files are ignored; real environment variables win.
func Load(envFiles ...string) (*Config, error) {
	fileValues := make(map[string]string)
	for _, path := range envFiles {
		values, err := godotenv.Read(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for k, v := range values {
			if _, ok := fileValues[k]; !ok {
				fileValues[k] = v
			}
		}
	}

	return FromEnv(func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return fileValues[key]
	})
}

// FromEnv builds a Config from a lookup function
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()
	p := parser{getenv: getenv}

	cfg.Port = p.int("PORT", cfg.Port)
	cfg.LogLevel = p.level("LOG_LEVEL", cfg.LogLevel)
	cfg.StorageType = p.string("STORAGE_TYPE", cfg.StorageType)
	cfg.RedisURL = p.string("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = p.string("DATABASE_URL", cfg.DatabaseURL)
	cfg.CatalogPath = p.string("CATALOG_PATH", cfg.CatalogPath)
	cfg.EntryGate = p.string("ENTRY_GATE", cfg.EntryGate)
	cfg.EntrySheetURL = p.string("ENTRY_SHEET_URL", cfg.EntrySheetURL)
	cfg.AdminEmails = p.list("ADMIN_EMAILS", cfg.AdminEmails)
	cfg.IdentityHeader = p.string("IDENTITY_HEADER", cfg.IdentityHeader)
	cfg.ReconnectBackoff = p.duration("RECONNECT_BACKOFF", cfg.ReconnectBackoff)
	cfg.RaceTimeout = p.duration("RACE_TIMEOUT", cfg.RaceTimeout)
	cfg.SweepInterval = p.duration("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.CORSOrigins = p.list("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.EntryAttemptsPerMinute = p.int("ENTRY_ATTEMPTS_PER_MINUTE", cfg.EntryAttemptsPerMinute)

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that settings are consistent
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageType {
	case StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_TYPE %q: must be memory, redis or postgres", c.StorageType))
	}

	switch c.EntryGate {
	case GateRegistry, GateOpen:
	case GateSheet:
		if c.EntrySheetURL == "" {
			errs = append(errs, errors.New("ENTRY_SHEET_URL required when ENTRY_GATE=sheet"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ENTRY_GATE %q: must be registry, sheet or open", c.EntryGate))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	if c.ReconnectBackoff <= 0 {
		errs = append(errs, errors.New("RECONNECT_BACKOFF must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if c.IdentityHeader == "" {
		errs = append(errs, errors.New("IDENTITY_HEADER must not be empty"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) string(key, fallback string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (p *parser) int(key string, fallback int) int {
	v := p.string(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := p.string(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return fallback
	}
	return d
}

func (p *parser) level(key string, fallback slog.Level) slog.Level {
	v := p.string(key, "")
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		return fallback
	}
	return level
}

// list splits a comma separated value, dropping blanks
func (p *parser) list(key string, fallback []string) []string {
	v := p.string(key, "")
	if v == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
