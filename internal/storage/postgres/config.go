package postgres

import "time"

// Config holds Postgres connection and change-feed settings
type Config struct {
	// URL is the Postgres connection string
	URL string

	// Pool settings
	MaxOpenConns int
	MaxIdleConns int

	// Listener reconnect bounds for the LISTEN connection
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration

	// PingInterval is how often the LISTEN connection is checked
	PingInterval time.Duration
}

// DefaultConfig returns sensible defaults for Postgres configuration
func DefaultConfig() Config {
	return Config{
		URL:                  "postgres://localhost:5432/typerace?sslmode=disable",
		MaxOpenConns:         10,
		MaxIdleConns:         2,
		MinReconnectInterval: 10 * time.Second,
		MaxReconnectInterval: time.Minute,
		PingInterval:         90 * time.Second,
	}
}
