package storage

import "time"

// Config for the storage backends.
type Config struct {
	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config. Sessions fall back to PostgreSQL when RedisURL is empty.
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresURL:      "postgres://localhost:5432/claimgate?sslmode=disable",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  5 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
