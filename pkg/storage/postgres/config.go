package postgres

import "time"

// Config holds the connection pool settings.
type Config struct {
	DSN string

	MaxConns        int32         // default 25
	MinConns        int32         // default 0
	MaxConnLifetime time.Duration // default 5m

	// MigrateOnStart applies pending schema migrations in New.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 25
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 5 * time.Minute
	}
}
