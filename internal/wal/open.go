package wal

import (
	"context"
	"fmt"
)

// Config selects and locates a log.
type Config struct {
	// Driver is "sqlite" (default) or "redis".
	Driver string

	// Path is the SQLite file.
	Path string

	// RedisURL is a redis:// or rediss:// URL.
	RedisURL string

	// RedisPrefix namespaces the log's keys. Default "arla:wal".
	RedisPrefix string
}

// Open opens the log described by cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (WAL, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("wal path is required")
		}
		return OpenSQLite(cfg.Path, opts...)
	case "redis":
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("wal redis url is required")
		}
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, opts...)
	default:
		return nil, fmt.Errorf("unknown wal driver %q", cfg.Driver)
	}
}
