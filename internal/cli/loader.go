package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/arla/internal/compiler"
	"github.com/roach88/arla/internal/config"
	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/wal"
)

// loadConfig reads the config file and applies flag overrides. A missing
// file is only an error when --config was given explicitly.
func loadConfig(o *RootOptions, cmd *cobra.Command) (config.Config, error) {
	c := config.Default()
	if _, err := os.Stat(o.Config); err == nil || cmd.Flags().Changed("config") {
		if c, err = config.Read(o.Config); err != nil {
			return c, tag(ErrCodeConfig, ExitCommandError, err)
		}
	}

	if o.Dialect != "" {
		c.Dialect = o.Dialect
	}
	if o.Projection != "" {
		c.Projection = o.Projection
	}
	if o.Schema != "" {
		c.Schema = o.Schema
	}
	if o.WAL != "" {
		if strings.HasPrefix(o.WAL, "redis://") || strings.HasPrefix(o.WAL, "rediss://") {
			c.WAL.Driver, c.WAL.RedisURL = "redis", o.WAL
		} else {
			c.WAL.Driver, c.WAL.Path = "sqlite", o.WAL
		}
	}
	return c, nil
}

// loadSchema compiles the CUE declarations named by c.
func loadSchema(c config.Config) (*compiler.Schema, error) {
	if c.Schema == "" {
		return nil, tag(ErrCodeConfig, ExitCommandError, errors.New("schema is required"))
	}
	s, err := compiler.Load(c.Schema)
	if err != nil {
		var ce *compiler.CompileError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, tag(ErrCodeSchema, ExitCommandError, err)
	}
	return s, nil
}

// openWAL opens only the log, for the wal subcommands.
func openWAL(ctx context.Context, c config.Config) (wal.WAL, error) {
	log, err := wal.Open(ctx, c.WALOptions())
	if err != nil {
		return nil, tag(ErrCodeWAL, ExitCommandError, err)
	}
	return log, nil
}

// openEngine builds an engine from the config without syncing it.
func openEngine(ctx context.Context, o *RootOptions, cmd *cobra.Command) (*engine.Engine, error) {
	c, err := loadConfig(o, cmd)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, tag(ErrCodeConfig, ExitCommandError, err)
	}
	s, err := loadSchema(c)
	if err != nil {
		return nil, err
	}
	d, err := c.SQLDialect()
	if err != nil {
		return nil, tag(ErrCodeConfig, ExitCommandError, err)
	}

	st, err := store.Open(d, c.Projection)
	if err != nil {
		return nil, tag(ErrCodeStore, ExitCommandError, err)
	}
	log, err := openWAL(ctx, c)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := append(s.EngineOptions(), c.EngineOptions()...)
	e, err := engine.New(s.Registry, st, log, opts...)
	if err != nil {
		_ = log.Close()
		_ = st.Close()
		return nil, err
	}
	slog.Debug("engine opened",
		"dialect", c.Dialect,
		"projection", c.Projection,
		"wal", c.WAL.Driver,
		"version", e.Version(),
	)
	return e, nil
}

// closeEngine closes e and logs a failure.
func closeEngine(e *engine.Engine) {
	if err := e.Close(); err != nil {
		slog.Error("error closing engine", "error", err)
	}
}
