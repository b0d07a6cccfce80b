// Package config loads the arla process configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/wal"
	"github.com/roach88/arla/internal/walpub"
)

// Config is the process configuration.
type Config struct {
	// Dialect is "sqlite" (default) or "postgres".
	Dialect string `yaml:"dialect"`

	// Projection is a SQLite path or a Postgres connection string.
	Projection string `yaml:"projection"`

	// Schema is the directory holding the CUE declarations.
	Schema string `yaml:"schema"`

	// Version overrides the version declared by the schema when > 0.
	Version int `yaml:"version,omitempty"`

	MaxTransformSteps int `yaml:"max_transform_steps"`
	QueryCacheSize    int `yaml:"query_cache_size"`

	WAL   WALConfig   `yaml:"wal"`
	Kafka KafkaConfig `yaml:"kafka,omitempty"`

	// Bootstrap statements run once, when an empty projection adopts the
	// WAL's store identity.
	Bootstrap []string `yaml:"bootstrap,omitempty"`
}

// WALConfig locates the write-ahead log.
type WALConfig struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path,omitempty"`
	RedisURL    string `yaml:"redis_url,omitempty"`
	RedisPrefix string `yaml:"redis_prefix,omitempty"`
}

// KafkaConfig is the WAL mirror target used by "wal publish".
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers,omitempty"`
	Topic        string        `yaml:"topic,omitempty"`
	BatchSize    int           `yaml:"batch_size,omitempty"`
	BatchTimeout time.Duration `yaml:"batch_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// Default returns a configuration with every default applied and no
// locations set.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// Load reads path and validates the result.
func Load(path string) (Config, error) {
	c, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Read reads path and applies defaults without validating, for callers
// that override fields first. Relative file locations resolve against the
// directory holding path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	c.resolvePaths(filepath.Dir(path))
	return c, nil
}

// Parse decodes YAML and applies defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Dialect == "" {
		c.Dialect = "sqlite"
	}
	if c.MaxTransformSteps == 0 {
		c.MaxTransformSteps = engine.DefaultMaxSteps
	}
	if c.QueryCacheSize == 0 {
		c.QueryCacheSize = engine.DefaultQueryCacheSize
	}
	if c.WAL.Driver == "" {
		c.WAL.Driver = "sqlite"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = walpub.DefaultBatchSize
	}
}

// Validate rejects incomplete or contradictory settings.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.SQLDialect(); err != nil {
		errs = append(errs, err)
	}
	if c.Projection == "" {
		errs = append(errs, errors.New("projection is required"))
	}
	if c.Schema == "" {
		errs = append(errs, errors.New("schema is required"))
	}
	if c.Version < 0 {
		errs = append(errs, fmt.Errorf("version must not be negative, got %d", c.Version))
	}
	if c.MaxTransformSteps < 1 {
		errs = append(errs, fmt.Errorf("max_transform_steps must be at least 1, got %d", c.MaxTransformSteps))
	}
	if c.QueryCacheSize < 1 {
		errs = append(errs, fmt.Errorf("query_cache_size must be at least 1, got %d", c.QueryCacheSize))
	}
	switch c.WAL.Driver {
	case "sqlite":
		if c.WAL.Path == "" {
			errs = append(errs, errors.New("wal.path is required for the sqlite driver"))
		}
	case "redis":
		if c.WAL.RedisURL == "" {
			errs = append(errs, errors.New("wal.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("wal.driver must be sqlite or redis, got %q", c.WAL.Driver))
	}
	if c.Kafka.Topic != "" && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka.topic is set"))
	}
	if c.Kafka.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("kafka.batch_size must be at least 1, got %d", c.Kafka.BatchSize))
	}
	return errors.Join(errs...)
}

// SQLDialect returns the projection dialect.
func (c Config) SQLDialect() (dialect.Dialect, error) {
	switch c.Dialect {
	case "sqlite":
		return dialect.SQLite{}, nil
	case "postgres":
		return dialect.Postgres{}, nil
	default:
		return nil, fmt.Errorf("dialect must be sqlite or postgres, got %q", c.Dialect)
	}
}

// WALOptions returns the wal.Open configuration.
func (c Config) WALOptions() wal.Config {
	return wal.Config{
		Driver:      c.WAL.Driver,
		Path:        c.WAL.Path,
		RedisURL:    c.WAL.RedisURL,
		RedisPrefix: c.WAL.RedisPrefix,
	}
}

// Writer returns the Kafka writer configuration.
func (c Config) Writer() walpub.WriterConfig {
	return walpub.WriterConfig{
		Brokers:      c.Kafka.Brokers,
		Topic:        c.Kafka.Topic,
		BatchTimeout: c.Kafka.BatchTimeout,
		WriteTimeout: c.Kafka.WriteTimeout,
	}
}

// EngineOptions returns the engine options the configuration implies.
// Version is only included when set, so the schema's declared version
// applies otherwise.
func (c Config) EngineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithMaxTransformSteps(c.MaxTransformSteps),
		engine.WithQueryCacheSize(c.QueryCacheSize),
	}
	if c.Version > 0 {
		opts = append(opts, engine.WithVersion(c.Version))
	}
	if len(c.Bootstrap) > 0 {
		opts = append(opts, engine.WithBootstrap(c.Bootstrap...))
	}
	return opts
}

func (c *Config) resolvePaths(base string) {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Schema = rel(c.Schema)
	if c.WAL.Driver == "sqlite" {
		c.WAL.Path = rel(c.WAL.Path)
	}
	if c.Dialect == "sqlite" && !isURI(c.Projection) {
		c.Projection = rel(c.Projection)
	}
}

func isURI(dsn string) bool {
	return len(dsn) > 5 && dsn[:5] == "file:"
}
