package engine

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/arla/internal/metrics"
	"github.com/roach88/arla/internal/querysql"
	"github.com/roach88/arla/internal/schema"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/trigger"
	"github.com/roach88/arla/internal/wal"
)

// DefaultQueryCacheSize is the number of normalized query documents kept.
const DefaultQueryCacheSize = 256

// ErrNotSynced is returned by Exec before the first successful Sync.
var ErrNotSynced = errors.New("engine has not synced with its WAL")

// Engine executes mutations and queries against one projection and one WAL.
//
// Thread-safety model:
//   - Query, Compile: safe from any goroutine, never blocked by the gate
//   - Exec: safe from any goroutine; holds the gate shared and execMu, so
//     live mutations commit and append one at a time
//   - Sync, Replay, Rebuild, DestroyData: hold the gate exclusively, so
//     replay never runs alongside live mutations
//
// INVARIANTS:
//   - the registry is frozen for the engine's lifetime
//   - a WAL entry is appended only after its transaction committed
//   - commit order equals WAL order; appends and last_id updates happen in
//     WAL id order
type Engine struct {
	reg      *schema.Registry
	store    *store.Store
	log      wal.WAL
	compiler *querysql.Compiler
	hooks    *trigger.Dispatcher
	actions  map[string]Action

	version   int
	maxSteps  int
	transform Transform
	resolver  Resolver
	bootstrap []string
	ids       IDGenerator
	now       func() time.Time
	metrics   *metrics.Metrics

	cacheSize int
	docs      *lru.Cache
	flight    singleflight.Group

	gate   sync.RWMutex
	execMu sync.Mutex
	synced atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithVersion sets the current schema version. Mutations declaring an older
// version are upgraded with the transform. Default: 1.
func WithVersion(v int) Option {
	return func(e *Engine) {
		e.version = v
	}
}

// WithMaxTransformSteps bounds the version transform loop and the hook
// drain loop.
//
// Default: 1000 steps (DefaultMaxSteps)
func WithMaxTransformSteps(n int) Option {
	return func(e *Engine) {
		e.maxSteps = n
	}
}

// WithTransform sets the function upgrading a mutation by one version.
func WithTransform(t Transform) Option {
	return func(e *Engine) {
		e.transform = t
	}
}

// WithResolver sets the function consulted when a replayed mutation fails.
func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithQueryCacheSize sets how many normalized query documents are cached.
func WithQueryCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// WithBootstrap sets SQL statements run once, when an empty projection
// adopts a WAL identity.
func WithBootstrap(stmts ...string) Option {
	return func(e *Engine) {
		e.bootstrap = append(e.bootstrap, stmts...)
	}
}

// WithClock sets the time source used to measure mutation durations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDs sets the generator for mutations submitted without an id.
func WithIDs(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithMetrics sets the collectors. By default an engine registers its own
// collectors with a private registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithAction registers an action under name.
func WithAction(name string, fn Action) Option {
	return func(e *Engine) {
		e.actions[name] = fn
	}
}

// WithActions registers every action in the map.
func WithActions(actions map[string]Action) Option {
	return func(e *Engine) {
		for name, fn := range actions {
			e.actions[name] = fn
		}
	}
}

// WithHook registers a hook in addition to the entity-declared ones.
// entity may be trigger.Wildcard.
func WithHook(entity string, phase trigger.Phase, hook trigger.Hook, ops ...trigger.Op) Option {
	return func(e *Engine) {
		e.hooks.On(entity, phase, hook, ops...)
	}
}

// New creates an Engine over a resolved schema, a projection store and a
// WAL. The registry is frozen: defining further entities fails, and handing
// the same registry to a second engine is a ConfigError.
//
// New does not touch storage; call Start (or Migrate then Sync) before Exec.
func New(reg *schema.Registry, st *store.Store, log wal.WAL, opts ...Option) (*Engine, error) {
	switch {
	case reg == nil:
		return nil, configError(ErrCodeMissingConfig, "schema registry is required")
	case st == nil:
		return nil, configError(ErrCodeMissingConfig, "projection store is required")
	case log == nil:
		return nil, configError(ErrCodeMissingConfig, "wal is required")
	}
	if reg.Frozen() {
		return nil, configError(ErrCodeAlreadyInitialized, "schema registry is already in use by an engine")
	}

	e := &Engine{
		reg:       reg,
		store:     st,
		log:       log,
		hooks:     trigger.NewDispatcher(),
		actions:   make(map[string]Action),
		version:   1,
		maxSteps:  DefaultMaxSteps,
		ids:       UUIDGenerator{},
		now:       time.Now,
		cacheSize: DefaultQueryCacheSize,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.version < 1 {
		return nil, configError(ErrCodeInvalidConfig, "schema version must be at least 1, got %d", e.version)
	}
	if e.maxSteps < 1 {
		return nil, configError(ErrCodeInvalidConfig, "max transform steps must be at least 1, got %d", e.maxSteps)
	}
	for name := range e.actions {
		if !actionName.MatchString(name) {
			return nil, configError(ErrCodeInvalidConfig, "invalid action name %q", name)
		}
	}
	if e.metrics == nil {
		e.metrics = metrics.New(prometheus.NewRegistry())
	}

	if err := reg.Resolve(); err != nil {
		return nil, configError(ErrCodeInvalidConfig, "resolve schema: %v", err)
	}
	for _, ent := range reg.Entities() {
		ent.Hooks.Register(e.hooks, ent.Name)
	}
	reg.Freeze()

	docs, err := lru.New(e.cacheSize)
	if err != nil {
		return nil, configError(ErrCodeInvalidConfig, "query cache: %v", err)
	}
	e.docs = docs
	e.compiler = querysql.NewCompiler(reg, st.Dialect())

	slog.Debug("engine created",
		"dialect", st.Dialect().Name(),
		"version", e.version,
		"entities", len(reg.Entities()),
		"actions", len(e.actions),
	)
	return e, nil
}

// Registry returns the frozen schema registry.
func (e *Engine) Registry() *schema.Registry {
	return e.reg
}

// Store returns the projection store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// WAL returns the write-ahead log.
func (e *Engine) WAL() wal.WAL {
	return e.log
}

// Version returns the current schema version.
func (e *Engine) Version() int {
	return e.version
}

// Close closes the WAL and the projection store.
func (e *Engine) Close() error {
	return errors.Join(e.log.Close(), e.store.Close())
}
