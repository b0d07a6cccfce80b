package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/compiler"
	"github.com/roach88/arla/internal/dialect"
	"github.com/roach88/arla/internal/engine"
	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/testutil"
	"github.com/roach88/arla/internal/wal"
)

// Harness runs one scenario. Every run gets its own temporary directory,
// deterministic ids and a deterministic WAL clock.
type Harness struct {
	scenario *Scenario
	dir      string
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	ids      *testutil.SequentialIDs
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger step outcomes are written to. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes s and returns its result. The returned error is reserved for
// failures of the harness itself (schema does not compile, setup step
// failed); step and assertion failures are reported in the Result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	dir, err := os.MkdirTemp("", "arla-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		scenario: s,
		dir:      dir,
		clock:    testutil.NewDeterministicClock(),
		ids:      testutil.NewSequentialIDs(s.IDPrefix),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.engine, err = h.open(ctx, "projection.db",
		engine.WithIDs(h.ids),
		engine.WithClock(h.clock.Now),
	)
	if err != nil {
		return nil, err
	}
	defer h.engine.Close()

	if _, err := h.engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	result := NewResult()
	for i, step := range s.Setup {
		ev, err := h.run(ctx, step, result)
		if err != nil {
			return nil, fmt.Errorf("setup[%d] %s failed: %w", i, describe(ev), err)
		}
	}
	for i, step := range s.Steps {
		ev, err := h.run(ctx, step, result)
		if msg := checkExpect(step.Expect, ev, err); msg != "" {
			result.AddError(fmt.Sprintf("steps[%d] %s: %s", i, describe(ev), msg))
		}
		h.logger.Debug("step completed",
			"step", i,
			"kind", ev.Kind,
			"name", ev.Name,
			"error", ev.Error,
		)
	}

	actx := &AssertionContext{Ctx: ctx, Harness: h}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// open builds an engine over a projection file in the work directory and
// the scenario's WAL.
func (h *Harness) open(ctx context.Context, projection string, opts ...engine.Option) (*engine.Engine, error) {
	schema, err := compiler.Load(h.scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	st, err := store.Open(dialect.SQLite{}, filepath.Join(h.dir, projection))
	if err != nil {
		return nil, fmt.Errorf("open projection: %w", err)
	}
	log, err := wal.OpenSQLite(filepath.Join(h.dir, "wal.db"), wal.WithClock(h.clock.Now))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open wal: %w", err)
	}
	e, err := engine.New(schema.Registry, st, log, append(schema.EngineOptions(), opts...)...)
	if err != nil {
		_ = log.Close()
		_ = st.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return e, nil
}

// run executes one step and records it in the trace.
func (h *Harness) run(ctx context.Context, step Step, result *Result) (TraceEvent, error) {
	session := h.session(step)
	args := step.Args
	if args == nil {
		args = []any{}
	}

	if step.Exec != "" {
		version := step.Version
		if version == 0 {
			version = h.engine.Version()
		}
		ev := TraceEvent{Kind: KindExec, Name: step.Exec, Args: args}
		res, err := h.engine.Exec(ctx, ir.Mutation{
			Name:    step.Exec,
			Args:    args,
			Version: version,
			Token:   session,
		})
		if err != nil {
			ev.Error = ErrorCode(err)
			return result.record(ev), err
		}
		ev.ID = res.Mutation.ID
		ev.WALID = res.WALID
		if ev.Output, err = normalize(res.Rows); err != nil {
			return result.record(ev), err
		}
		return result.record(ev), nil
	}

	ev := TraceEvent{Kind: KindQuery, Name: step.Query, Args: step.Args}
	raw, err := h.engine.Query(ctx, step.Query, session, args...)
	if err != nil {
		ev.Error = ErrorCode(err)
		return result.record(ev), err
	}
	if ev.Output, err = decode(raw); err != nil {
		return result.record(ev), err
	}
	return result.record(ev), nil
}

func (h *Harness) session(step Step) ir.Session {
	if step.Session != nil {
		return ir.Session(step.Session)
	}
	if h.scenario.Session != nil {
		return ir.Session(h.scenario.Session)
	}
	return nil
}

// checkExpect returns a failure description, or "" when the step behaved
// as expected.
func checkExpect(want *Expect, ev TraceEvent, err error) string {
	if want == nil || want.Error == "" {
		if err != nil {
			return fmt.Sprintf("unexpected error: %v", err)
		}
	}
	if want == nil {
		return ""
	}
	if want.Error != "" {
		if err == nil {
			return fmt.Sprintf("expected error %s, step succeeded", want.Error)
		}
		if ev.Error != want.Error {
			return fmt.Sprintf("expected error %s, got %s: %v", want.Error, ev.Error, err)
		}
		return ""
	}

	switch {
	case want.Rows != nil:
		return compareOutput("rows", want.Rows, ev.Output)
	case want.Result != nil:
		return compareOutput("result", want.Result, ev.Output)
	}
	return ""
}

func compareOutput(what string, want, got any) string {
	ok, err := equalJSON(want, got)
	if err != nil {
		return fmt.Sprintf("compare %s: %v", what, err)
	}
	if !ok {
		w, _ := ir.MarshalCanonical(mustNormalize(want))
		g, _ := ir.MarshalCanonical(got)
		return fmt.Sprintf("%s mismatch\n  expected: %s\n  actual:   %s", what, w, g)
	}
	return ""
}

func describe(ev TraceEvent) string {
	return fmt.Sprintf("%s %s", ev.Kind, ev.Name)
}

// ErrorCode names the failure class of an engine error, as used in expect
// clauses.
func ErrorCode(err error) string {
	var me *engine.MutationError
	var qe *aql.QueryError
	var ce *engine.ConfigError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &me):
		return string(me.Code)
	case errors.As(err, &qe):
		return string(qe.Code)
	case errors.As(err, &ce):
		return string(ce.Code)
	case engine.IsUserError(err):
		return "USER"
	case errors.Is(err, engine.ErrNotSynced):
		return "NOT_SYNCED"
	default:
		return "ERROR"
	}
}

// normalize turns v into the JSON value model (maps, slices, strings,
// json.Number, bools, nil) so values from YAML and from the driver compare
// alike.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func mustNormalize(v any) any {
	n, err := normalize(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return n
}

func decode(data []byte) (any, error) {
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// equalJSON compares two values by their canonical JSON encoding, so 1 and
// 1.0 are equal and key order does not matter.
func equalJSON(a, b any) (bool, error) {
	na, err := normalize(a)
	if err != nil {
		return false, err
	}
	nb, err := normalize(b)
	if err != nil {
		return false, err
	}
	ca, err := ir.MarshalCanonical(na)
	if err != nil {
		return false, err
	}
	cb, err := ir.MarshalCanonical(nb)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}
