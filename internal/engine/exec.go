package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/schema"
	"github.com/roach88/arla/internal/store"
)

// Result is the outcome of an applied mutation.
type Result struct {
	// Mutation is the mutation as logged, with its assigned id.
	Mutation ir.Mutation

	// WALID is the WAL entry id. Zero for replays.
	WALID int64

	// Rows are the rows the action's statement returned. Empty, not nil,
	// for statements without a result set and for no-ops.
	Rows []map[string]any
}

// execMode distinguishes live execution from replay.
type execMode struct {
	replay bool

	// walID is recorded as the projection's last_id when > 0.
	walID int64
}

// Exec applies a mutation and appends it to the WAL.
//
// The action's statement, the hooks it triggers and the last_mutation
// marker commit in one transaction. The WAL append follows the commit, so a
// crash in between loses the entry rather than logging a write that never
// happened. Live mutations are serialized from transaction start to append,
// so a mutation that reads another's rows always follows it in the WAL.
func (e *Engine) Exec(ctx context.Context, m ir.Mutation) (*Result, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	if !e.synced.Load() {
		return nil, ErrNotSynced
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	start := e.now()
	res, err := e.exec(ctx, m, execMode{})
	e.metrics.ObserveMutation(err, e.now().Sub(start))
	if err != nil {
		slog.Debug("mutation rejected", "name", m.Name, "error", err)
		return nil, err
	}
	slog.Info("mutation applied",
		"name", res.Mutation.Name,
		"id", res.Mutation.ID,
		"wal_id", res.WALID,
	)
	return res, nil
}

// Replay applies a mutation that is already in the WAL, without logging it
// again. It reports whether the mutation was applied.
func (e *Engine) Replay(ctx context.Context, m ir.Mutation) (bool, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	if _, err := e.exec(ctx, m, execMode{replay: true}); err != nil {
		return false, err
	}
	e.metrics.Replayed()
	return true, nil
}

func (e *Engine) exec(ctx context.Context, m ir.Mutation, mode execMode) (*Result, error) {
	if m.Name == "" {
		return nil, mutationError(m, ErrCodeInvalidMutation, nil, "mutation has no name")
	}
	if m.Version < 1 {
		return nil, mutationError(m, ErrCodeInvalidMutation, nil, "mutation has no version")
	}
	if m.ID == "" && !mode.replay {
		m.ID = e.ids.Generate()
	}
	if m.Args == nil {
		m.Args = []any{}
	}
	logged := m.Clone()

	cur, err := e.upgrade(m)
	if err != nil {
		return nil, err
	}
	action, err := e.lookup(cur)
	if err != nil {
		return nil, err
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, e.storageError(cur, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := e.apply(ctx, tx, cur, action, mode.replay)
	if err != nil {
		return nil, err
	}
	if logged.ID != "" {
		if err := e.store.SetMeta(ctx, tx, store.KeyLastMutation, logged.ID); err != nil {
			return nil, e.storageError(cur, err)
		}
	}
	if mode.walID > 0 {
		if err := e.store.SetLastID(ctx, tx, mode.walID); err != nil {
			return nil, e.storageError(cur, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, e.storageError(cur, err)
	}
	committed = true

	res := &Result{Mutation: logged, Rows: rows}
	if mode.replay {
		res.WALID = mode.walID
		return res, nil
	}
	if res.WALID, err = e.append(ctx, logged); err != nil {
		return nil, err
	}
	return res, nil
}

// apply runs the action inside tx. During replay with a resolver
// configured, the action runs under a savepoint so a failure can be rolled
// back and handed to the resolver.
func (e *Engine) apply(ctx context.Context, tx *sql.Tx, m ir.Mutation, action Action, replay bool) ([]map[string]any, error) {
	if !replay || e.resolver == nil {
		return e.run(ctx, tx, m, action)
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT arla_action"); err != nil {
		return nil, e.storageError(m, err)
	}
	rows, err := e.run(ctx, tx, m, action)
	if err == nil {
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT arla_action"); err != nil {
			return nil, e.storageError(m, err)
		}
		return rows, nil
	}
	if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT arla_action"); rerr != nil {
		return nil, e.storageError(m, rerr)
	}

	slog.Warn("replayed mutation failed; consulting resolver",
		"mutation", m.String(),
		"id", m.ID,
		"error", err,
	)
	stmt, rerr := e.resolver(&ResolveCall{Err: err, Mutation: m, Session: m.Token, Tx: tx})
	if rerr != nil {
		return nil, asUserError(rerr)
	}
	rows, err = e.execute(ctx, tx, m, stmt)
	if err != nil {
		return nil, err
	}
	slog.Info("replayed mutation resolved", "mutation", m.String(), "id", m.ID)
	return rows, nil
}

func (e *Engine) run(ctx context.Context, tx *sql.Tx, m ir.Mutation, action Action) ([]map[string]any, error) {
	stmt, err := action(&ActionCall{
		Mutation: m,
		Args:     m.Args,
		Session:  m.Token,
		Tx:       tx,
	})
	if err != nil {
		return nil, asUserError(err)
	}
	return e.execute(ctx, tx, m, stmt)
}

// execute runs stmt and drains the changes it captured through the hooks.
func (e *Engine) execute(ctx context.Context, tx *sql.Tx, m ir.Mutation, stmt schema.SQL) ([]map[string]any, error) {
	if stmt == nil {
		slog.Debug("action was a no-op", "mutation", m.String())
		return []map[string]any{}, nil
	}

	text, args, err := e.bind(stmt)
	if err != nil {
		return nil, asUserError(fmt.Errorf("action %s: %w", m.Name, err))
	}
	rows, err := tx.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, e.storageError(m, err)
	}
	out, err := store.ScanMaps(rows)
	rows.Close()
	if err != nil {
		return nil, e.storageError(m, err)
	}

	if err := e.drainChanges(ctx, tx, m); err != nil {
		return nil, err
	}
	return out, nil
}

// bind renders an action statement for the store's dialect.
func (e *Engine) bind(stmt schema.SQL) (string, []any, error) {
	frag, err := schema.ResolveSQL(stmt)
	if err != nil {
		return "", nil, err
	}
	params := schema.NewParams(e.store.Dialect())
	var with string
	if frag.With != "" {
		if with, err = schema.Bind(frag.With, frag.Args, params, nil); err != nil {
			return "", nil, err
		}
	}
	text, err := schema.Bind(frag.Text, frag.Args, params, nil)
	if err != nil {
		return "", nil, err
	}
	if with != "" {
		text = "WITH " + with + " " + text
	}
	return text, params.Values(), nil
}

// append logs a committed mutation and records its WAL id. The caller
// holds execMu.
func (e *Engine) append(ctx context.Context, m ir.Mutation) (int64, error) {
	value, err := ir.EncodeMutation(m)
	if err != nil {
		return 0, mutationError(m, ErrCodeNotLogged, err, "mutation applied but could not be encoded")
	}

	id, err := e.log.Put(ctx, json.RawMessage(value))
	if err != nil {
		slog.Error("mutation applied but not logged",
			"mutation", m.String(),
			"id", m.ID,
			"error", err,
		)
		return 0, mutationError(m, ErrCodeNotLogged, err, "mutation applied but not logged")
	}
	e.metrics.Appended()

	// On failure the next sync acknowledges the entry through last_mutation.
	if err := e.store.SetLastID(ctx, e.store.DB(), id); err != nil {
		slog.Warn("recording wal position failed", "wal_id", id, "error", err)
	}
	return id, nil
}

// storageError normalizes a driver error. Only recognized constraint
// failures keep a summary; the driver text stays reachable via Unwrap.
func (e *Engine) storageError(m ir.Mutation, err error) error {
	if e.store.Dialect().IsUniqueViolation(err) {
		return mutationError(m, ErrCodeUniqueViolation, err, "violates unique constraint")
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "foreign key"):
		return mutationError(m, ErrCodeStorage, err, "violates foreign key constraint")
	case strings.Contains(msg, "not null") || strings.Contains(msg, "not-null"):
		return mutationError(m, ErrCodeStorage, err, "violates not-null constraint")
	default:
		return mutationError(m, ErrCodeStorage, err, "storage error")
	}
}
