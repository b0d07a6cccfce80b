package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/schema"
	"github.com/roach88/arla/internal/store"
	"github.com/roach88/arla/internal/trigger"
)

// drainChanges dispatches every captured row change through the hooks, in
// capture order, and empties the change table. Rows written by hooks are
// captured too and drained in later rounds, up to the step budget.
func (e *Engine) drainChanges(ctx context.Context, tx *sql.Tx, m ir.Mutation) error {
	quota := NewQuotaEnforcer("hook drain", e.maxSteps)
	var after int64
	for {
		changes, err := e.store.Changes(ctx, tx, after)
		if err != nil {
			return e.storageError(m, err)
		}
		if len(changes) == 0 {
			break
		}
		for _, c := range changes {
			if err := quota.Check(); err != nil {
				return mutationError(m, ErrCodeNonTermination, err,
					"hooks kept writing rows after %d changes", e.maxSteps)
			}
			if err := e.dispatchChange(ctx, tx, m, c); err != nil {
				return err
			}
			after = c.Seq
		}
	}
	if err := e.store.ClearChanges(ctx, tx); err != nil {
		return e.storageError(m, err)
	}
	return nil
}

// dispatchChange runs the before hooks, writes back any field they changed,
// then runs the after hooks with the normalized record.
func (e *Engine) dispatchChange(ctx context.Context, tx *sql.Tx, m ir.Mutation, c store.Change) error {
	image := c.Record()
	ev := &trigger.Event{
		Entity:  c.Entity,
		Op:      c.Op,
		Phase:   trigger.Before,
		Record:  image.Clone(),
		Tx:      tx,
		Session: m.Token,
	}
	if c.Op == trigger.Update {
		ev.Old = c.Old
	}

	if err := e.hooks.Dispatch(ctx, ev); err != nil {
		return e.hookError(m, err)
	}
	if c.Op != trigger.Delete {
		if err := e.writeBack(ctx, tx, m, c.Entity, image, ev.Record); err != nil {
			return err
		}
	}

	ev.Phase = trigger.After
	if err := e.hooks.Dispatch(ctx, ev); err != nil {
		return e.hookError(m, err)
	}
	return nil
}

// writeBack persists fields a before hook changed. The capture of the
// write-back itself is discarded so it is not dispatched again.
func (e *Engine) writeBack(ctx context.Context, tx *sql.Tx, m ir.Mutation, entity string, before, after trigger.Record) error {
	fields := trigger.Changed(before, after)
	if len(fields) == 0 {
		return nil
	}
	slices.Sort(fields)

	ent, ok := e.reg.Entity(entity)
	if !ok {
		return mutationError(m, ErrCodeStorage, nil, "change captured for unknown entity %q", entity)
	}
	pk := ent.PrimaryKey()
	d := e.store.Dialect()
	params := schema.NewParams(d)

	sets := make([]string, 0, len(fields))
	for _, f := range fields {
		p, ok := ent.Property(f)
		if !ok || p.Computed() {
			return NewUserError("hook cannot set %s.%s: not a stored property", entity, f)
		}
		if p.PrimaryKey {
			return NewUserError("hook cannot change the primary key of %s", entity)
		}
		sets = append(sets, d.QuoteIdent(f)+" = "+params.Add(after[f]))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.QuoteIdent(ent.Name),
		strings.Join(sets, ", "),
		d.QuoteIdent(pk.Name),
		params.Add(before[pk.Name]),
	)

	mark, err := e.store.LastChange(ctx, tx)
	if err != nil {
		return e.storageError(m, err)
	}
	if _, err := tx.ExecContext(ctx, query, params.Values()...); err != nil {
		return e.storageError(m, err)
	}
	if err := e.store.DeleteChanges(ctx, tx, mark); err != nil {
		return e.storageError(m, err)
	}
	return nil
}

// hookError keeps author messages but normalizes storage failures raised by
// writes a hook made through the transaction.
func (e *Engine) hookError(m ir.Mutation, err error) error {
	if e.store.Dialect().IsUniqueViolation(err) {
		return e.storageError(m, err)
	}
	return asUserError(err)
}
