// Package trigger dispatches entity lifecycle events to validation hooks.
//
// Hooks are registered per entity (or for every entity via the wildcard
// "*") and keyed by "{phase}-{op}", for example "before-insert". Dispatch
// runs wildcard hooks first, then entity hooks, each list in registration
// order. Every hook receives a clone of the event record; fields it changes
// are copied back.
//
// The engine captures rows after the statement wrote them, so before-hooks
// run inside the transaction but after the row write. A before-hook's field
// changes are persisted as a second UPDATE, which can itself fail a unique
// or foreign key constraint; the whole mutation then rolls back.
package trigger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Wildcard registers a hook for every entity.
const Wildcard = "*"

// Phase is when a hook runs relative to the storage write.
type Phase string

const (
	Before Phase = "before"
	After  Phase = "after"
)

// Op is the kind of storage write.
type Op string

const (
	Insert Op = "insert"
	Update Op = "update"
	Delete Op = "delete"
)

// Record is a row image keyed by column name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return Record{}
	}
	return maps.Clone(r)
}

// Querier is the subset of *sql.Tx a hook may use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Event describes one row write.
// Constructed by the mutation engine and discarded after dispatch.
type Event struct {
	Entity string
	Op     Op
	Phase  Phase

	// Record is the row as of this phase: the new image for inserts and
	// updates, the old image for deletes.
	Record Record

	// Old is the previous image for updates, nil otherwise.
	Old Record

	// Tx is the mutation's transaction.
	Tx Querier

	// Session is the caller context of the mutation.
	Session map[string]any
}

// Key returns the "{phase}-{op}" lookup key.
func (e *Event) Key() string {
	return string(e.Phase) + "-" + string(e.Op)
}

// Hook validates or normalizes a record. Returning an error aborts the write
// and rolls back the enclosing mutation.
type Hook func(ctx context.Context, rec Record, ev *Event) error

// Dispatcher holds registered hooks.
// Safe for concurrent Dispatch; registration happens during initialization.
type Dispatcher struct {
	mu    sync.RWMutex
	hooks map[string]map[string][]Hook // entity -> key -> hooks
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{hooks: make(map[string]map[string][]Hook)}
}

// On registers hook for the given entity, phase and operations.
func (d *Dispatcher) On(entity string, phase Phase, hook Hook, ops ...Op) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byKey, ok := d.hooks[entity]
	if !ok {
		byKey = make(map[string][]Hook)
		d.hooks[entity] = byKey
	}
	for _, op := range ops {
		key := string(phase) + "-" + string(op)
		byKey[key] = append(byKey[key], hook)
	}
}

// Count returns the number of hooks registered for entity and key.
func (d *Dispatcher) Count(entity, key string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.hooks[entity][key])
}

// Dispatch runs every matching hook. The first hook error stops dispatch
// and is returned unchanged so author messages survive.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) error {
	if ev.Record == nil {
		ev.Record = Record{}
	}
	key := ev.Key()

	d.mu.RLock()
	var hooks []Hook
	hooks = append(hooks, d.hooks[Wildcard][key]...)
	if ev.Entity != Wildcard {
		hooks = append(hooks, d.hooks[ev.Entity][key]...)
	}
	d.mu.RUnlock()

	for i, hook := range hooks {
		rec := ev.Record.Clone()
		if err := hook(ctx, rec, ev); err != nil {
			slog.Debug("hook rejected write",
				"entity", ev.Entity,
				"key", key,
				"hook", i,
				"error", err,
			)
			return err
		}
		maps.Copy(ev.Record, rec)
	}
	return nil
}

// Changed returns the fields whose values differ between before and after,
// compared by their printed form. Used to write hook normalizations back.
func Changed(before, after Record) []string {
	var fields []string
	for k, v := range after {
		old, ok := before[k]
		if !ok || fmt.Sprint(old) != fmt.Sprint(v) {
			fields = append(fields, k)
		}
	}
	return fields
}
