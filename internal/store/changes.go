package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/arla/internal/trigger"
)

// Change is one row write captured by the change-capture triggers.
type Change struct {
	Seq    int64
	Entity string
	Op     trigger.Op
	Old    trigger.Record
	New    trigger.Record
}

// Record is the row image hooks operate on: the new image for inserts and
// updates, the old image for deletes.
func (c Change) Record() trigger.Record {
	if c.Op == trigger.Delete {
		return c.Old
	}
	return c.New
}

// Changes returns captured changes with seq greater than afterSeq, in
// capture order. Returns an empty slice (not nil) when there are none.
func (s *Store) Changes(ctx context.Context, q trigger.Querier, afterSeq int64) ([]Change, error) {
	query := fmt.Sprintf(
		"SELECT seq, entity, op, old_row, new_row FROM arla_changes WHERE seq > %s ORDER BY seq",
		s.d.Placeholder(1),
	)
	rows, err := q.QueryContext(ctx, query, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var c Change
		var op string
		var oldRow, newRow sql.NullString
		if err := rows.Scan(&c.Seq, &c.Entity, &op, &oldRow, &newRow); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Op = trigger.Op(op)
		if c.Old, err = decodeRecord(oldRow); err != nil {
			return nil, fmt.Errorf("change %d: %w", c.Seq, err)
		}
		if c.New, err = decodeRecord(newRow); err != nil {
			return nil, fmt.Errorf("change %d: %w", c.Seq, err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	return changes, nil
}

// DeleteChanges removes captured changes with seq greater than afterSeq.
// Used to discard the echo of a hook write-back.
func (s *Store) DeleteChanges(ctx context.Context, q trigger.Querier, afterSeq int64) error {
	query := fmt.Sprintf("DELETE FROM arla_changes WHERE seq > %s", s.d.Placeholder(1))
	if _, err := q.ExecContext(ctx, query, afterSeq); err != nil {
		return fmt.Errorf("delete changes: %w", err)
	}
	return nil
}

// ClearChanges empties the change table.
func (s *Store) ClearChanges(ctx context.Context, q trigger.Querier) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM arla_changes"); err != nil {
		return fmt.Errorf("clear changes: %w", err)
	}
	return nil
}

// LastChange returns the highest captured seq, or 0.
func (s *Store) LastChange(ctx context.Context, q trigger.Querier) (int64, error) {
	var seq sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT max(seq) FROM arla_changes").Scan(&seq); err != nil {
		return 0, fmt.Errorf("read last change: %w", err)
	}
	return seq.Int64, nil
}

func decodeRecord(raw sql.NullString) (trigger.Record, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw.String)))
	dec.UseNumber()
	var rec trigger.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode row image: %w", err)
	}
	return rec, nil
}
