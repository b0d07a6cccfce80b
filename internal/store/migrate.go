package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/arla/internal/schema"
)

// MigrateResult counts the outcome of a migration run.
type MigrateResult struct {
	Applied int
	Existed int
}

// Migrate applies the registry's DDL. Statements are executed one at a
// time outside a transaction; a statement failing because its table,
// column, index or trigger already exists counts as success. Running
// Migrate again on an up-to-date projection changes nothing.
func (s *Store) Migrate(ctx context.Context, reg *schema.Registry) (MigrateResult, error) {
	stmts, err := reg.CompileDDL(s.d)
	if err != nil {
		return MigrateResult{}, fmt.Errorf("compile ddl: %w", err)
	}

	var res MigrateResult
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st.SQL); err != nil {
			if s.d.IsAlreadyExists(err) {
				slog.Debug("ddl statement already applied",
					"entity", st.Entity,
					"priority", st.Priority,
				)
				res.Existed++
				continue
			}
			return res, fmt.Errorf("apply ddl for %q: %w", st.Entity, err)
		}
		res.Applied++
	}
	slog.Info("projection migrated",
		"dialect", s.d.Name(),
		"applied", res.Applied,
		"existed", res.Existed,
	)
	return res, nil
}

// DestroyData drops every entity table and clears the internal tables, so
// a following Migrate and replay rebuild the projection from scratch.
func (s *Store) DestroyData(ctx context.Context, reg *schema.Registry) error {
	for _, sql := range reg.DropStatements(s.d) {
		if _, err := s.db.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	for _, table := range []string{"arla_meta", "arla_changes"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil && !missingTable(err) {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	slog.Info("projection destroyed", "dialect", s.d.Name())
	return nil
}
