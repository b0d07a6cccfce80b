// Package store provides the relational projection: entity tables created
// from the schema registry plus two internal tables.
//
// # Internal Tables
//
//	arla_meta     key/value bookkeeping: store_id, last_id, last_mutation
//	arla_changes  row images captured by the change-capture triggers
//
// # Critical Patterns
//
// Idempotent migration:
//   - Migrate executes the compiled DDL one statement at a time
//   - "already exists" failures count as success
//   - a later schema migrates an existing projection forward
//
// Crash-safe position:
//   - last_id and last_mutation are written inside the mutation transaction
//     during replay, so the projection position commits with the data
//   - live mutations record last_mutation in their transaction and last_id
//     after the WAL append; Sync uses last_mutation to recognize an entry
//     that was applied before a crash but not yet acknowledged
//
// Change capture:
//   - every entity table carries insert/update/delete triggers writing
//     JSON row images to arla_changes
//   - the mutation engine drains them in seq order to run hooks, then
//     clears the table before commit
//
// # Usage
//
//	s, err := store.Open(dialect.SQLite{}, "projection.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if _, err := s.Migrate(ctx, reg); err != nil {
//	    return err
//	}
package store
