package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/arla/internal/ir"
	"github.com/roach88/arla/internal/store"
)

// replayLogInterval is how many replayed entries pass between progress logs.
const replayLogInterval = 1000

// SyncResult describes one Sync run.
type SyncResult struct {
	StoreID string

	// Adopted is true when an empty projection took on the WAL's identity.
	Adopted bool

	// From is the last applied WAL id before the run.
	From int64

	// LastID is the last applied WAL id after the run.
	LastID int64

	Replayed int

	// Acknowledged counts entries found already applied through
	// last_mutation and skipped.
	Acknowledged int
}

// Start migrates the projection and brings it up to date with the WAL.
func (e *Engine) Start(ctx context.Context) (SyncResult, error) {
	if _, err := e.Migrate(ctx); err != nil {
		return SyncResult{}, err
	}
	return e.Sync(ctx)
}

// Migrate applies the schema DDL to the projection.
func (e *Engine) Migrate(ctx context.Context) (store.MigrateResult, error) {
	return e.store.Migrate(ctx, e.reg)
}

// Sync replays WAL entries the projection has not applied yet.
//
// An empty projection adopts the WAL's store identity, runs the bootstrap
// statements and replays from the beginning. A projection bound to another
// WAL fails with a ConfigError: it must be rebuilt, never merged. Entries
// are replayed strictly in id order.
func (e *Engine) Sync(ctx context.Context) (SyncResult, error) {
	e.gate.Lock()
	defer e.gate.Unlock()
	return e.sync(ctx)
}

// Rebuild destroys the projection data and replays the whole WAL. It is
// only allowed against the WAL the projection was built from.
func (e *Engine) Rebuild(ctx context.Context) (SyncResult, error) {
	e.gate.Lock()
	defer e.gate.Unlock()

	info, err := e.log.Info(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("read wal info: %w", err)
	}
	pos, err := e.store.Position(ctx, nil)
	if err != nil {
		return SyncResult{}, err
	}
	if !pos.Empty() && pos.StoreID != info.StoreID {
		return SyncResult{}, e.mismatch(pos.StoreID, info.StoreID)
	}

	if err := e.destroy(ctx); err != nil {
		return SyncResult{}, err
	}
	if _, err := e.store.Migrate(ctx, e.reg); err != nil {
		return SyncResult{}, err
	}
	return e.sync(ctx)
}

// DestroyData drops every entity table and clears the projection's
// identity. Exec fails with ErrNotSynced until the next Start.
func (e *Engine) DestroyData(ctx context.Context) error {
	e.gate.Lock()
	defer e.gate.Unlock()
	return e.destroy(ctx)
}

func (e *Engine) destroy(ctx context.Context) error {
	e.synced.Store(false)
	return e.store.DestroyData(ctx, e.reg)
}

func (e *Engine) sync(ctx context.Context) (SyncResult, error) {
	info, err := e.log.Info(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("read wal info: %w", err)
	}
	if info.StoreID == "" {
		return SyncResult{}, configError(ErrCodeMissingConfig, "wal has no store_id")
	}
	pos, err := e.store.Position(ctx, nil)
	if err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{StoreID: info.StoreID, From: pos.LastID, LastID: pos.LastID}
	switch {
	case pos.Empty():
		if err := e.adopt(ctx, info.StoreID); err != nil {
			return res, err
		}
		res.Adopted = true
		res.From, res.LastID = 0, 0
		pos.LastMutation = ""
	case pos.StoreID != info.StoreID:
		return res, e.mismatch(pos.StoreID, info.StoreID)
	}

	first := true
	for entry, err := range e.log.Stream(ctx, res.From) {
		if err != nil {
			return res, fmt.Errorf("stream wal after %d: %w", res.LastID, err)
		}
		m, err := ir.DecodeMutation(entry.Value)
		if err != nil {
			return res, fmt.Errorf("wal entry %d: %w", entry.ID, err)
		}

		if first && pos.LastMutation != "" && m.ID == pos.LastMutation {
			// committed before a crash that skipped the last_id update
			if err := e.store.SetLastID(ctx, e.store.DB(), entry.ID); err != nil {
				return res, err
			}
			slog.Info("wal entry already applied", "wal_id", entry.ID, "id", m.ID)
			first = false
			res.Acknowledged++
			res.LastID = entry.ID
			continue
		}
		first = false

		if _, err := e.exec(ctx, m, execMode{replay: true, walID: entry.ID}); err != nil {
			return res, fmt.Errorf("replay wal entry %d: %w", entry.ID, err)
		}
		e.metrics.Replayed()
		res.Replayed++
		res.LastID = entry.ID
		if res.Replayed%replayLogInterval == 0 {
			slog.Info("replay progress", "replayed", res.Replayed, "wal_id", entry.ID)
		}
	}

	e.synced.Store(true)
	slog.Info("projection synced",
		"store_id", res.StoreID,
		"from", res.From,
		"last_id", res.LastID,
		"replayed", res.Replayed,
		"acknowledged", res.Acknowledged,
	)
	return res, nil
}

// adopt binds an empty projection to storeID and runs the bootstrap
// statements in the same transaction.
func (e *Engine) adopt(ctx context.Context, storeID string) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range e.bootstrap {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap statement %d: %w", i+1, err)
		}
	}
	if err := e.store.ClearChanges(ctx, tx); err != nil {
		return err
	}
	if err := e.store.SetMeta(ctx, tx, store.KeyStoreID, storeID); err != nil {
		return err
	}
	if err := e.store.SetLastID(ctx, tx, 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit adoption: %w", err)
	}
	slog.Info("projection adopted wal identity",
		"store_id", storeID,
		"bootstrap", len(e.bootstrap),
	)
	return nil
}

func (e *Engine) mismatch(projection, log string) error {
	slog.Error("store_id mismatch", "projection", projection, "wal", log)
	return configError(ErrCodeStoreMismatch,
		"store_id mismatch: projection was built from %s, wal is %s", projection, log)
}
