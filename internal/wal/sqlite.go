package wal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - log and meta tables, store_id
const currentSchemaVersion = 1

// SQLiteWAL is a WAL in a SQLite file.
type SQLiteWAL struct {
	db   *sql.DB
	opts options
}

// OpenSQLite creates or opens a log at path. A new log gets a random
// store_id.
func OpenSQLite(path string, opts ...Option) (*SQLiteWAL, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to wal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply wal schema: %w", err)
	}
	return &SQLiteWAL{db: db, opts: buildOptions(opts)}, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	storeID := uuid.NewString()
	res, err := tx.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('store_id', ?)`, storeID)
	if err != nil {
		return fmt.Errorf("write store_id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		slog.Info("wal created", "store_id", storeID)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}

// Put appends value.
func (w *SQLiteWAL) Put(ctx context.Context, value any) (int64, error) {
	data, err := encode(value)
	if err != nil {
		return 0, err
	}
	at := w.opts.clock().UTC().Format(time.RFC3339Nano)
	res, err := w.db.ExecContext(ctx, `INSERT INTO log (at, value) VALUES (?, ?)`, at, string(data))
	if err != nil {
		return 0, fmt.Errorf("append wal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append wal entry: %w", err)
	}
	return id, nil
}

// Stream yields entries after afterID, one page per query.
func (w *SQLiteWAL) Stream(ctx context.Context, afterID int64) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		cursor := afterID
		for {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			page, err := w.page(ctx, cursor)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
				cursor = e.ID
			}
			if len(page) < w.opts.pageSize {
				return
			}
		}
	}
}

func (w *SQLiteWAL) page(ctx context.Context, afterID int64) ([]Entry, error) {
	rows, err := w.db.QueryContext(ctx,
		`SELECT id, at, value FROM log WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, w.opts.pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("read wal: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, w.opts.pageSize)
	for rows.Next() {
		var e Entry
		var at, value string
		if err := rows.Scan(&e.ID, &at, &value); err != nil {
			return nil, fmt.Errorf("scan wal entry: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("wal entry %d: bad timestamp %q", e.ID, at)
		}
		e.Value = []byte(value)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Info reads the store id and position.
func (w *SQLiteWAL) Info(ctx context.Context) (Info, error) {
	var info Info
	err := w.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'store_id'`).Scan(&info.StoreID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Info{}, fmt.Errorf("read store_id: %w", err)
	}
	var last sql.NullInt64
	if err := w.db.QueryRowContext(ctx, `SELECT max(id), count(*) FROM log`).Scan(&last, &info.Count); err != nil {
		return Info{}, fmt.Errorf("read wal position: %w", err)
	}
	info.LastID = last.Int64
	return info, nil
}

// Close closes the database.
func (w *SQLiteWAL) Close() error {
	return w.db.Close()
}
