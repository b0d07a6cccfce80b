package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/arla/internal/trigger"
)

// Meta keys.
const (
	KeyStoreID      = "store_id"
	KeyLastID       = "last_id"
	KeyLastMutation = "last_mutation"
)

// Position is how far the projection has applied the WAL.
type Position struct {
	StoreID      string
	LastID       int64
	LastMutation string
}

// Empty reports whether the projection has never been bound to a WAL.
func (p Position) Empty() bool {
	return p.StoreID == ""
}

// Meta reads a meta value. ok is false when the key is unset.
func (s *Store) Meta(ctx context.Context, q trigger.Querier, key string) (value string, ok bool, err error) {
	query := fmt.Sprintf("SELECT value FROM arla_meta WHERE key = %s", s.d.Placeholder(1))
	err = q.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetMeta upserts a meta value.
func (s *Store) SetMeta(ctx context.Context, q trigger.Querier, key, value string) error {
	query := fmt.Sprintf(
		"INSERT INTO arla_meta (key, value) VALUES (%s, %s) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		s.d.Placeholder(1), s.d.Placeholder(2),
	)
	if _, err := q.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// Position reads the store id, last applied WAL id and last mutation id.
func (s *Store) Position(ctx context.Context, q trigger.Querier) (Position, error) {
	if q == nil {
		q = s.db
	}
	var pos Position
	var err error
	if pos.StoreID, _, err = s.Meta(ctx, q, KeyStoreID); err != nil {
		return Position{}, err
	}
	if pos.LastMutation, _, err = s.Meta(ctx, q, KeyLastMutation); err != nil {
		return Position{}, err
	}
	last, ok, err := s.Meta(ctx, q, KeyLastID)
	if err != nil {
		return Position{}, err
	}
	if ok {
		if pos.LastID, err = strconv.ParseInt(last, 10, 64); err != nil {
			return Position{}, fmt.Errorf("meta %s is not an integer: %q", KeyLastID, last)
		}
	}
	return pos, nil
}

// SetLastID records the last applied WAL id.
func (s *Store) SetLastID(ctx context.Context, q trigger.Querier, id int64) error {
	return s.SetMeta(ctx, q, KeyLastID, strconv.FormatInt(id, 10))
}

func missingTable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such table") || strings.Contains(msg, "does not exist")
}
