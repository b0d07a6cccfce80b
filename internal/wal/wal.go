// Package wal is the append-only mutation log the projection is rebuilt
// from.
//
// Entries get strictly increasing integer ids. Each log carries a store_id
// generated when the log is created; a projection remembers the store_id
// it was built from and refuses to sync against a different log.
//
// Two implementations exist: SQLite (the default, a single file next to
// the projection) and Redis (a shared log for several projections).
package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"
)

// DefaultPageSize is how many entries Stream fetches per round trip.
const DefaultPageSize = 500

// Entry is one logged value.
type Entry struct {
	ID    int64           `json:"id"`
	At    time.Time       `json:"at"`
	Value json.RawMessage `json:"value"`
}

// Info describes a log.
type Info struct {
	StoreID string `json:"store_id"`
	LastID  int64  `json:"last_id"`
	Count   int64  `json:"count"`
}

// WAL is an append-only log.
type WAL interface {
	// Put appends value and returns its id.
	Put(ctx context.Context, value any) (int64, error)

	// Stream yields entries with id greater than afterID in id order. It
	// pages through the log lazily and stops at the first error.
	Stream(ctx context.Context, afterID int64) iter.Seq2[Entry, error]

	// Info returns the store id and position of the log.
	Info(ctx context.Context) (Info, error)

	Close() error
}

// Clock supplies entry timestamps.
type Clock func() time.Time

// Option configures a WAL implementation.
type Option func(*options)

type options struct {
	clock    Clock
	pageSize int
}

// WithClock overrides time.Now for entry timestamps.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithPageSize sets the Stream page size.
func WithPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now, pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// encode renders a value as JSON. Raw JSON is stored as given.
func encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("value is not valid JSON")
		}
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("value is not valid JSON")
		}
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		return data, nil
	}
}
