package wal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// appendScript allocates the next id and stores the entry atomically.
//
//	KEYS[1] sequence counter
//	KEYS[2] sorted set of ids
//	KEYS[3] hash of id -> envelope
//	ARGV[1] envelope
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
redis.call('ZADD', KEYS[2], id, id)
redis.call('HSET', KEYS[3], id, ARGV[1])
return id
`)

// RedisWAL is a WAL in Redis, namespaced under a key prefix.
type RedisWAL struct {
	client *redis.Client
	prefix string
	opts   options
}

// envelope is the stored form of an entry.
type envelope struct {
	At    time.Time       `json:"at"`
	Value json.RawMessage `json:"value"`
}

// OpenRedis connects to the Redis server at url (redis://host:port/db) and
// uses keys under prefix. A new log gets a random store_id.
func OpenRedis(ctx context.Context, url, prefix string, opts ...Option) (*RedisWAL, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	w, err := NewRedis(ctx, client, prefix, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return w, nil
}

// NewRedis wraps a connected client. Close closes the client.
func NewRedis(ctx context.Context, client *redis.Client, prefix string, opts ...Option) (*RedisWAL, error) {
	if prefix == "" {
		prefix = "arla:wal"
	}
	w := &RedisWAL{client: client, prefix: prefix, opts: buildOptions(opts)}

	storeID := uuid.NewString()
	created, err := client.SetNX(ctx, w.key("store_id"), storeID, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("write store_id: %w", err)
	}
	if created {
		slog.Info("wal created", "store_id", storeID, "prefix", prefix)
	}
	return w, nil
}

func (w *RedisWAL) key(name string) string {
	return w.prefix + ":" + name
}

// Put appends value.
func (w *RedisWAL) Put(ctx context.Context, value any) (int64, error) {
	data, err := encode(value)
	if err != nil {
		return 0, err
	}
	env, err := json.Marshal(envelope{At: w.opts.clock().UTC(), Value: data})
	if err != nil {
		return 0, fmt.Errorf("encode wal entry: %w", err)
	}
	keys := []string{w.key("seq"), w.key("ids"), w.key("entries")}
	id, err := appendScript.Run(ctx, w.client, keys, string(env)).Int64()
	if err != nil {
		return 0, fmt.Errorf("append wal entry: %w", err)
	}
	return id, nil
}

// Stream yields entries after afterID, one ZRANGEBYSCORE page at a time.
func (w *RedisWAL) Stream(ctx context.Context, afterID int64) iter.Seq2[Entry, error] {
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

func (w *RedisWAL) page(ctx context.Context, afterID int64) ([]Entry, error) {
	ids, err := w.client.ZRangeByScore(ctx, w.key("ids"), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(afterID, 10),
		Max:   "+inf",
		Count: int64(w.opts.pageSize),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read wal ids: %w", err)
	}
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	envs, err := w.client.HMGet(ctx, w.key("entries"), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read wal entries: %w", err)
	}
	entries := make([]Entry, 0, len(ids))
	for i, raw := range envs {
		id, err := strconv.ParseInt(ids[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad wal id %q", ids[i])
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("wal entry %d is missing", id)
		}
		var env envelope
		if err := json.Unmarshal([]byte(s), &env); err != nil {
			return nil, fmt.Errorf("decode wal entry %d: %w", id, err)
		}
		entries = append(entries, Entry{ID: id, At: env.At, Value: env.Value})
	}
	return entries, nil
}

// Info reads the store id and position.
func (w *RedisWAL) Info(ctx context.Context) (Info, error) {
	var info Info
	storeID, err := w.client.Get(ctx, w.key("store_id")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Info{}, fmt.Errorf("read store_id: %w", err)
	}
	info.StoreID = storeID

	last, err := w.client.Get(ctx, w.key("seq")).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Info{}, fmt.Errorf("read wal position: %w", err)
	}
	info.LastID = last

	if info.Count, err = w.client.ZCard(ctx, w.key("ids")).Result(); err != nil {
		return Info{}, fmt.Errorf("count wal entries: %w", err)
	}
	return info, nil
}

// Close closes the client.
func (w *RedisWAL) Close() error {
	return w.client.Close()
}
