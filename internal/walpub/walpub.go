// Package walpub mirrors WAL entries to a Kafka topic so downstream
// consumers can follow accepted mutations without reading the log store.
//
// Each entry becomes one message keyed by its WAL id, with the entry JSON as
// value and the log's store_id in a header. Publishing resumes from any id,
// so a consumer that tracks the last published id can restart safely.
package walpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/roach88/arla/internal/wal"
)

// StoreIDHeader carries the WAL store_id on every message.
const StoreIDHeader = "arla-store-id"

// DefaultBatchSize is how many messages are written per WriteMessages call.
const DefaultBatchSize = 100

// MessageWriter is the subset of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WriterConfig configures NewWriter.
type WriterConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// NewWriter builds a synchronous kafka writer that waits for all in-sync
// replicas.
func NewWriter(cfg WriterConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    DefaultBatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Async:        false,
	}, nil
}

// Publisher copies WAL entries to a MessageWriter.
type Publisher struct {
	log       wal.WAL
	out       MessageWriter
	batchSize int
}

// New creates a publisher. batchSize <= 0 selects DefaultBatchSize.
func New(log wal.WAL, out MessageWriter, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Publisher{log: log, out: out, batchSize: batchSize}
}

// Publish writes every entry after afterID and returns the id of the last
// entry written, or afterID if there was nothing to publish. On error the
// returned id is the last entry known to be written.
func (p *Publisher) Publish(ctx context.Context, afterID int64) (int64, error) {
	info, err := p.log.Info(ctx)
	if err != nil {
		return afterID, err
	}

	last := afterID
	batch := make([]kafka.Message, 0, p.batchSize)
	var batchLast int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.out.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("publish entries up to %d: %w", batchLast, err)
		}
		last = batchLast
		slog.Debug("wal entries published", "count", len(batch), "last_id", last)
		batch = batch[:0]
		return nil
	}

	for e, err := range p.log.Stream(ctx, afterID) {
		if err != nil {
			return last, err
		}
		msg, err := Message(info.StoreID, e)
		if err != nil {
			return last, err
		}
		batch = append(batch, msg)
		batchLast = e.ID
		if len(batch) == p.batchSize {
			if err := flush(); err != nil {
				return last, err
			}
		}
	}
	if err := flush(); err != nil {
		return last, err
	}
	return last, nil
}

// Message renders one entry as a Kafka message.
func Message(storeID string, e wal.Entry) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode entry %d: %w", e.ID, err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(e.ID, 10)),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: StoreIDHeader, Value: []byte(storeID)},
		},
	}, nil
}

// Close closes the writer. The WAL is left open.
func (p *Publisher) Close() error {
	return p.out.Close()
}
