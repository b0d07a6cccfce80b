package walpub

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/arla/internal/wal"
)

type fakeWriter struct {
	batches [][]kafka.Message
	failAt  int // fail the n-th call (1-based); 0 never fails
	closed  bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return errors.New("broker unavailable")
	}
	f.batches = append(f.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func (f *fakeWriter) messages() []kafka.Message {
	var out []kafka.Message
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func createTestLog(t *testing.T, n int) *wal.SQLiteWAL {
	t.Helper()
	w, err := wal.OpenSQLite(filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	for i := 1; i <= n; i++ {
		_, err := w.Put(context.Background(), map[string]int{"n": i})
		require.NoError(t, err)
	}
	return w
}

func TestPublish_BatchesAndResumes(t *testing.T) {
	ctx := context.Background()
	log := createTestLog(t, 5)
	out := &fakeWriter{}
	p := New(log, out, 2)

	last, err := p.Publish(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
	assert.Len(t, out.batches, 3)

	msgs := out.messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "1", string(msgs[0].Key))

	var e wal.Entry
	require.NoError(t, json.Unmarshal(msgs[4].Value, &e))
	assert.Equal(t, int64(5), e.ID)
	assert.JSONEq(t, `{"n":5}`, string(e.Value))

	info, err := log.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreIDHeader, msgs[0].Headers[0].Key)
	assert.Equal(t, info.StoreID, string(msgs[0].Headers[0].Value))

	again, err := p.Publish(ctx, last)
	require.NoError(t, err)
	assert.Equal(t, last, again, "nothing new to publish")
	assert.Len(t, out.batches, 3)
}

func TestPublish_ReportsLastWrittenOnFailure(t *testing.T) {
	log := createTestLog(t, 5)
	out := &fakeWriter{failAt: 2}
	p := New(log, out, 2)

	last, err := p.Publish(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	assert.Equal(t, int64(2), last)
}

func TestNewWriter_Validates(t *testing.T) {
	_, err := NewWriter(WriterConfig{Topic: "arla"})
	assert.Error(t, err)
	_, err = NewWriter(WriterConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	w, err := NewWriter(WriterConfig{Brokers: []string{"localhost:9092"}, Topic: "arla"})
	require.NoError(t, err)
	assert.Equal(t, "arla", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}

func TestClose(t *testing.T) {
	out := &fakeWriter{}
	p := New(createTestLog(t, 0), out, 0)
	require.NoError(t, p.Close())
	assert.True(t, out.closed)
}
