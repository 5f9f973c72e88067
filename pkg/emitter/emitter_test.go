package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testRecord() Record {
	return Record{
		ID:             "evt-1",
		TenantID:       "acme",
		ConversationID: 55,
		Name:           "handoff_requested",
		EmittedAt:      time.UnixMilli(1700000000000),
	}
}

func TestKafka_EmitKeysByConversation(t *testing.T) {
	w := &fakeWriter{}
	k := NewKafkaWithWriter(w, testLogger())

	require.NoError(t, k.Emit(context.Background(), testRecord()))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "acme:55", string(msg.Key))
	assert.Equal(t, "handoff_requested", string(msg.Headers[0].Value))

	var decoded Record
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "handoff_requested", decoded.Name)
	assert.Equal(t, int64(55), decoded.ConversationID)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNewKafka_PartitionsByConversationKey(t *testing.T) {
	k := NewKafka([]string{"127.0.0.1:9092"}, "emitted", testLogger())

	writer, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)

	msg := kafka.Message{Key: []byte("tenant_123:42")}
	first := writer.Balancer.Balance(msg, 0, 1, 2, 3)
	for i := 0; i < 4; i++ {
		assert.Equal(t, first, writer.Balancer.Balance(msg, 0, 1, 2, 3))
	}
}

func TestKafka_EmitWrapsWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	k := NewKafkaWithWriter(w, testLogger())

	err := k.Emit(context.Background(), testRecord())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestLog_EmitNeverFails(t *testing.T) {
	assert.NoError(t, NewLog(testLogger()).Emit(context.Background(), testRecord()))
}

func setupTestRedis(t *testing.T) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   1,
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		t.Skipf("Redis not available: %v", err)
	}
	rdb.FlushDB(ctx)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisStream_Emit(t *testing.T) {
	rdb := setupTestRedis(t)
	s := NewRedisStream(rdb, "test_emitted_events", 100, testLogger())
	ctx := context.Background()

	require.NoError(t, s.Emit(ctx, testRecord()))

	entries, err := rdb.XRange(ctx, "test_emitted_events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "handoff_requested", entries[0].Values["name"])
	assert.Equal(t, "acme", entries[0].Values["tenant_id"])
}
