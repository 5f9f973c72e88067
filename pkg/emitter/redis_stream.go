package emitter

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStream appends emitted events to a Redis stream
type RedisStream struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *logrus.Logger
}

// NewRedisStream trims the stream to roughly maxLen entries; zero leaves it unbounded
func NewRedisStream(rdb *redis.Client, stream string, maxLen int64, logger *logrus.Logger) *RedisStream {
	return &RedisStream{
		rdb:    rdb,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

func (s *RedisStream) Emit(ctx context.Context, rec Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event_id":        rec.ID,
			"tenant_id":       rec.TenantID,
			"conversation_id": rec.ConversationID,
			"name":            rec.Name,
			"emitted_at":      rec.EmittedAt.UnixMilli(),
			"event_data":      string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	messageID, err := s.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to add message to stream: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":       rec.TenantID,
		"conversation_id": rec.ConversationID,
		"event":           rec.Name,
		"message_id":      messageID,
	}).Debug("Published emitted event to stream")
	return nil
}

// Close leaves the shared Redis connection open; its owner closes it
func (s *RedisStream) Close() error {
	return nil
}
