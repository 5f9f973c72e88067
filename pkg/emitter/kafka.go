package emitter

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageWriter is the subset of *kafka.Writer used for publishing
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes emitted events to a topic keyed by tenant and conversation.
// Keys are hash partitioned so one conversation's events stay ordered.
type Kafka struct {
	writer MessageWriter
	logger *logrus.Logger
}

func NewKafka(brokers []string, topic string, logger *logrus.Logger) *Kafka {
	return NewKafkaWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}, logger)
}

func NewKafkaWithWriter(writer MessageWriter, logger *logrus.Logger) *Kafka {
	return &Kafka{writer: writer, logger: logger}
}

func (k *Kafka) Emit(ctx context.Context, rec Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", rec.TenantID, rec.ConversationID)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(rec.Name)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	k.logger.WithFields(logrus.Fields{
		"tenant_id":       rec.TenantID,
		"conversation_id": rec.ConversationID,
		"event":           rec.Name,
	}).Debug("Published emitted event to kafka")
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
