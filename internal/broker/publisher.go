package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Writer is the subset of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Envelope is the message body producers put on the event topic.
type Envelope struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publisher produces event envelopes onto one topic.
type Publisher struct {
	w      Writer
	topic  string
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher returns a publisher backed by a kafka.Writer that waits for
// all in-sync replicas.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           30 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return NewPublisherWithWriter(w, topic, logger)
}

func NewPublisherWithWriter(w Writer, topic string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{w: w, topic: topic, logger: logger, now: time.Now}
}

// Publish sends one event. An empty key lets the balancer pick a partition.
func (p *Publisher) Publish(ctx context.Context, eventType string, data map[string]any, key string) error {
	if data == nil {
		data = map[string]any{}
	}
	value, err := json.Marshal(Envelope{
		EventType: eventType,
		Timestamp: p.now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := kafka.Message{Value: value}
	if key != "" {
		msg.Key = []byte(key)
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", eventType, p.topic, err)
	}
	p.logger.Info("event published", zap.String("topic", p.topic), zap.String("event_type", eventType))
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
