// Package broker connects the relay to Kafka: a consumer-group reader that
// feeds decoded events to a handler, and a publisher for producing them.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/event"
)

// ErrNoPartitions is returned when the topic exists on no reachable broker.
var ErrNoPartitions = errors.New("topic has no partitions")

// Reader is the subset of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OpenFunc establishes a Reader for cfg.
type OpenFunc func(ctx context.Context, cfg Config) (Reader, error)

// Handler receives every well-formed event in fetch order.
type Handler interface {
	Handle(ctx context.Context, ev event.Raw) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev event.Raw) error

func (f HandlerFunc) Handle(ctx context.Context, ev event.Raw) error { return f(ctx, ev) }

type Config struct {
	Brokers        []string
	GroupID        string
	Topic          string
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int
	RetryCooldown  time.Duration
	CommitTimeout  time.Duration
}

type Option func(*Consumer)

// WithOpener replaces the Kafka dialer, mainly for tests.
func WithOpener(open OpenFunc) Option {
	return func(c *Consumer) { c.open = open }
}

// Consumer reads the event topic as part of a consumer group and hands each
// event to the handler. Offsets are committed after the handler returns, so
// delivery is at-least-once. Broker outages are retried forever.
type Consumer struct {
	cfg     Config
	handler Handler
	open    OpenFunc
	logger  *zap.Logger
	health  *healthTracker
}

func NewConsumer(cfg Config, handler Handler, logger *zap.Logger, opts ...Option) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 8
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	c := &Consumer{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With(zap.String("topic", cfg.Topic), zap.String("group_id", cfg.GroupID)),
		health:  newHealthTracker(),
	}
	c.open = c.openKafka
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health returns a snapshot of the consumer state.
func (c *Consumer) Health() Health {
	return c.health.snapshot()
}

// Run consumes until ctx is cancelled. It only returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		r, err := c.connect(ctx)
		if err != nil {
			return nil
		}

		err = c.consume(ctx, r)
		if cerr := r.Close(); cerr != nil {
			c.logger.Debug("closing reader", zap.Error(cerr))
		}
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return nil
		}
		c.health.recordFailure(err)
		c.logger.Warn("consumer connection lost, reconnecting", zap.Error(err))
	}
}

// connect retries the opener in bursts of MaxRetries attempts with
// exponential backoff, cooling down between bursts. It returns an error
// only when ctx is done.
func (c *Consumer) connect(ctx context.Context) (Reader, error) {
	for {
		backoff := c.cfg.InitialBackoff
		for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
			r, err := c.open(ctx, c.cfg)
			if err == nil {
				c.health.recordConnected()
				c.logger.Info("consumer connected", zap.Strings("brokers", c.cfg.Brokers))
				return r, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.health.recordFailure(err)
			c.logger.Warn("connecting to broker",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.cfg.MaxRetries),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			if attempt == c.cfg.MaxRetries {
				break
			}
			if !sleep(ctx, backoff) {
				return nil, ctx.Err()
			}
			backoff = min(backoff*2, c.cfg.MaxBackoff)
		}

		c.health.recordUnavailable()
		c.logger.Error("broker unavailable, notifications paused",
			zap.Duration("retry_in", c.cfg.RetryCooldown))
		if !sleep(ctx, c.cfg.RetryCooldown) {
			return nil, ctx.Err()
		}
	}
}

// consume runs the fetch loop on r. A nil return means ctx was cancelled.
func (c *Consumer) consume(ctx context.Context, r Reader) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetching message: %w", err)
		}

		// The fetched message is finished even if ctx is cancelled meanwhile.
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CommitTimeout)
		c.process(mctx, msg)
		err = r.CommitMessages(mctx, msg)
		cancel()
		if err != nil {
			return fmt.Errorf("committing offset %d: %w", msg.Offset, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	log := c.logger.With(zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	ev, err := event.Decode(msg.Value)
	if err != nil {
		c.health.recordMalformed(err)
		log.Warn("skipping malformed message", zap.Error(err))
		return
	}

	if err := c.handler.Handle(ctx, ev); err != nil {
		log.Error("handling event", zap.String("event_type", ev.Type), zap.Error(err))
	}
	c.health.recordProcessed()
}

// openKafka dials the brokers in order, checks that the topic has
// partitions, and opens a group reader positioned at the latest offset.
func (c *Consumer) openKafka(ctx context.Context, cfg Config) (Reader, error) {
	if err := checkTopic(ctx, cfg.Brokers, cfg.Topic); err != nil {
		return nil, err
	}
	sugar := c.logger.Sugar()
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		Logger:      kafka.LoggerFunc(sugar.Debugf),
		ErrorLogger: kafka.LoggerFunc(sugar.Warnf),
	}), nil
}

func checkTopic(ctx context.Context, brokers []string, topic string) error {
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = fmt.Errorf("dialing %s: %w", addr, err)
			continue
		}
		partitions, err := conn.ReadPartitions(topic)
		conn.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading partitions from %s: %w", addr, err)
			continue
		}
		if len(partitions) == 0 {
			return fmt.Errorf("%s: %w", topic, ErrNoPartitions)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
