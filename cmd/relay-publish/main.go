package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/broker"
	"github.com/cktan21/spm-relay/internal/config"
	"github.com/cktan21/spm-relay/internal/logging"
)

func main() {
	brokers := flag.String("brokers", config.DefaultBroker, "comma-separated broker addresses")
	topic := flag.String("topic", config.DefaultTopic, "topic to publish to")
	eventType := flag.String("type", "", "event type, e.g. task_assigned")
	data := flag.String("data", "{}", "event data as a JSON object")
	key := flag.String("key", "", "message key")
	timeout := flag.Duration("timeout", 10*time.Second, "publish timeout")
	flag.Parse()

	if *eventType == "" {
		fmt.Fprintln(os.Stderr, "-type is required")
		flag.Usage()
		os.Exit(2)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(*data), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -data: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	pub := broker.NewPublisher(config.SplitList(*brokers), *topic, logger)
	defer func() { _ = pub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := pub.Publish(ctx, *eventType, payload, *key); err != nil {
		logger.Error("publish failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("published",
		zap.String("topic", *topic),
		zap.String("event_type", *eventType),
		zap.String("key", *key))
}
