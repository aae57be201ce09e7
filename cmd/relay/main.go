package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cktan21/spm-relay/internal/broker"
	"github.com/cktan21/spm-relay/internal/config"
	"github.com/cktan21/spm-relay/internal/logging"
	"github.com/cktan21/spm-relay/internal/router"
	"github.com/cktan21/spm-relay/internal/session"
	"github.com/cktan21/spm-relay/internal/ws"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "check":
			cmdCheck(args[1:])
			return
		case "version":
			fmt.Printf("relay %s\n", version)
			return
		case "serve":
			args = args[1:]
		}
	}
	cmdServe(args)
}

func defaultConfigPath() string {
	if p := os.Getenv("RELAY_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	_ = fs.Parse(args)

	if _, err := config.Load(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("configuration is valid")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to config file")
	port := fs.Int("port", 0, "override server port")
	logLevel := fs.String("log-level", "", "override log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = *logLevel
	}

	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("relay stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}
	return serve(ctx, ln, cfg, logger)
}

// serve runs the relay on ln until ctx is cancelled or the listener fails.
func serve(ctx context.Context, ln net.Listener, cfg *config.Config, logger *zap.Logger, opts ...broker.Option) error {
	logger.Info("starting relay",
		zap.String("version", version),
		zap.String("addr", ln.Addr().String()),
		zap.Strings("brokers", cfg.Broker.Brokers),
		zap.String("topic", cfg.Broker.Topic))

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	registry := session.NewRegistry()
	hub := ws.NewHub(ws.HubConfigFrom(cfg.Transport), registry, logger.Named("hub"))

	// The hub outlives ctx so shutdown can drain its lifecycle events.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	rt := router.New(registry, hub, logger.Named("router"))
	consumer := broker.NewConsumer(brokerConfig(cfg.Broker), rt, logger.Named("broker"), opts...)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = consumer.Run(ctx)
	}()

	server := ws.NewServer(cfg, hub, registry, consumer, logger.Named("http"))
	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
	}
	cancelRun()

	// Closing the hub first ends pending long-polls, so the HTTP shutdown
	// does not wait out their poll timeout.
	hubShutdownCtx, cancelHub := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHub()
	if err := hub.Shutdown(hubShutdownCtx); err != nil {
		logger.Warn("hub shutdown", zap.Error(err))
	}

	httpShutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := srv.Shutdown(httpShutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()

	users, sessions := registry.Len()
	logger.Info("relay stopped", zap.Int("users", users), zap.Int("sessions", sessions))
	return serveErr
}

func brokerConfig(b config.BrokerConfig) broker.Config {
	return broker.Config{
		Brokers:        b.Brokers,
		GroupID:        b.GroupID,
		Topic:          b.Topic,
		InitialBackoff: b.InitialBackoff,
		MaxBackoff:     b.MaxBackoff,
		MaxRetries:     b.MaxRetries,
		RetryCooldown:  b.RetryCooldown,
		CommitTimeout:  b.CommitTimeout,
	}
}
