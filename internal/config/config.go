package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default Kafka settings for a local development broker.
const (
	DefaultBroker  = "localhost:9092"
	DefaultGroupID = "notification-relay-group"
	DefaultTopic   = "notification-events"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Broker    BrokerConfig    `yaml:"broker"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Path           string   `yaml:"path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	LogLevel       string   `yaml:"log_level"`
	LogFormat      string   `yaml:"log_format"`
}

type TransportConfig struct {
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	SendBuffer      int           `yaml:"send_buffer"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	PollIdleTimeout time.Duration `yaml:"poll_idle_timeout"`
	MaxConnections  int           `yaml:"max_connections"`
}

type BrokerConfig struct {
	Brokers        []string      `yaml:"brokers"`
	GroupID        string        `yaml:"group_id"`
	Topic          string        `yaml:"topic"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryCooldown  time.Duration `yaml:"retry_cooldown"`
	CommitTimeout  time.Duration `yaml:"commit_timeout"`
}

// Defaults returns a config usable against a local broker with no file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			Path:      "/socket",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Transport: TransportConfig{
			WriteTimeout:    10 * time.Second,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			SendBuffer:      256,
			PollTimeout:     25 * time.Second,
			PollIdleTimeout: 60 * time.Second,
			MaxConnections:  1000,
		},
		Broker: BrokerConfig{
			Brokers:        []string{DefaultBroker},
			GroupID:        DefaultGroupID,
			Topic:          DefaultTopic,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			MaxRetries:     8,
			RetryCooldown:  30 * time.Second,
			CommitTimeout:  5 * time.Second,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides gives environment variables priority over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); v != "" {
		cfg.Broker.Brokers = SplitList(v)
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		cfg.Broker.GroupID = v
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Broker.Topic = v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /, got %q", c.Server.Path)
	}
	if c.Transport.SendBuffer < 1 {
		return fmt.Errorf("transport.send_buffer must be at least 1")
	}
	if c.Transport.MaxConnections < 1 {
		return fmt.Errorf("transport.max_connections must be at least 1")
	}
	if c.Transport.PongTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.pong_timeout (%s) must exceed ping_interval (%s)",
			c.Transport.PongTimeout, c.Transport.PingInterval)
	}
	if c.Transport.PollTimeout <= 0 || c.Transport.PollIdleTimeout <= c.Transport.PollTimeout {
		return fmt.Errorf("transport.poll_idle_timeout must exceed poll_timeout")
	}
	if len(c.Broker.Brokers) == 0 {
		return fmt.Errorf("broker.brokers must list at least one host:port")
	}
	if c.Broker.GroupID == "" || c.Broker.Topic == "" {
		return fmt.Errorf("broker.group_id and broker.topic are required")
	}
	if c.Broker.InitialBackoff <= 0 || c.Broker.MaxBackoff < c.Broker.InitialBackoff {
		return fmt.Errorf("broker backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if c.Broker.MaxRetries < 1 {
		return fmt.Errorf("broker.max_retries must be at least 1")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
