package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
)

// Config aggregates every configuration group of the service.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Microservice MicroserviceConfig
	Chat         ChatConfig
	Events       EventsConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port           string `env:"PORT" envDefault:"8080"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Addr           string
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"`
}

// MicroserviceConfig describes the RAG microservice the widgets talk to.
type MicroserviceConfig struct {
	// Host pre-configures new widget sessions. Empty means every session configures its own.
	Host    string        `env:"MICROSERVICE_HOST"`
	Timeout time.Duration `env:"MICROSERVICE_TIMEOUT" envDefault:"120s"`
}

// ChatConfig tunes conversation behavior and rendering.
type ChatConfig struct {
	Sanitize           bool          `env:"RENDER_SANITIZE" envDefault:"true"`
	ErrorNotices       bool          `env:"CHAT_ERROR_NOTICES" envDefault:"false"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"1h"`
}

// EventsConfig describes the optional NATS connection used for exchange events.
type EventsConfig struct {
	NatsURL       string `env:"NATS_URL"`
	NatsToken     string `env:"NATS_TOKEN"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"ragchat.exchange"`
}

// Enabled reports whether exchange events should be published.
func (c EventsConfig) Enabled() bool {
	return c.NatsURL != ""
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if cfg.Microservice.Host != "" {
		host, err := chat.NormalizeHost(cfg.Microservice.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid MICROSERVICE_HOST value %q: %w", cfg.Microservice.Host, err)
		}
		cfg.Microservice.Host = host
	}

	if cfg.Microservice.Timeout <= 0 {
		return nil, fmt.Errorf("invalid MICROSERVICE_TIMEOUT value %q: must be positive", cfg.Microservice.Timeout)
	}

	if cfg.Chat.SessionIdleTimeout <= 0 {
		cfg.Chat.SessionIdleTimeout = time.Hour
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "console", "json":
		cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT value %q", cfg.Log.Format)
	}

	return cfg, nil
}

// normalizeAddr turns the PORT value into a listen address.
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are passed through.
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
