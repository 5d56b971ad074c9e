package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 4096
	defaultRateBurst       = 10
	defaultRefillInterval  = time.Second
	defaultSendBufferSize  = 256
	defaultWriteWait       = 10 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST"           envDefault:"10"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string          `env:"SERVER_PORT"      envDefault:":8080"`
	AllowedOrigins  []string        `env:"ALLOWED_ORIGINS"  envDefault:"http://localhost:8080" envSeparator:","`
	MaxMessageSize  int64           `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimit       RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	SendBufferSize  int             `env:"SEND_BUFFER_SIZE" envDefault:"256"`
	WriteWait       time.Duration   `env:"WRITE_WAIT"       envDefault:"10s"`
	PongWait        time.Duration   `env:"PONG_WAIT"        envDefault:"60s"`
	ShutdownTimeout time.Duration   `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := Config{
		Port:            defaultPort,
		AllowedOrigins:  []string{"http://localhost:8080"},
		MaxMessageSize:  defaultMaxMessageSize,
		RateLimit:       RateLimitConfig{Burst: defaultRateBurst, RefillInterval: defaultRefillInterval},
		SendBufferSize:  defaultSendBufferSize,
		WriteWait:       defaultWriteWait,
		PongWait:        defaultPongWait,
		ShutdownTimeout: defaultShutdownTimeout,
	}
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for unset or invalid values.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse server env: %w", err)
	}
	sanitized := SanitizeConfig(cfg)
	return &sanitized, nil
}

// SanitizeConfig replaces zero or invalid values with defaults.
func SanitizeConfig(cfg Config) Config {
	cfg.Port = normalizePort(cfg.Port)

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins
	return cfg
}

// PingPeriod is how often the server pings a peer; it must be shorter than PongWait.
func (c Config) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return defaultPort
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
