// Package auth validates and issues the bearer tokens shared by the chat API
// and the WebSocket endpoint.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Algorithm is the only signing method accepted or produced.
const Algorithm = "HS256"

const defaultTokenTTL = 24 * time.Hour

// Config holds the shared token secret and lifetime.
type Config struct {
	SecretKey string        `env:"SECRET_KEY"`
	TokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
}

// LoadConfigFromEnv reads token configuration. SECRET_KEY is required.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports whether the configuration can sign and verify tokens.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("SECRET_KEY is not set in environment variables")
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	return nil
}
