// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	ShareSecret string `env:"SHARE_LINK_SECRET,required"`

	SMTPAddr  string `env:"SMTP_ADDR"`
	EmailFrom string `env:"EMAIL_FROM" envDefault:"reports@nexdash.local"`

	Engine EngineConfig `envPrefix:"ENGINE_"`
}

// EngineConfig holds the calculation-engine connection settings
type EngineConfig struct {
	BaseURL      string        `env:"BASE_URL" envDefault:"https://engine.clearnexus.io"`
	ClientID     string        `env:"CLIENT_ID"`
	ClientSecret string        `env:"CLIENT_SECRET"`
	TokenURL     string        `env:"TOKEN_URL"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasEngineAuth returns true if client-credentials auth against the engine
// is fully configured
func (c *Config) HasEngineAuth() bool {
	return c.Engine.ClientID != "" && c.Engine.ClientSecret != "" && c.Engine.TokenURL != ""
}

// HasSMTP returns true if report email delivery is configured
func (c *Config) HasSMTP() bool {
	return c.SMTPAddr != ""
}

// Validate catches half-configured engine auth early
func (c *Config) Validate() error {
	if (c.Engine.ClientID != "" || c.Engine.ClientSecret != "" || c.Engine.TokenURL != "") && !c.HasEngineAuth() {
		return fmt.Errorf("engine auth requires ENGINE_CLIENT_ID, ENGINE_CLIENT_SECRET and ENGINE_TOKEN_URL together")
	}
	return nil
}
