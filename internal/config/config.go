// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ntdev/gatekeeper/gate"
)

// Config is the full environment-driven configuration surface.
type Config struct {
	// BotToken authenticates against the messaging platform.
	BotToken string `env:"BOT_TOKEN,required"`
	// AdminID is the single human reviewer receiving escalations.
	AdminID int64 `env:"ADMIN_ID,required"`
	// VerifyChatID is the initial target chat; a persisted migration
	// override takes precedence once one exists.
	VerifyChatID int64 `env:"VERIFY_CHAT_ID"`

	// DataDir holds the bbolt database file.
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
	// StatusAddr is the listen address for the health/status endpoint.
	StatusAddr string `env:"STATUS_ADDR" envDefault:":8080"`

	RateLimitSeconds  int `env:"RATE_LIMIT_SECONDS" envDefault:"30"`
	MaxAttempts       int `env:"MAX_ATTEMPTS" envDefault:"2"`
	SessionTTLSeconds int `env:"SESSION_TTL_SECONDS" envDefault:"300"`
	InviteTTLSeconds  int `env:"INVITE_TTL_SECONDS" envDefault:"120"`
	SweepSeconds      int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"300"`
	HeartbeatSeconds  int `env:"HEARTBEAT_INTERVAL_SECONDS" envDefault:"300"`
}

// Load parses configuration from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}
	return cfg, nil
}

// Gate converts the environment configuration into the admission core's
// tunables.
func (c Config) Gate() gate.Config {
	return gate.Config{
		AdminID:           c.AdminID,
		VerifyChatID:      c.VerifyChatID,
		Cooldown:          time.Duration(c.RateLimitSeconds) * time.Second,
		MaxAttempts:       c.MaxAttempts,
		SessionTTL:        time.Duration(c.SessionTTLSeconds) * time.Second,
		InviteTTL:         time.Duration(c.InviteTTLSeconds) * time.Second,
		SweepInterval:     time.Duration(c.SweepSeconds) * time.Second,
		HeartbeatInterval: time.Duration(c.HeartbeatSeconds) * time.Second,
	}
}
