package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	minHistoryLimit = 100
	maxHistoryLimit = 1000

	// maxDocumentCeiling bounds what an operator may configure as the
	// per-document size limit.
	maxDocumentCeiling = 16 << 20
)

type Config struct {
	ServerAddr        string        `envconfig:"ADDR" default:"localhost:8000"`
	AllowedOrigins    []string      `envconfig:"ALLOWED_ORIGINS"`
	HistoryLimit      int           `envconfig:"HISTORY_LIMIT" default:"256"`
	MaxDocumentBytes  int64         `envconfig:"MAX_DOCUMENT_BYTES" default:"8388608"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"25s"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"90s"`
}

// Load reads configuration from DROPROOM_* environment variables and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("droproom", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.HistoryLimit < minHistoryLimit || c.HistoryLimit > maxHistoryLimit {
		return fmt.Errorf("history limit must be between %d and %d, got %d", minHistoryLimit, maxHistoryLimit, c.HistoryLimit)
	}
	if c.MaxDocumentBytes <= 0 || c.MaxDocumentBytes > maxDocumentCeiling {
		return fmt.Errorf("max document bytes must be between 1 and %d, got %d", maxDocumentCeiling, c.MaxDocumentBytes)
	}
	if c.HeartbeatInterval < 5*time.Second || c.HeartbeatInterval > 2*time.Minute {
		return fmt.Errorf("heartbeat interval must be between 5s and 2m, got %s", c.HeartbeatInterval)
	}
	if c.SweepInterval < c.HeartbeatInterval {
		return fmt.Errorf("sweep interval %s cannot be shorter than heartbeat interval %s", c.SweepInterval, c.HeartbeatInterval)
	}

	return nil
}

// StaleAfter is the age past which a channel binding or member is
// considered dead: three missed heartbeats.
func (c *Config) StaleAfter() time.Duration {
	return 3 * c.HeartbeatInterval
}
