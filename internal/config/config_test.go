package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_defaults(t *testing.T) {
	cfg, err := Load()
	assert.NoError(t, err, "expected defaults to load")
	assert.Equal(t, "localhost:8000", cfg.ServerAddr, "expected default address")
	assert.Equal(t, 256, cfg.HistoryLimit, "expected default history limit")
	assert.Equal(t, int64(8388608), cfg.MaxDocumentBytes, "expected default document limit")
	assert.Equal(t, 25*time.Second, cfg.HeartbeatInterval, "expected default heartbeat interval")
	assert.Equal(t, 90*time.Second, cfg.SweepInterval, "expected default sweep interval")
}

func TestLoad_fromEnvironment(t *testing.T) {
	t.Setenv("DROPROOM_ADDR", "0.0.0.0:9000")
	t.Setenv("DROPROOM_HISTORY_LIMIT", "500")
	t.Setenv("DROPROOM_HEARTBEAT_INTERVAL", "30s")
	t.Setenv("DROPROOM_SWEEP_INTERVAL", "2m")
	t.Setenv("DROPROOM_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	assert.NoError(t, err, "expected environment overrides to load")
	assert.Equal(t, "0.0.0.0:9000", cfg.ServerAddr, "expected address from environment")
	assert.Equal(t, 500, cfg.HistoryLimit, "expected history limit from environment")
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval, "expected heartbeat interval from environment")
	assert.Equal(t, 2*time.Minute, cfg.SweepInterval, "expected sweep interval from environment")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins, "expected origins from environment")
}

func TestLoad_invalidEnvironment(t *testing.T) {
	t.Setenv("DROPROOM_HISTORY_LIMIT", "5")

	_, err := Load()
	assert.Error(t, err, "expected out-of-range history limit to be rejected")
}

func Test_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			ServerAddr:        "localhost:8000",
			HistoryLimit:      256,
			MaxDocumentBytes:  8 << 20,
			HeartbeatInterval: 25 * time.Second,
			SweepInterval:     90 * time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty address", func(c *Config) { c.ServerAddr = "" }, true},
		{"history limit too low", func(c *Config) { c.HistoryLimit = 99 }, true},
		{"history limit too high", func(c *Config) { c.HistoryLimit = 1001 }, true},
		{"history limit at bounds", func(c *Config) { c.HistoryLimit = 100 }, false},
		{"zero document limit", func(c *Config) { c.MaxDocumentBytes = 0 }, true},
		{"document limit over ceiling", func(c *Config) { c.MaxDocumentBytes = 17 << 20 }, true},
		{"heartbeat too short", func(c *Config) { c.HeartbeatInterval = time.Second }, true},
		{"heartbeat too long", func(c *Config) { c.HeartbeatInterval = 3 * time.Minute }, true},
		{"sweep shorter than heartbeat", func(c *Config) { c.SweepInterval = 10 * time.Second }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err, "expected validation to fail")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func Test_StaleAfter(t *testing.T) {
	cfg := Config{HeartbeatInterval: 20 * time.Second}
	assert.Equal(t, time.Minute, cfg.StaleAfter(), "expected three heartbeat intervals")
}
