package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.SettingsAttempts != 3 || cfg.SettingsDelay != 2*time.Second {
		t.Errorf("settings gate = %d / %s", cfg.SettingsAttempts, cfg.SettingsDelay)
	}
	if cfg.ThrottleCeiling != 5 || cfg.ThrottleInterval != 15*time.Second {
		t.Errorf("throttle = %d / %s", cfg.ThrottleCeiling, cfg.ThrottleInterval)
	}
	opts := cfg.PhaseOptions()
	if opts.Backoff.Base != 3*time.Second || opts.Backoff.Max != 30*time.Second {
		t.Errorf("backoff = %+v", opts.Backoff)
	}
}

func TestLoadFrom_Environment(t *testing.T) {
	t.Setenv("AUTOBOOM_SQLITE_PATH", "/tmp/custom.db")
	t.Setenv("AUTOBOOM_SETTINGS_DELAY", "500ms")
	t.Setenv("AUTOBOOM_WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("AUTOBOOM_NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("AUTOBOOM_S3_BUCKET", "media-archive")

	cfg, err := LoadFrom(viper.New())
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.SQLitePath != "/tmp/custom.db" {
		t.Errorf("sqlite path = %s", cfg.SQLitePath)
	}
	if cfg.SettingsDelay != 500*time.Millisecond {
		t.Errorf("settings delay = %s", cfg.SettingsDelay)
	}
	if cfg.WebhookURL != "https://hooks.example.com/x" {
		t.Errorf("webhook url = %s", cfg.WebhookURL)
	}
	if cfg.NATSURL != "nats://127.0.0.1:4222" || cfg.S3Bucket != "media-archive" {
		t.Errorf("nats url = %s, s3 bucket = %s", cfg.NATSURL, cfg.S3Bucket)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFrom(viper.New())
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty sqlite path", func(c *Config) { c.SQLitePath = "" }},
		{"empty gateway", func(c *Config) { c.GatewayURL = "" }},
		{"zero download size", func(c *Config) { c.MaxDownloadSize = 0 }},
		{"zero settings attempts", func(c *Config) { c.SettingsAttempts = 0 }},
		{"shrinking backoff", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"unknown log output", func(c *Config) { c.LogOutput = "syslog" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
