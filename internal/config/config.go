package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/ski11z/autoboom/pkg/logging"
	"github.com/ski11z/autoboom/pkg/phase"
	"github.com/ski11z/autoboom/pkg/retry"
	"github.com/ski11z/autoboom/pkg/throttle"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Storage paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`
	WorkDir    string `mapstructure:"work-dir"`

	// Remote execution agent
	GatewayURL     string        `mapstructure:"gateway-url"`
	GatewayTimeout time.Duration `mapstructure:"gateway-timeout"`

	// Logging
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
	LogOutput string `mapstructure:"log-output"`
	LogFile   string `mapstructure:"log-file"`

	// Optional collaborators, disabled when empty
	NATSURL    string `mapstructure:"nats-url"`
	WebhookURL string `mapstructure:"webhook-url"`
	S3Bucket   string `mapstructure:"s3-bucket"`
	S3Region   string `mapstructure:"s3-region"`
	S3Prefix   string `mapstructure:"s3-prefix"`

	// Security limits
	MaxDownloadSize int64 `mapstructure:"max-download-size"`

	// Settings gate
	SettingsAttempts int           `mapstructure:"settings-attempts"`
	SettingsDelay    time.Duration `mapstructure:"settings-delay"`

	// Item retries
	BackoffBase       time.Duration `mapstructure:"backoff-base"`
	BackoffMultiplier float64       `mapstructure:"backoff-multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff-max"`

	// Video throttle
	ThrottleCeiling  int           `mapstructure:"throttle-ceiling"`
	ThrottleInterval time.Duration `mapstructure:"throttle-interval"`
	ThrottleMaxWait  time.Duration `mapstructure:"throttle-max-wait"`

	RenderMaxWait time.Duration `mapstructure:"render-max-wait"`
	PausePoll     time.Duration `mapstructure:"pause-poll"`

	// HTTP surface
	ListenAddr string `mapstructure:"listen-addr"`

	// Batch queue
	BatchMaxRetries int `mapstructure:"batch-max-retries"`
}

// SetDefaults registers the default of every key
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sqlite-path", ".artifacts/autoboom.db")
	v.SetDefault("fsm-db-path", ".artifacts/fsm")
	v.SetDefault("work-dir", ".artifacts/downloads")
	v.SetDefault("gateway-url", "ws://127.0.0.1:8765/agent")
	v.SetDefault("gateway-timeout", 2*time.Minute)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "text")
	v.SetDefault("log-output", "stdout")
	v.SetDefault("log-file", "logs/autoboom.log")
	v.SetDefault("nats-url", "")
	v.SetDefault("webhook-url", "")
	v.SetDefault("s3-bucket", "")
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("s3-prefix", "media")
	v.SetDefault("max-download-size", 2*1024*1024*1024)
	v.SetDefault("settings-attempts", 3)
	v.SetDefault("settings-delay", 2*time.Second)
	v.SetDefault("backoff-base", retry.DefaultBase)
	v.SetDefault("backoff-multiplier", retry.DefaultMultiplier)
	v.SetDefault("backoff-max", retry.DefaultMax)
	v.SetDefault("throttle-ceiling", throttle.DefaultCeiling)
	v.SetDefault("throttle-interval", throttle.DefaultInterval)
	v.SetDefault("throttle-max-wait", throttle.DefaultMaxWait)
	v.SetDefault("render-max-wait", phase.DefaultRenderMaxWait)
	v.SetDefault("pause-poll", time.Second)
	v.SetDefault("listen-addr", "127.0.0.1:8080")
	v.SetDefault("batch-max-retries", 5)
}

// Load reads configuration from .env, environment, config file, and defaults
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration through v
func LoadFrom(v *viper.Viper) (*Config, error) {
	// .env is optional; variables already set in the environment win
	_ = godotenv.Load()

	SetDefaults(v)

	// Environment variables (will be AUTOBOOM_SQLITE_PATH, etc.)
	v.SetEnvPrefix("AUTOBOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.autoboom")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway-url cannot be empty")
	}
	if c.MaxDownloadSize <= 0 {
		return fmt.Errorf("max-download-size must be positive")
	}
	if c.SettingsAttempts <= 0 {
		return fmt.Errorf("settings-attempts must be positive")
	}
	if c.BackoffBase <= 0 || c.BackoffMax <= 0 {
		return fmt.Errorf("backoff-base and backoff-max must be positive")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff-multiplier must be at least 1")
	}
	if c.ThrottleCeiling <= 0 {
		return fmt.Errorf("throttle-ceiling must be positive")
	}
	if c.BatchMaxRetries < 0 {
		return fmt.Errorf("batch-max-retries must be non-negative")
	}
	switch c.LogOutput {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("log-output must be stdout, file or both, got %q", c.LogOutput)
	}
	return nil
}

// Logging returns the logger configuration
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.LogLevel
	lc.Format = c.LogFormat
	lc.Output = c.LogOutput
	if c.LogFile != "" {
		lc.FilePath = c.LogFile
	}
	return lc
}

// PhaseOptions returns the timings of the phase modules
func (c *Config) PhaseOptions() phase.Options {
	return phase.Options{
		Backoff: retry.Config{
			Base:       c.BackoffBase,
			Multiplier: c.BackoffMultiplier,
			Max:        c.BackoffMax,
		},
		Throttle: throttle.Config{
			Ceiling:  c.ThrottleCeiling,
			Interval: c.ThrottleInterval,
			MaxWait:  c.ThrottleMaxWait,
		},
		RenderMaxWait: c.RenderMaxWait,
	}
}
