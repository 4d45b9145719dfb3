package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ski11z/autoboom/internal/config"
	"github.com/ski11z/autoboom/pkg/broadcast"
	"github.com/ski11z/autoboom/pkg/db"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/ski11z/autoboom/pkg/gateway"
	"github.com/ski11z/autoboom/pkg/logging"
	"github.com/ski11z/autoboom/pkg/notify"
	"github.com/ski11z/autoboom/pkg/orchestrator"
	"github.com/ski11z/autoboom/pkg/security"
	"github.com/ski11z/autoboom/pkg/storage"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	// Create database directory
	if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
		return errors.Wrap(err, "failed to create database directory")
	}

	// Create FSM database directory (only needed for batch command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	// Create work directory (only needed when running projects)
	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// loadConfig loads and validates configuration and installs the logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	if _, err := logging.Init(cfg.Logging()); err != nil {
		return nil, errors.Wrap(err, "logger init failed")
	}
	return cfg, nil
}

// openRepository opens the SQLite store
func openRepository(cfg *config.Config) (*db.Repository, error) {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return nil, err
	}
	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return repo, nil
}

// runtime is everything a command needs to drive projects
type runtime struct {
	cfg     *config.Config
	repo    *db.Repository
	orch    *orchestrator.Orchestrator
	closers []func() error
}

// newRuntime wires the store, the gateway and the optional collaborators
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, cfg.WorkDir); err != nil {
		return nil, err
	}

	repo, err := openRepository(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, repo: repo}
	rt.closers = append(rt.closers, repo.Close)

	gw := gateway.NewWSGateway(cfg.GatewayURL, gateway.RealDialer{}, cfg.GatewayTimeout)
	rt.closers = append(rt.closers, gw.Close)

	opts := orchestrator.Options{
		Validator:        security.NewValidator(cfg.WorkDir, cfg.MaxDownloadSize, 0),
		SettingsAttempts: cfg.SettingsAttempts,
		SettingsDelay:    cfg.SettingsDelay,
		PausePoll:        cfg.PausePoll,
		Phase:            cfg.PhaseOptions(),
	}

	notifiers := notify.Multi{notify.Log{Logger: logging.Component("notify")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.WebhookURL))
		slog.Info("webhook_enabled", "url", cfg.WebhookURL)
	}
	opts.Notifier = notifiers

	if cfg.NATSURL != "" {
		pub, err := broadcast.Connect(cfg.NATSURL)
		if err != nil {
			rt.Close()
			return nil, errors.Wrap(err, "NATS connect failed")
		}
		opts.Publisher = pub
		rt.closers = append(rt.closers, pub.Close)
		slog.Info("nats_enabled", "url", cfg.NATSURL)
	}

	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region, cfg.S3Prefix)
		if err != nil {
			rt.Close()
			return nil, errors.Wrap(err, "S3 client failed")
		}
		opts.Archiver = s3Client
		slog.Info("s3_archive_enabled", "bucket", cfg.S3Bucket, "prefix", cfg.S3Prefix)
	}

	rt.orch = orchestrator.New(repo, gw, opts)
	return rt, nil
}

// Close releases resources in reverse order
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("close_failed", "error", err)
		}
	}
}
