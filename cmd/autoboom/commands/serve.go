package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ski11z/autoboom/pkg/api"
	"github.com/ski11z/autoboom/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP status and control surface",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen-addr", "127.0.0.1:8080", "Address to listen on")
	viper.BindPFlag("listen-addr", serveCmd.Flags().Lookup("listen-addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	app := api.New(rt.orch, rt.repo)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api_listening", "addr", cfg.ListenAddr)
		errCh <- app.Listen(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server failed")
	case <-ctx.Done():
	}

	slog.Info("api_shutting_down")
	stopCtx, cancel := context.WithTimeout(context.Background(), api.StopTimeout)
	defer cancel()
	if _, active := rt.orch.Active(); active {
		if err := rt.orch.Stop(stopCtx); err != nil {
			slog.Warn("stop_on_shutdown_failed", "error", err)
		}
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}
