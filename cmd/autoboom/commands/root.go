package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "autoboom",
	Short: "AutoBoom - image and video generation pipeline runner",
	Long:  `Drives projects of image and animation prompts through a remote generation UI, one project at a time, with resumable progress.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/autoboom.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "Batch FSM BoltDB directory")
	rootCmd.PersistentFlags().String("work-dir", ".artifacts/downloads", "Download directory")
	rootCmd.PersistentFlags().String("gateway-url", "ws://127.0.0.1:8765/agent", "Execution agent websocket URL")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Log output (stdout, file, both)")
	rootCmd.PersistentFlags().String("nats-url", "", "NATS URL for status push (disabled when empty)")
	rootCmd.PersistentFlags().String("webhook-url", "", "Webhook URL for notifications (disabled when empty)")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket for archiving downloads (disabled when empty)")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().Int64("max-download-size", 2*1024*1024*1024, "Max size of one downloaded file in bytes")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "gateway-url",
		"log-level", "log-format", "log-output",
		"nats-url", "webhook-url", "s3-bucket", "s3-region", "max-download-size",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}
