package main

import (
	"log/slog"
	"os"

	"github.com/ski11z/autoboom/cmd/autoboom/commands"
)

func main() {
	// Text logger until the configured one is installed
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
