package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/humanlog"
)

// CLI represents the complete command structure for the jsonsink binary
type CLI struct {
	Config  string `short:"c" help:"Path to config file (defaults to ./jsonsink.yaml when present)" type:"path"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Write WriteCmd `cmd:"" help:"Write newline-delimited JSON records into a schema.table"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("jsonsink"),
		kong.Description("Batched JSON document sink for PostgreSQL, MySQL and SQLite."),
		kong.UsageOnError(),
	)

	logger := initLogging(cli.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := kctx.Run(&runEnv{ctx: ctx, logger: logger, configPath: cli.Config})
	if err != nil {
		logger.Error("Command failed", "error", err)
		stop()
		os.Exit(1)
	}
}

// runEnv 传给子命令 Run 的运行环境
type runEnv struct {
	ctx        context.Context
	logger     *slog.Logger
	configPath string
}

func initLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	// Create a human-readable handler for logging
	handler := humanlog.NewHandler(os.Stderr, &humanlog.Options{
		Level: level,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
