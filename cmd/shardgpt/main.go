package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().Run(ctx, os.Args)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:   "shardgpt",
		Usage:  "Shard a corpus, train a language model on it and sample from checkpoints",
		Flags:  loggingFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			shardCmd(),
			trainCmd(),
			generateCmd(),
			serveCmd(),
			checkpointsCmd(),
			versionCmd(),
		},
	}
}

type configKey struct{}

// setup runs before any subcommand: it loads .env and the config file, then
// installs the logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var envPath string
	if wd, err := os.Getwd(); err == nil {
		envPath, err = loadDotEnv(wd)
		if err != nil {
			return ctx, cli.Exit(fmt.Sprintf("error: load %s: %v", envPath, err), 1)
		}
	}

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}

	log, err := logger.FromFlags(os.Stderr, logFormat, logLevel, debug)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	if envPath != "" {
		log.Debug("loaded environment file", "path", envPath)
	}

	ctx = logger.WithContext(ctx, log)
	return context.WithValue(ctx, configKey{}, cfg), nil
}

// configFrom returns the config file loaded by setup.
func configFrom(ctx context.Context) Config {
	cfg, _ := ctx.Value(configKey{}).(Config)
	return cfg
}
