package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/samcharles93/shardgpt/internal/api"
	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/metrics"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/samcharles93/shardgpt/internal/webui"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		outputDir   string
		modelRef    string
		noUI        bool
		maxSamples  int
		defaults    = config.DefaultGenerate()
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the generation API",
		Flags: append(samplingFlags(&defaults),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.StringFlag{
				Name:        "output-dir",
				Usage:       "checkpoint store (env " + envOutputDir + ")",
				Destination: &outputDir,
			},
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "default checkpoint tag or directory (env " + envModelDir + "; default latest)",
				Destination: &modelRef,
			},
			&cli.IntFlag{
				Name:        "max-samples",
				Usage:       "largest nsamples a request may ask for",
				Value:       api.DefaultMaxSamples,
				Destination: &maxSamples,
			},
			&cli.BoolFlag{
				Name:        "no-ui",
				Usage:       "do not serve the sampling playground at /",
				Destination: &noUI,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			fileCfg := configFrom(ctx)
			applyServeConfig(cmd, fileCfg, &addr, &defaults)
			if modelRef == "" {
				modelRef = os.Getenv(envModelDir)
			}
			outDir := resolveDir(outputDir, envOutputDir, fileCfg.OutputDir, defaultOutputDir)

			store, err := checkpoint.Open(outDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open checkpoints: %v", err), 1)
			}
			defer func() { _ = store.Close() }()

			provider := api.NewCheckpointProvider(api.CheckpointProviderConfig{
				Store:   store,
				Default: modelRef,
				Load:    loadFactory,
			})
			if maxSamples > 0 && defaults.NSamples > maxSamples {
				return cli.Exit(fmt.Sprintf("error: --nsamples %d exceeds --max-samples %d", defaults.NSamples, maxSamples), 1)
			}
			server := api.NewServer(api.ServerConfig{
				Models:     provider,
				Tokenizer:  tokenizer.Bytes{},
				Defaults:   defaults,
				MaxSamples: maxSamples,
				Metrics:    metrics.New(),
				Logger:     log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			if !noUI {
				ui := webui.Handler()
				e.GET("/*", func(c *echo.Context) error {
					ui.ServeHTTP(c.Response(), c.Request())
					return nil
				})
			}
			log.Info("starting server", "address", addr, "checkpoints", outDir)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
