package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/corpus"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/metrics"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/samcharles93/shardgpt/internal/toy"
	"github.com/samcharles93/shardgpt/internal/train"
	"github.com/urfave/cli/v3"
)

const defaultOutputDir = "model"

func trainCmd() *cli.Command {
	var (
		cfg         = config.DefaultTrain()
		hidden      = 64
		pretrained  string
		metricsAddr string
	)

	return &cli.Command{
		Name:  "train",
		Usage: "Train the model on a sharded corpus",
		Flags: append(trainFlags(&cfg, &hidden),
			&cli.StringFlag{
				Name:        "pretrained",
				Usage:       "checkpoint directory or tag to resume from",
				Destination: &pretrained,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve Prometheus metrics on this address while training",
				Destination: &metricsAddr,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			fileCfg := configFrom(ctx)
			applyTrainConfig(cmd, fileCfg, &cfg, &hidden)
			cfg.ShardDir = resolveDir(cfg.ShardDir, envShardDir, fileCfg.ShardDir, "")
			cfg.OutputDir = resolveDir(cfg.OutputDir, envOutputDir, fileCfg.OutputDir, defaultOutputDir)

			if cfg.ShardDir == "" {
				return cli.Exit("error: --shard-dir is required unless "+envShardDir+" is set", 1)
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			store, err := corpus.Load(cfg.ShardDir, cfg.NumPieces)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("loaded corpus", "dir", cfg.ShardDir, "shards", store.Len(), "tokens", store.TotalTokens())

			ckpt, err := checkpoint.Open(cfg.OutputDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = ckpt.Close() }()

			model, err := buildModel(log, ckpt, cfg, hidden, pretrained)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			reg := metrics.New()
			if metricsAddr != "" {
				go serveMetrics(ctx, log, reg, metricsAddr)
			}

			driver, err := train.NewDriver(cfg, model, ckpt,
				train.WithLogger(log),
				train.WithMetrics(reg.TrainingMetrics()),
			)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("training config",
				"run_id", driver.RunID(),
				"device", cfg.Device,
				"n_ctx", cfg.NCtx,
				"stride", cfg.Stride,
				"batch_size", cfg.BatchSize,
				"gradient_accumulation", cfg.GradientAccumulation,
				"epochs", cfg.Epochs,
			)

			start := time.Now()
			res, err := driver.Run(ctx, store)
			if err != nil {
				var ckErr *train.CheckpointError
				if errors.As(err, &ckErr) {
					return cli.Exit(fmt.Sprintf("error: %v (training state of run %s was not saved)", err, res.RunID), 1)
				}
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("run complete",
				"run_id", res.RunID,
				"updates", res.Updates,
				"batches", res.Batches,
				"discarded", res.Discarded,
				"loss", res.Loss,
				"checkpoints", len(res.Checkpoints),
				"elapsed", time.Since(start),
			)
			return nil
		},
	}
}

// buildModel resumes from pretrained when set, otherwise initializes a fresh
// model sized for the byte tokenizer.
func buildModel(log logger.Logger, ckpt *checkpoint.Store, cfg config.Train, hidden int, pretrained string) (*toy.LM, error) {
	if pretrained != "" {
		dir, err := ckpt.Resolve(pretrained)
		if err != nil {
			return nil, err
		}
		m, meta, err := loadModel(dir)
		if err != nil {
			return nil, err
		}
		if m.ContextLength() != cfg.NCtx {
			return nil, fmt.Errorf("pretrained model was trained with n_ctx %d, got %d", m.ContextLength(), cfg.NCtx)
		}
		if err := m.SetMaxGradNorm(cfg.MaxGradNorm); err != nil {
			return nil, err
		}
		log.Info("resuming from checkpoint", "dir", dir, "tag", meta.Tag, "run_id", meta.RunID, "step", meta.Step)
		return m, nil
	}

	seed := cfg.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}
	return toy.New(toy.Config{
		Vocab:       tokenizer.ByteVocab,
		Hidden:      hidden,
		NCtx:        cfg.NCtx,
		MaxGradNorm: cfg.MaxGradNorm,
	}, seed)
}

func serveMetrics(ctx context.Context, log logger.Logger, reg *metrics.Registry, addr string) {
	e := echo.New()
	h := reg.Handler()
	e.GET("/metrics", func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	})
	log.Info("serving metrics", "address", addr)
	sc := echo.StartConfig{
		Address: addr,
		BeforeServeFunc: func(srv *http.Server) error {
			srv.ReadHeaderTimeout = 10 * time.Second
			return nil
		},
	}
	if err := sc.Start(ctx, e); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("metrics server stopped", "error", err)
	}
}
