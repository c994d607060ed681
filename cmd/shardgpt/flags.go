package main

import (
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/urfave/cli/v3"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default <user config dir>/shardgpt/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// samplingFlags binds the generation options shared by generate and serve.
func samplingFlags(g *config.Generate) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "length",
			Usage:       "tokens to generate per sample (-1 = half the model context)",
			Value:       g.Length,
			Destination: &g.Length,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp"},
			Usage:       "softmax temperature (> 0)",
			Value:       g.Temperature,
			Destination: &g.Temperature,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Aliases:     []string{"top_k"},
			Usage:       "keep the k highest scores (0 = off)",
			Value:       g.TopK,
			Destination: &g.TopK,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Aliases:     []string{"top_p"},
			Usage:       "nucleus cutoff in [0, 1] (0 = off)",
			Value:       g.TopP,
			Destination: &g.TopP,
		},
		&cli.IntFlag{
			Name:        "nsamples",
			Usage:       "samples to generate",
			Value:       g.NSamples,
			Destination: &g.NSamples,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "samples generated concurrently",
			Value:       g.Workers,
			Destination: &g.Workers,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling RNG seed (default -1 = random)",
			Value:       g.Seed,
			Destination: &g.Seed,
		},
	}
}

// trainFlags binds the training options. hidden sizes the toy model.
func trainFlags(t *config.Train, hidden *int) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "shard-dir",
			Usage:       "directory holding the tokenized shards (env " + envShardDir + ")",
			Destination: &t.ShardDir,
		},
		&cli.StringFlag{
			Name:        "output-dir",
			Aliases:     []string{"o"},
			Usage:       "checkpoint directory (env " + envOutputDir + ")",
			Destination: &t.OutputDir,
		},
		&cli.IntFlag{
			Name:        "num-pieces",
			Usage:       "number of shards",
			Value:       t.NumPieces,
			Destination: &t.NumPieces,
		},
		&cli.IntFlag{
			Name:        "n-ctx",
			Usage:       "window length in tokens",
			Value:       t.NCtx,
			Destination: &t.NCtx,
		},
		&cli.IntFlag{
			Name:        "stride",
			Usage:       "distance between window starts",
			Value:       t.Stride,
			Destination: &t.Stride,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "windows per batch",
			Value:       t.BatchSize,
			Destination: &t.BatchSize,
		},
		&cli.IntFlag{
			Name:        "gradient-accumulation",
			Usage:       "batches per optimizer update",
			Value:       t.GradientAccumulation,
			Destination: &t.GradientAccumulation,
		},
		&cli.IntFlag{
			Name:        "epochs",
			Value:       t.Epochs,
			Destination: &t.Epochs,
		},
		&cli.IntFlag{
			Name:        "log-step",
			Usage:       "report mean loss every n updates",
			Value:       t.LogStep,
			Destination: &t.LogStep,
		},
		&cli.Float64Flag{
			Name:        "lr",
			Usage:       "peak learning rate",
			Value:       t.LR,
			Destination: &t.LR,
		},
		&cli.IntFlag{
			Name:        "warmup-steps",
			Value:       t.WarmupSteps,
			Destination: &t.WarmupSteps,
		},
		&cli.Float64Flag{
			Name:        "max-grad-norm",
			Usage:       "clip the gradient norm (0 = off)",
			Value:       t.MaxGradNorm,
			Destination: &t.MaxGradNorm,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "device set handed to the model",
			Value:       t.Device,
			Destination: &t.Device,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "shuffle and init seed (default -1 = random)",
			Value:       t.Seed,
			Destination: &t.Seed,
		},
		&cli.IntFlag{
			Name:        "hidden",
			Usage:       "hidden size of the model",
			Value:       *hidden,
			Destination: hidden,
		},
	}
}
