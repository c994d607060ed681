package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/generate"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/urfave/cli/v3"
)

const bannerWidth = 40

func generateCmd() *cli.Command {
	var (
		opts      = config.DefaultGenerate()
		modelRef  string
		outputDir string
		prefix    string
		loop      bool
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Sample text from a trained checkpoint",
		Flags: append(samplingFlags(&opts),
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "checkpoint directory or tag (env " + envModelDir + "; default latest)",
				Destination: &modelRef,
			},
			&cli.StringFlag{
				Name:        "output-dir",
				Usage:       "checkpoint store to look tags up in (env " + envOutputDir + ")",
				Destination: &outputDir,
			},
			&cli.StringFlag{
				Name:        "prefix",
				Usage:       "text the samples start from",
				Value:       "\n",
				Destination: &prefix,
			},
			&cli.BoolFlag{
				Name:        "loop",
				Usage:       "keep generating batches of samples until interrupted",
				Destination: &loop,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			fileCfg := configFrom(ctx)
			applyGenerateConfig(cmd, fileCfg, &opts)
			if modelRef == "" {
				modelRef = os.Getenv(envModelDir)
			}
			outDir := resolveDir(outputDir, envOutputDir, fileCfg.OutputDir, defaultOutputDir)

			dir, err := resolveCheckpoint(ctx, modelRef, outDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve model: %v", err), 1)
			}
			model, meta, err := loadModel(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			if err := opts.Validate(model.ContextLength()); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			length, err := config.ResolveLength(opts.Length, model.ContextLength())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			tok := tokenizer.Bytes{}
			seed, err := tok.Encode(prefix)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: encode prefix: %v", err), 1)
			}
			baseSeed := opts.Seed
			if baseSeed < 0 {
				baseSeed = time.Now().UnixNano()
			}
			log.Info("loaded model", "dir", dir, "tag", meta.Tag, "n_ctx", model.ContextLength(), "length", length, "seed", baseSeed)

			for {
				start := time.Now()
				seqs, err := generate.Samples(ctx, generate.SamplesConfig{
					Factory:  cloneFactory(model),
					Seed:     seed,
					N:        opts.NSamples,
					Workers:  opts.Workers,
					BaseSeed: baseSeed,
					Options: generate.Options{
						TargetLength: length,
						Temperature:  opts.Temperature,
						TopK:         opts.TopK,
						TopP:         opts.TopP,
					},
				})
				if err != nil {
					if loop && errors.Is(err, context.Canceled) {
						return nil
					}
					return cli.Exit(fmt.Sprintf("error: generate: %v", err), 1)
				}
				if err := printSamples(cmd.Root().Writer, tok, seqs); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				log.Debug("generated samples", "n", len(seqs), "elapsed", time.Since(start))
				if !loop {
					return nil
				}
				baseSeed += int64(opts.NSamples)
			}
		},
	}
}

// resolveCheckpoint finds the checkpoint directory for ref. ref may be a
// checkpoint directory or a tag in the store at outDir; empty picks the most
// recent save in that store's catalog.
func resolveCheckpoint(ctx context.Context, ref, outDir string) (string, error) {
	if ref != "" {
		if _, err := checkpoint.ReadMeta(ref); err == nil {
			return ref, nil
		}
	}
	store, err := checkpoint.Open(outDir)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()
	if ref != "" {
		return store.Resolve(ref)
	}
	latest, err := store.Catalog().Latest(ctx, "")
	if err != nil {
		return "", fmt.Errorf("no checkpoint in %s: %w", outDir, err)
	}
	return latest.Path, nil
}

// printSamples writes every sequence with a numbered banner, followed by a
// closing rule.
func printSamples(w io.Writer, tok tokenizer.Tokenizer, seqs [][]int) error {
	rule := strings.Repeat("=", bannerWidth)
	for i, seq := range seqs {
		text, err := tok.Decode(seq)
		if err != nil {
			return fmt.Errorf("decode sample %d: %w", i+1, err)
		}
		if _, err := fmt.Fprintf(w, "%s SAMPLE %d %s\n%s\n", rule, i+1, rule, strings.TrimSpace(text)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, strings.Repeat("=", 2*bannerWidth))
	return err
}
