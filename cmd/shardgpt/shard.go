package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/samcharles93/shardgpt/internal/corpus"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/urfave/cli/v3"
)

func shardCmd() *cli.Command {
	var (
		input     string
		shardDir  string
		numPieces int
	)

	return &cli.Command{
		Name:      "shard",
		Usage:     "Tokenize a raw text file into numbered shard files",
		ArgsUsage: "[input]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "raw text file, one record per line",
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "shard-dir",
				Usage:       "output directory (env " + envShardDir + ")",
				Destination: &shardDir,
			},
			&cli.IntFlag{
				Name:        "num-pieces",
				Usage:       "number of shards to write",
				Value:       100,
				Destination: &numPieces,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFrom(ctx)
			setInt(cmd, "num-pieces", cfg.NumPieces, &numPieces)

			if input == "" {
				input = strings.TrimSpace(cmd.Args().First())
			}
			if input == "" {
				return cli.Exit("error: --input is required", 1)
			}
			dir := resolveDir(shardDir, envShardDir, cfg.ShardDir, "")
			if dir == "" {
				return cli.Exit("error: --shard-dir is required unless "+envShardDir+" is set", 1)
			}

			log.Info("reading lines", "path", input)
			data, err := os.ReadFile(input)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
			}

			counts, err := corpus.BuildShards(string(data), tokenizer.Bytes{}, dir, numPieces)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			total := 0
			for _, n := range counts {
				total += n
			}
			log.Info("finish", "dir", dir, "pieces", len(counts), "tokens", total)
			return nil
		},
	}
}
