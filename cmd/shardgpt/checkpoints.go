package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/urfave/cli/v3"
)

func checkpointsCmd() *cli.Command {
	var (
		outputDir string
		limit     int
	)

	return &cli.Command{
		Name:  "checkpoints",
		Usage: "List saved checkpoints, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output-dir",
				Usage:       "checkpoint store (env " + envOutputDir + ")",
				Destination: &outputDir,
			},
			&cli.IntFlag{
				Name:        "limit",
				Usage:       "maximum number of rows (0 = all)",
				Value:       20,
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			outDir := resolveDir(outputDir, envOutputDir, configFrom(ctx).OutputDir, defaultOutputDir)
			if _, err := os.Stat(outDir); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			store, err := checkpoint.Open(outDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = store.Close() }()

			entries, err := store.Catalog().List(ctx, limit)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(cmd.Root().Writer, "No checkpoints found.")
				return nil
			}
			return printEntries(cmd.Root().Writer, outDir, entries)
		},
	}
}

func printEntries(w io.Writer, dir string, entries []checkpoint.Entry) error {
	if _, err := fmt.Fprintf(w, "Checkpoints in %s:\n\n", dir); err != nil {
		return err
	}
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "  %-12s epoch %-4d step %-8d loss %-8.4f run %s  %s\n",
			e.Tag, e.Epoch, e.Step, e.Loss, shortID(e.RunID), e.CreatedAt.Local().Format(time.DateTime))
	}
	_, err := fmt.Fprintf(w, "\n%d checkpoint(s) found\n", len(entries))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
