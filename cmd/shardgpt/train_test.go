package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/samcharles93/shardgpt/internal/toy"
)

func TestBuildModelResume(t *testing.T) {
	t.Parallel()

	store, err := checkpoint.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	saved, err := toy.New(toy.Config{Vocab: tokenizer.ByteVocab, Hidden: 4, NCtx: 64, MaxGradNorm: 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Save(context.Background(), checkpoint.FinalTag, checkpoint.Meta{RunID: "r", NCtx: 64}, saved); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultTrain()
	cfg.NCtx = 64
	cfg.MaxGradNorm = 0
	m, err := buildModel(logger.Discard(), store, cfg, 4, checkpoint.FinalTag)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Config().MaxGradNorm; got != 0 {
		t.Fatalf("resumed max_grad_norm = %g, want 0 from the run config", got)
	}
	if m.ContextLength() != 64 {
		t.Fatalf("context length %d, want 64", m.ContextLength())
	}

	for _, nCtx := range []int{16, 128} {
		cfg.NCtx = nCtx
		if _, err := buildModel(logger.Discard(), store, cfg, 4, checkpoint.FinalTag); err == nil || !strings.Contains(err.Error(), "n_ctx") {
			t.Fatalf("n_ctx %d: expected mismatch error, got %v", nCtx, err)
		}
	}
}

func TestTrainResumesFromPretrained(t *testing.T) {
	isolateEnv(t)
	work := t.TempDir()
	input := filepath.Join(work, "train.txt")
	if err := os.WriteFile(input, []byte(strings.Repeat("hello\n", 40)), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	shardDir := filepath.Join(work, "shards")
	outDir := filepath.Join(work, "model")
	if _, err := runApp(t, "shard", "--input", input, "--shard-dir", shardDir, "--num-pieces", "1"); err != nil {
		t.Fatalf("shard: %v", err)
	}
	train := func(extra ...string) error {
		args := []string{"train", "--shard-dir", shardDir, "--output-dir", outDir, "--num-pieces", "1",
			"--stride", "8", "--batch-size", "1", "--epochs", "1", "--hidden", "4", "--seed", "1"}
		_, err := runApp(t, append(args, extra...)...)
		return err
	}
	if err := train("--n-ctx", "8"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := checkpoint.ReadMeta(filepath.Join(outDir, checkpoint.FinalTag))
	if err != nil {
		t.Fatal(err)
	}

	if err := train("--n-ctx", "8", "--pretrained", checkpoint.FinalTag, "--max-grad-norm", "0.5"); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	dir := filepath.Join(outDir, checkpoint.FinalTag)
	second, err := checkpoint.ReadMeta(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second.RunID == first.RunID || second.NCtx != 8 || second.SHA256 == first.SHA256 {
		t.Fatalf("resumed checkpoint %+v, first %+v", second, first)
	}
	m, _, err := loadModel(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := m.Config().MaxGradNorm; got != 0.5 {
		t.Fatalf("saved max_grad_norm = %g, want 0.5", got)
	}

	if err := train("--n-ctx", "4", "--pretrained", checkpoint.FinalTag); err == nil || !strings.Contains(err.Error(), "n_ctx") {
		t.Fatalf("expected n_ctx mismatch, got %v", err)
	}
}
