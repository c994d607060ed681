package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the shardgpt configuration file
// (~/.config/shardgpt/config.yaml). Numeric fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	ShardDir  string `yaml:"shard_dir"`
	OutputDir string `yaml:"output_dir"`
	Device    string `yaml:"device"`

	// Training
	NumPieces            *int     `yaml:"num_pieces"`
	NCtx                 *int     `yaml:"n_ctx"`
	Stride               *int     `yaml:"stride"`
	BatchSize            *int     `yaml:"batch_size"`
	GradientAccumulation *int     `yaml:"gradient_accumulation"`
	Epochs               *int     `yaml:"epochs"`
	LogStep              *int     `yaml:"log_step"`
	LR                   *float64 `yaml:"lr"`
	WarmupSteps          *int     `yaml:"warmup_steps"`
	MaxGradNorm          *float64 `yaml:"max_grad_norm"`
	Hidden               *int     `yaml:"hidden"`

	// Sampling defaults
	Length      *int     `yaml:"length"`
	Temperature *float64 `yaml:"temperature"`
	TopK        *int     `yaml:"top_k"`
	TopP        *float64 `yaml:"top_p"`
	NSamples    *int     `yaml:"nsamples"`
	Workers     *int     `yaml:"workers"`
	Seed        *int64   `yaml:"seed"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shardgpt", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing file yields a zero Config. A file that exists but
// does not parse is an error when it was named explicitly.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		if !explicit {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyTrainConfig applies config file defaults to the training options
// when the corresponding CLI flag was not explicitly set.
func applyTrainConfig(c *cli.Command, cfg Config, t *config.Train, hidden *int) {
	setInt(c, "num-pieces", cfg.NumPieces, &t.NumPieces)
	setInt(c, "n-ctx", cfg.NCtx, &t.NCtx)
	setInt(c, "stride", cfg.Stride, &t.Stride)
	setInt(c, "batch-size", cfg.BatchSize, &t.BatchSize)
	setInt(c, "gradient-accumulation", cfg.GradientAccumulation, &t.GradientAccumulation)
	setInt(c, "epochs", cfg.Epochs, &t.Epochs)
	setInt(c, "log-step", cfg.LogStep, &t.LogStep)
	setInt(c, "warmup-steps", cfg.WarmupSteps, &t.WarmupSteps)
	setInt(c, "hidden", cfg.Hidden, hidden)
	if cfg.LR != nil && !c.IsSet("lr") {
		t.LR = *cfg.LR
	}
	if cfg.MaxGradNorm != nil && !c.IsSet("max-grad-norm") {
		t.MaxGradNorm = *cfg.MaxGradNorm
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		t.Seed = *cfg.Seed
	}
	if cfg.Device != "" && !c.IsSet("device") {
		t.Device = cfg.Device
	}
}

// applyGenerateConfig applies config file defaults to the sampling options.
func applyGenerateConfig(c *cli.Command, cfg Config, g *config.Generate) {
	setInt(c, "length", cfg.Length, &g.Length)
	setInt(c, "top-k", cfg.TopK, &g.TopK)
	setInt(c, "nsamples", cfg.NSamples, &g.NSamples)
	setInt(c, "workers", cfg.Workers, &g.Workers)
	if cfg.Temperature != nil && !c.IsSet("temperature") && !c.IsSet("temp") {
		g.Temperature = *cfg.Temperature
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		g.TopP = *cfg.TopP
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		g.Seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, g *config.Generate) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	applyGenerateConfig(c, cfg, g)
}

func setInt(c *cli.Command, flag string, v *int, dst *int) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}
