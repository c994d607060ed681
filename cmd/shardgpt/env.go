package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const (
	envShardDir  = "SHARDGPT_SHARD_DIR"
	envOutputDir = "SHARDGPT_OUTPUT_DIR"
	envModelDir  = "SHARDGPT_MODEL_DIR"
)

// dotenvDepth is how many parent directories are searched for a .env file.
const dotenvDepth = 5

// loadDotEnv loads the nearest .env found in dir or one of its parents.
// Variables already present in the environment are left alone. It returns
// the path it loaded, or "" when none was found.
func loadDotEnv(dir string) (string, error) {
	for i := 0; i <= dotenvDepth; i++ {
		path := filepath.Join(dir, ".env")
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, godotenv.Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

// resolveDir picks the first non-empty of the flag value, the environment
// variable and the config file value, falling back to def.
func resolveDir(flagVal, envKey, cfgVal, def string) string {
	if v := strings.TrimSpace(flagVal); v != "" {
		return filepath.Clean(v)
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return filepath.Clean(v)
	}
	if v := strings.TrimSpace(cfgVal); v != "" {
		return filepath.Clean(v)
	}
	return def
}
