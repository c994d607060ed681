package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/generate"
)

// Model is a loaded checkpoint. Factory hands out independent instances so
// concurrent requests never share model state.
type Model struct {
	Name    string
	Meta    checkpoint.Meta
	Factory generate.Factory
}

type ModelProvider interface {
	Acquire(ctx context.Context, name string) (Model, error)
}

// LoadFunc reads the checkpoint directory dir.
type LoadFunc func(dir string) (generate.Factory, checkpoint.Meta, error)

type CheckpointProviderConfig struct {
	Store *checkpoint.Store
	// Default is used when a request names no model. Empty means the most
	// recent save recorded in the store's catalog.
	Default string
	Load    LoadFunc
}

// CheckpointProvider loads each checkpoint directory once and keeps it.
type CheckpointProvider struct {
	cfg   CheckpointProviderConfig
	mu    sync.Mutex
	cache map[string]Model
}

func NewCheckpointProvider(cfg CheckpointProviderConfig) *CheckpointProvider {
	return &CheckpointProvider{
		cfg:   cfg,
		cache: make(map[string]Model),
	}
}

// Acquire returns the checkpoint named by a request. name must be a tag or
// a directory inside the store; empty selects the configured default.
func (p *CheckpointProvider) Acquire(ctx context.Context, name string) (Model, error) {
	if p.cfg.Store == nil || p.cfg.Load == nil {
		return Model{}, errors.New("api: checkpoint provider not configured")
	}
	dir, err := p.resolve(ctx, name)
	if err != nil {
		return Model{}, err
	}
	// A retrained tag replaces the directory contents; the manifest checksum
	// tells the cached copy apart from the new one.
	current, err := checkpoint.ReadMeta(dir)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		return Model{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.cache[dir]; ok && m.Meta.SHA256 == current.SHA256 {
		return m, nil
	}
	factory, meta, err := p.cfg.Load(dir)
	if err != nil {
		return Model{}, fmt.Errorf("api: load %s: %w", dir, err)
	}
	m := Model{Name: meta.Tag, Meta: meta, Factory: factory}
	if m.Name == "" {
		m.Name = name
	}
	p.cache[dir] = m
	return m, nil
}

func (p *CheckpointProvider) resolve(ctx context.Context, name string) (string, error) {
	var (
		dir string
		err error
	)
	switch {
	case name != "":
		dir, err = p.cfg.Store.ResolveInside(name)
	case p.cfg.Default != "":
		// The default comes from the operator and may point anywhere.
		name = p.cfg.Default
		dir, err = p.cfg.Store.Resolve(name)
	default:
		cat := p.cfg.Store.Catalog()
		if cat == nil {
			return "", fmt.Errorf("%w: no model requested and no catalog", ErrModelNotFound)
		}
		latest, lerr := cat.Latest(ctx, "")
		if lerr != nil {
			if errors.Is(lerr, checkpoint.ErrNotFound) {
				return "", fmt.Errorf("%w: no checkpoints recorded", ErrModelNotFound)
			}
			return "", lerr
		}
		name = latest.Path
		dir, err = p.cfg.Store.Resolve(name)
	}
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) || errors.Is(err, checkpoint.ErrOutsideStore) {
			return "", fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		return "", err
	}
	return dir, nil
}
