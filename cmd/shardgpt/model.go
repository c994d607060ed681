package main

import (
	"fmt"

	"github.com/samcharles93/shardgpt/internal/checkpoint"
	"github.com/samcharles93/shardgpt/internal/generate"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/samcharles93/shardgpt/internal/toy"
)

// loadModel restores the model saved in checkpoint directory dir.
func loadModel(dir string) (*toy.LM, checkpoint.Meta, error) {
	m := new(toy.LM)
	meta, err := checkpoint.LoadDir(dir, m)
	if err != nil {
		return nil, checkpoint.Meta{}, err
	}
	if m.Vocab() != tokenizer.ByteVocab {
		return nil, checkpoint.Meta{}, fmt.Errorf("checkpoint %s has vocab %d, tokenizer has %d", dir, m.Vocab(), tokenizer.ByteVocab)
	}
	return m, meta, nil
}

// cloneFactory hands each sample its own copy of m; the model keeps scratch
// buffers that must not be shared between goroutines.
func cloneFactory(m *toy.LM) generate.Factory {
	return func() (generate.Model, error) {
		return m.Clone(), nil
	}
}

// loadFactory adapts loadModel to api.LoadFunc.
func loadFactory(dir string) (generate.Factory, checkpoint.Meta, error) {
	m, meta, err := loadModel(dir)
	if err != nil {
		return nil, checkpoint.Meta{}, err
	}
	return cloneFactory(m), meta, nil
}
