package corpus

import (
	"errors"
	"fmt"
)

var (
	// ErrCorpusLoad is matched by every shard loading failure.
	ErrCorpusLoad = errors.New("corpus load failed")
	ErrEmptyShard = errors.New("empty shard")
	ErrMalformed  = errors.New("malformed token id")
)

// LoadError reports a shard that could not be used for training. It is fatal:
// no training step may run once a LoadError has been returned.
type LoadError struct {
	Index int
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("corpus: shard %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrCorpusLoad, e.Err}
}
