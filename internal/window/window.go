// Package window slices a token shard into fixed-length training windows.
package window

import (
	"fmt"
	"iter"

	"github.com/samcharles93/shardgpt/internal/corpus"
)

// Window addresses n_ctx contiguous tokens of one shard.
type Window struct {
	Shard int
	Start int
	Len   int
}

// End is the exclusive end offset of the window.
func (w Window) End() int {
	return w.Start + w.Len
}

// Tokens returns the window's slice of the shard. The result aliases the
// shard's backing array and must not be modified.
func (w Window) Tokens(s corpus.Shard) []int {
	return s.Tokens[w.Start:w.End():w.End()]
}

// Validate reports whether (nCtx, stride, phase) satisfy the preconditions of
// ComputeWindows.
func Validate(nCtx, stride, phase int) error {
	switch {
	case nCtx <= 0:
		return fmt.Errorf("window: n_ctx must be > 0, got %d", nCtx)
	case stride <= 0:
		return fmt.Errorf("window: stride must be > 0, got %d", stride)
	case phase < 0 || phase >= stride:
		return fmt.Errorf("window: phase %d outside [0, %d)", phase, stride)
	}
	return nil
}

// ComputeWindows yields windows of length nCtx starting at phase and every
// stride tokens after it, stopping before the first window that would run
// past the end of the shard. Consecutive windows overlap when stride < nCtx.
// The sequence is lazy and can be ranged over any number of times.
//
// Callers must respect Validate; invalid arguments yield no windows.
func ComputeWindows(s corpus.Shard, nCtx, stride, phase int) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		if Validate(nCtx, stride, phase) != nil {
			return
		}
		n := s.Len()
		for off := phase; off+nCtx <= n; off += stride {
			if !yield(Window{Shard: s.Index, Start: off, Len: nCtx}) {
				return
			}
		}
	}
}

// Collect materializes ComputeWindows into a slice.
func Collect(s corpus.Shard, nCtx, stride, phase int) []Window {
	out := make([]Window, 0, Count(s.Len(), nCtx, stride, phase))
	for w := range ComputeWindows(s, nCtx, stride, phase) {
		out = append(out, w)
	}
	return out
}

// Count is the number of windows ComputeWindows yields for a shard of
// shardLen tokens.
func Count(shardLen, nCtx, stride, phase int) int {
	if Validate(nCtx, stride, phase) != nil {
		return 0
	}
	span := shardLen - nCtx - phase
	if span < 0 {
		return 0
	}
	return span/stride + 1
}
