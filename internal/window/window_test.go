package window

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/samcharles93/shardgpt/internal/corpus"
)

func shardOf(index, n int) corpus.Shard {
	toks := make([]int, n)
	for i := range toks {
		toks[i] = i
	}
	return corpus.Shard{Index: index, Tokens: toks}
}

func TestComputeWindowsBoundsAndStride(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 500; trial++ {
		n := rng.Intn(200)
		nCtx := 1 + rng.Intn(40)
		stride := 1 + rng.Intn(40)
		phase := rng.Intn(stride)
		s := shardOf(3, n)

		ws := Collect(s, nCtx, stride, phase)
		if len(ws) != Count(n, nCtx, stride, phase) {
			t.Fatalf("n=%d nCtx=%d stride=%d phase=%d: Count=%d, got %d windows",
				n, nCtx, stride, phase, Count(n, nCtx, stride, phase), len(ws))
		}
		for i, w := range ws {
			if w.Start < 0 || w.End() > n || w.Len != nCtx || w.Shard != 3 {
				t.Fatalf("window %+v out of bounds for shard of %d", w, n)
			}
			if i == 0 && w.Start != phase {
				t.Fatalf("first window starts at %d, want phase %d", w.Start, phase)
			}
			if i > 0 && w.Start-ws[i-1].Start != stride {
				t.Fatalf("windows %d and %d differ by %d, want %d", i-1, i, w.Start-ws[i-1].Start, stride)
			}
		}
		if len(ws) > 0 {
			if last := ws[len(ws)-1]; last.Start+stride+nCtx <= n {
				t.Fatalf("window at %d was dropped although it fits", last.Start+stride)
			}
		}
	}
}

func TestComputeWindowsExactLength(t *testing.T) {
	t.Parallel()

	s := shardOf(0, 8)
	if got := len(Collect(s, 8, 4, 0)); got != 1 {
		t.Fatalf("phase 0: expected one window, got %d", got)
	}
	if got := len(Collect(s, 8, 4, 1)); got != 0 {
		t.Fatalf("phase 1: expected no windows, got %d", got)
	}
	if got := len(Collect(shardOf(0, 7), 8, 4, 0)); got != 0 {
		t.Fatalf("short shard: expected no windows, got %d", got)
	}
}

func TestComputeWindowsIdempotent(t *testing.T) {
	t.Parallel()

	s := shardOf(1, 1000)
	seq := ComputeWindows(s, 64, 48, 17)
	var a, b []Window
	for w := range seq {
		a = append(a, w)
	}
	for w := range seq {
		b = append(b, w)
	}
	if !slices.Equal(a, b) {
		t.Fatal("ranging twice over the same sequence gave different windows")
	}
	if !slices.Equal(a, Collect(s, 64, 48, 17)) {
		t.Fatal("second computation differs from the first")
	}
}

func TestComputeWindowsEarlyStop(t *testing.T) {
	t.Parallel()

	n := 0
	for range ComputeWindows(shardOf(0, 100), 10, 1, 0) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("expected to stop after 3 windows, got %d", n)
	}
}

func TestWindowTokens(t *testing.T) {
	t.Parallel()

	s := shardOf(0, 20)
	w := Window{Shard: 0, Start: 5, Len: 4}
	got := w.Tokens(s)
	if !slices.Equal(got, []int{5, 6, 7, 8}) {
		t.Fatalf("unexpected tokens %v", got)
	}
	if cap(got) != 4 {
		t.Fatalf("window slice should be capacity-limited, cap=%d", cap(got))
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		nCtx, stride, phase int
		ok                  bool
	}{
		{4, 2, 0, true},
		{4, 2, 1, true},
		{0, 2, 0, false},
		{4, 0, 0, false},
		{4, 2, 2, false},
		{4, 2, -1, false},
	}
	for _, tc := range tests {
		err := Validate(tc.nCtx, tc.stride, tc.phase)
		if (err == nil) != tc.ok {
			t.Errorf("Validate(%d, %d, %d): err=%v, want ok=%v", tc.nCtx, tc.stride, tc.phase, err, tc.ok)
		}
		if !tc.ok && len(Collect(shardOf(0, 10), tc.nCtx, tc.stride, tc.phase)) != 0 {
			t.Errorf("invalid args (%d, %d, %d) produced windows", tc.nCtx, tc.stride, tc.phase)
		}
	}
}
