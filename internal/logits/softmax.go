package logits

import (
	"math"
)

// Source is the randomness consumed by Draw. *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// ApplyTemperature divides every score by temperature in place.
func ApplyTemperature(scores []float32, temperature float64) []float32 {
	if temperature == 1 {
		return scores
	}
	inv := float32(1 / temperature)
	for i := range scores {
		scores[i] *= inv
	}
	return scores
}

// Softmax writes the normalized exponentials of scores into dst (grown as
// needed) and returns it. Entries at -Inf get zero probability. If no entry
// carries mass the result is all zeros.
func Softmax(scores []float32, dst []float64) []float64 {
	if cap(dst) < len(scores) {
		dst = make([]float64, len(scores))
	}
	dst = dst[:len(scores)]
	if len(scores) == 0 {
		return dst
	}
	maxv := math.Inf(-1)
	for _, v := range scores {
		if float64(v) > maxv {
			maxv = float64(v)
		}
	}
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		clear(dst)
		return dst
	}
	var sum float64
	for i, v := range scores {
		e := math.Exp(float64(v) - maxv)
		dst[i] = e
		sum += e
	}
	if sum == 0 || math.IsNaN(sum) {
		clear(dst)
		return dst
	}
	inv := 1 / sum
	for i := range dst {
		dst[i] *= inv
	}
	return dst
}

// Draw picks an index from the categorical distribution probs using one
// uniform draw from rng. Zero-probability entries are never returned; if
// probs carries no mass Draw returns -1.
func Draw(probs []float64, rng Source) int {
	last := -1
	r := rng.Float64()
	var c float64
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		last = i
		c += p
		if r < c {
			return i
		}
	}
	return last
}

// Argmax returns the index of the largest score, the lowest index on ties.
// It panics on an empty slice.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
