package logits

import (
	"cmp"
	"math"
	"slices"
)

// FilterValue is the default sentinel for suppressed entries. Softmax maps it
// to exactly zero probability.
var FilterValue = float32(math.Inf(-1))

// Filter truncates a single score vector in place and returns it.
//
// With topK > 0 every entry strictly below the k-th largest score is set to
// minScore; entries tied with the k-th largest are kept, so more than topK
// entries can survive. With 0 < topP < 1 the survivors are ranked by score and
// the smallest prefix whose softmax mass exceeds topP is kept; the top entry
// is always kept. Top-k runs first.
func Filter(scores []float32, topK int, topP float64, minScore float32) []float32 {
	var f filter
	return f.apply(scores, topK, topP, minScore)
}

// filter owns the scratch buffers reused across steps by a Sampler.
type filter struct {
	topVal []float32
	order  []int
	prob   []float64
}

func (f *filter) apply(scores []float32, topK int, topP float64, minScore float32) []float32 {
	if len(scores) == 0 {
		return scores
	}
	if k := min(topK, len(scores)); k > 0 && k < len(scores) {
		kth := f.kthLargest(scores, k)
		for i, v := range scores {
			if v < kth {
				scores[i] = minScore
			}
		}
	}
	if topP > 0 && topP < 1 {
		f.nucleus(scores, topP, minScore)
	}
	return scores
}

// kthLargest returns the k-th largest value (1-based). Small k uses an
// insertion list of the k best values; larger k sorts a copy.
func (f *filter) kthLargest(scores []float32, k int) float32 {
	if k > 64 {
		f.topVal = append(f.topVal[:0], scores...)
		slices.SortFunc(f.topVal, func(a, b float32) int { return cmp.Compare(b, a) })
		return f.topVal[k-1]
	}
	if cap(f.topVal) < k+1 {
		f.topVal = make([]float32, 0, k+1)
	}
	top := f.topVal[:0]
	for _, v := range scores {
		pos := len(top)
		for pos > 0 && top[pos-1] < v {
			pos--
		}
		if pos >= k {
			continue
		}
		top = append(top, 0)
		copy(top[pos+1:], top[pos:])
		top[pos] = v
		if len(top) > k {
			top = top[:k]
		}
	}
	f.topVal = top
	return top[k-1]
}

func (f *filter) nucleus(scores []float32, topP float64, minScore float32) {
	n := len(scores)
	if cap(f.order) < n {
		f.order = make([]int, n)
	}
	order := f.order[:n]
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(scores[b], scores[a]) })

	maxv := float64(scores[order[0]])
	if math.IsInf(maxv, -1) || math.IsNaN(maxv) {
		return
	}
	if cap(f.prob) < n {
		f.prob = make([]float64, n)
	}
	prob := f.prob[:n]
	var sum float64
	for r, idx := range order {
		e := math.Exp(float64(scores[idx]) - maxv)
		prob[r] = e
		sum += e
	}

	// Rank r survives while the mass of ranks [0, r) is still <= topP.
	var cum float64
	for r, idx := range order {
		if r > 0 && cum > topP {
			scores[idx] = minScore
		}
		cum += prob[r] / sum
	}
}
