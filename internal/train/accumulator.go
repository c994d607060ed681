package train

// Accumulator counts batches between optimizer updates and sums their
// scaled losses. It is reset after every update and at epoch end.
type Accumulator struct {
	every   int
	batches int
	loss    float64
}

func NewAccumulator(every int) *Accumulator {
	if every < 1 {
		every = 1
	}
	return &Accumulator{every: every}
}

// Scale is the factor applied to each batch's loss and gradients.
func (a *Accumulator) Scale() float64 { return 1 / float64(a.every) }

// Add records one batch's scaled loss and reports whether an update is due.
func (a *Accumulator) Add(scaledLoss float64) bool {
	a.batches++
	a.loss += scaledLoss
	return a.batches == a.every
}

// Loss is the sum of the scaled losses since the last reset.
func (a *Accumulator) Loss() float64 { return a.loss }

// Pending is the number of batches added since the last reset.
func (a *Accumulator) Pending() int { return a.batches }

func (a *Accumulator) Reset() {
	a.batches = 0
	a.loss = 0
}
