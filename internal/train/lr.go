package train

// Schedule maps an optimizer update index (0-based) to a learning rate.
type Schedule interface {
	LR(step int) float64
}

// WarmupLinear ramps the rate from 0 to Base over Warmup updates, then
// decays it linearly to 0 at Total updates. When Total does not extend past
// the warmup the rate stays at Base after warmup.
type WarmupLinear struct {
	Base   float64
	Warmup int
	Total  int
}

func (s WarmupLinear) LR(step int) float64 {
	if step < s.Warmup {
		return s.Base * float64(step) / float64(s.Warmup)
	}
	if s.Total <= s.Warmup {
		return s.Base
	}
	f := float64(s.Total-step) / float64(s.Total-s.Warmup)
	if f < 0 {
		f = 0
	}
	return s.Base * f
}

// Constant always returns its value.
type Constant float64

func (c Constant) LR(int) float64 { return float64(c) }
