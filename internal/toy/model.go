// Package toy is a small bigram language model used to exercise the training
// and generation engines end to end. It predicts the next token from the last
// token only: logits = Emb[tok] * W + Bias.
package toy

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Config sizes a model.
type Config struct {
	Vocab  int
	Hidden int
	// NCtx is the longest context the model reports it supports.
	NCtx int
	// MaxGradNorm clips the global gradient norm before each update. Zero
	// disables clipping.
	MaxGradNorm float64
}

func (c Config) validate() error {
	var errs []error
	if c.Vocab <= 0 {
		errs = append(errs, fmt.Errorf("toy: vocab must be > 0, got %d", c.Vocab))
	}
	if c.Hidden <= 0 {
		errs = append(errs, fmt.Errorf("toy: hidden must be > 0, got %d", c.Hidden))
	}
	if c.NCtx <= 0 {
		errs = append(errs, fmt.Errorf("toy: n_ctx must be > 0, got %d", c.NCtx))
	}
	if c.MaxGradNorm < 0 {
		errs = append(errs, fmt.Errorf("toy: max_grad_norm must be >= 0, got %g", c.MaxGradNorm))
	}
	return errors.Join(errs...)
}

// LM is not safe for concurrent use. Clone it for parallel generation.
type LM struct {
	cfg Config

	emb  *mat.Dense // [Vocab x Hidden]
	w    *mat.Dense // [Hidden x Vocab]
	bias []float64  // [Vocab]

	gEmb  *mat.Dense
	gW    *mat.Dense
	gBias []float64

	z  *mat.VecDense // scratch logits [Vocab]
	dh *mat.VecDense // scratch [Hidden]
}

// New returns a model with weights drawn from a seeded normal distribution.
func New(cfg Config, seed int64) (*LM, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := alloc(cfg)
	rng := rand.New(rand.NewSource(seed))
	std := 1 / math.Sqrt(float64(cfg.Hidden))
	fill := func(d *mat.Dense) {
		raw := d.RawMatrix().Data
		for i := range raw {
			raw[i] = rng.NormFloat64() * std
		}
	}
	fill(m.emb)
	fill(m.w)
	return m, nil
}

func alloc(cfg Config) *LM {
	return &LM{
		cfg:   cfg,
		emb:   mat.NewDense(cfg.Vocab, cfg.Hidden, nil),
		w:     mat.NewDense(cfg.Hidden, cfg.Vocab, nil),
		bias:  make([]float64, cfg.Vocab),
		gEmb:  mat.NewDense(cfg.Vocab, cfg.Hidden, nil),
		gW:    mat.NewDense(cfg.Hidden, cfg.Vocab, nil),
		gBias: make([]float64, cfg.Vocab),
		z:     mat.NewVecDense(cfg.Vocab, nil),
		dh:    mat.NewVecDense(cfg.Hidden, nil),
	}
}

func (m *LM) Config() Config     { return m.cfg }
func (m *LM) Vocab() int         { return m.cfg.Vocab }
func (m *LM) ContextLength() int { return m.cfg.NCtx }

// SetMaxGradNorm changes the clipping threshold used by later updates.
func (m *LM) SetMaxGradNorm(v float64) error {
	if v < 0 || math.IsNaN(v) {
		return fmt.Errorf("toy: max_grad_norm must be >= 0, got %g", v)
	}
	m.cfg.MaxGradNorm = v
	return nil
}

// Clone returns an independent copy of the weights with empty gradients.
func (m *LM) Clone() *LM {
	c := alloc(m.cfg)
	c.emb.Copy(m.emb)
	c.w.Copy(m.w)
	copy(c.bias, m.bias)
	return c
}

func (m *LM) checkToken(tok int) error {
	if tok < 0 || tok >= m.cfg.Vocab {
		return fmt.Errorf("toy: token %d outside vocabulary of %d", tok, m.cfg.Vocab)
	}
	return nil
}

// logits writes the scores for tok into m.z.
func (m *LM) logits(tok int) {
	h := m.emb.RowView(tok)
	m.z.MulVec(m.w.T(), h)
	floats.Add(m.z.RawVector().Data, m.bias)
}

// Forward returns next-token scores after the last token of tokens.
func (m *LM) Forward(tokens []int) ([]float32, error) {
	if len(tokens) == 0 {
		return nil, errors.New("toy: forward on empty context")
	}
	tok := tokens[len(tokens)-1]
	if err := m.checkToken(tok); err != nil {
		return nil, err
	}
	m.logits(tok)
	raw := m.z.RawVector().Data
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}

// TrainStep runs next-token prediction over every row, shifting the labels
// by one position, and adds the gradients of the mean cross-entropy
// multiplied by scale to the pending gradients. It returns the unscaled mean
// loss.
func (m *LM) TrainStep(inputs, labels [][]int, scale float64) (float64, error) {
	return m.step(inputs, labels, scale, true)
}

// Loss evaluates the mean cross-entropy without touching gradients.
func (m *LM) Loss(inputs, labels [][]int) (float64, error) {
	return m.step(inputs, labels, 0, false)
}

func (m *LM) step(inputs, labels [][]int, scale float64, accumulate bool) (float64, error) {
	if len(inputs) != len(labels) {
		return 0, fmt.Errorf("toy: %d input rows but %d label rows", len(inputs), len(labels))
	}
	count := 0
	for i := range inputs {
		if len(inputs[i]) != len(labels[i]) {
			return 0, fmt.Errorf("toy: row %d: input length %d, label length %d", i, len(inputs[i]), len(labels[i]))
		}
		if n := len(inputs[i]); n > 1 {
			count += n - 1
		}
	}
	if count == 0 {
		return 0, errors.New("toy: batch has no prediction positions")
	}

	var total float64
	inv := scale / float64(count)
	for i, row := range inputs {
		for p := 0; p+1 < len(row); p++ {
			tok, target := row[p], labels[i][p+1]
			if err := m.checkToken(tok); err != nil {
				return 0, err
			}
			if err := m.checkToken(target); err != nil {
				return 0, err
			}
			m.logits(tok)
			z := m.z.RawVector().Data
			lse := floats.LogSumExp(z)
			total += lse - z[target]
			if !accumulate {
				continue
			}
			// dz = softmax(z) - onehot(target), scaled.
			for j := range z {
				z[j] = math.Exp(z[j]-lse) * inv
			}
			z[target] -= inv
			h := m.emb.RowView(tok)
			m.gW.RankOne(m.gW, 1, h, m.z)
			floats.Add(m.gBias, z)
			m.dh.MulVec(m.w, m.z)
			g := m.gEmb.RawRowView(tok)
			floats.Add(g, m.dh.RawVector().Data)
		}
	}
	loss := total / float64(count)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return loss, fmt.Errorf("toy: non-finite loss %v", loss)
	}
	return loss, nil
}

// GradNorm is the L2 norm of the pending gradients.
func (m *LM) GradNorm() float64 {
	sq := floats.Dot(m.gBias, m.gBias)
	for _, d := range []*mat.Dense{m.gEmb, m.gW} {
		raw := d.RawMatrix().Data
		sq += floats.Dot(raw, raw)
	}
	return math.Sqrt(sq)
}

// ApplyUpdate takes one SGD step with the pending gradients and clears them.
func (m *LM) ApplyUpdate(lr float64) error {
	if math.IsNaN(lr) || math.IsInf(lr, 0) {
		return fmt.Errorf("toy: invalid learning rate %v", lr)
	}
	norm := m.GradNorm()
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		m.DiscardGradients()
		return fmt.Errorf("toy: non-finite gradient norm %v", norm)
	}
	step := lr
	if limit := m.cfg.MaxGradNorm; limit > 0 && norm > limit {
		step *= limit / (norm + 1e-6)
	}
	m.emb.Apply(func(i, j int, v float64) float64 { return v - step*m.gEmb.At(i, j) }, m.emb)
	m.w.Apply(func(i, j int, v float64) float64 { return v - step*m.gW.At(i, j) }, m.w)
	floats.AddScaled(m.bias, -step, m.gBias)
	m.DiscardGradients()
	return nil
}

func (m *LM) DiscardGradients() {
	m.gEmb.Zero()
	m.gW.Zero()
	for i := range m.gBias {
		m.gBias[i] = 0
	}
}
