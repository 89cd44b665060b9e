package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/AcousticLab/internal/features"
)

const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8
)

// adam keeps first and second moment estimates for every parameter slice.
type adam struct {
	lr   float64
	step int
	m, v [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	a := &adam{lr: lr}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

func (a *adam) update(params, grads [][]float64) {
	a.step++
	c1 := 1 - math.Pow(adamBeta1, float64(a.step))
	c2 := 1 - math.Pow(adamBeta2, float64(a.step))
	for i, p := range params {
		g, m, v := grads[i], a.m[i], a.v[i]
		for j := range p {
			m[j] = adamBeta1*m[j] + (1-adamBeta1)*g[j]
			v[j] = adamBeta2*v[j] + (1-adamBeta2)*g[j]*g[j]
			p[j] -= a.lr * (m[j] / c1) / (math.Sqrt(v[j]/c2) + adamEps)
		}
	}
}

// clipGlobalNorm rescales all gradients so that their joint L2 norm is at most limit.
func clipGlobalNorm(grads [][]float64, limit float64) float64 {
	var sq float64
	for _, g := range grads {
		n := floats.Norm(g, 2)
		sq += n * n
	}
	norm := math.Sqrt(sq)
	if limit > 0 && norm > limit {
		for _, g := range grads {
			floats.Scale(limit/norm, g)
		}
	}
	return norm
}

// Train fits a recurrent model to reproduce its own input. The corpus is
// normalized with its own scalar mean and deviation, every sequence is
// right-padded with zero frames to the longest length, and the network is
// trained for a fixed number of epochs over shuffled mini-batches.
func Train(corpus []features.Sequence, cfg Config, progress Progress) (*TrainedModel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var usable []features.Sequence
	for _, s := range corpus {
		if s.Len() > 0 {
			usable = append(usable, s)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("%w: corpus is empty", ErrTraining)
	}

	width := usable[0].Width()
	maxLen := 0
	for i, s := range usable {
		if s.Width() != width {
			return nil, fmt.Errorf("%w: sequence %d has %d coefficients, expected %d",
				ErrTraining, i, s.Width(), width)
		}
		maxLen = max(maxLen, s.Len())
	}

	norm := features.ComputeNormalization(usable...)
	padded := make([]features.Sequence, len(usable))
	for i, s := range usable {
		padded[i] = padSequence(norm.Apply(s), maxLen, width)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	net := newRNN(width, cfg.HiddenSize, rng)
	g := net.newGrads()
	opt := newAdam(cfg.LearningRate, net.params())

	model := &TrainedModel{
		InputSize:  width,
		HiddenSize: cfg.HiddenSize,
		MaxLen:     maxLen,
		Epochs:     cfg.Epochs,
		Norm:       norm,
		net:        net,
	}

	order := make([]int, len(padded))
	for i := range order {
		order[i] = i
	}
	valuesPerSeq := float64(maxLen * width)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epochSSE float64
		for start := 0; start < len(order); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(order))
			scale := 1 / (float64(end-start) * valuesPerSeq)

			g.zero()
			for _, idx := range order[start:end] {
				seq := padded[idx]
				epochSSE += net.backward(seq, seq, g, scale)
			}
			clipGlobalNorm(g.slices(), cfg.ClipNorm)
			opt.update(net.params(), g.slices())
		}

		loss := epochSSE / (float64(len(padded)) * valuesPerSeq)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return nil, fmt.Errorf("%w: loss diverged at epoch %d", ErrTraining, epoch+1)
		}
		model.Loss = append(model.Loss, loss)
		if progress != nil {
			progress(epoch+1, cfg.Epochs, loss)
		}
	}

	return model, nil
}

// Evaluate returns the mean squared reconstruction error of already normalized
// sequences after padding them to MaxLen.
func (m *TrainedModel) Evaluate(seqs []features.Sequence) (float64, error) {
	if m == nil || m.net == nil {
		return 0, fmt.Errorf("%w: model has no weights", ErrInvalidModel)
	}
	var sse float64
	var count int
	for _, s := range seqs {
		if s.Width() != m.InputSize {
			return 0, fmt.Errorf("%w: sequence has %d coefficients, model expects %d",
				ErrInvalidModel, s.Width(), m.InputSize)
		}
		x := padSequence(s, m.MaxLen, m.InputSize)
		out, _ := m.net.forward(x)
		for t := range x {
			for i := range x[t] {
				d := out[t][i] - x[t][i]
				sse += d * d
			}
		}
		count += m.MaxLen * m.InputSize
	}
	if count == 0 {
		return 0, nil
	}
	return sse / float64(count), nil
}
