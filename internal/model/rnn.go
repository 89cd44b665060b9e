package model

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/himanishpuri/AcousticLab/internal/features"
)

// rnn holds the parameters of an Elman network:
//
//	h_t = tanh(Wx x_t + Wh h_{t-1} + bh)
//	y_t = Wy h_t + by
type rnn struct {
	in, hidden int

	wx *mat.Dense    // hidden x in
	wh *mat.Dense    // hidden x hidden
	bh *mat.VecDense // hidden
	wy *mat.Dense    // in x hidden
	by *mat.VecDense // in
}

func newRNN(in, hidden int, rng *rand.Rand) *rnn {
	glorot := func(rows, cols int) *mat.Dense {
		limit := math.Sqrt(6 / float64(rows+cols))
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = (2*rng.Float64() - 1) * limit
		}
		return mat.NewDense(rows, cols, data)
	}

	return &rnn{
		in:     in,
		hidden: hidden,
		wx:     glorot(hidden, in),
		wh:     glorot(hidden, hidden),
		bh:     mat.NewVecDense(hidden, nil),
		wy:     glorot(in, hidden),
		by:     mat.NewVecDense(in, nil),
	}
}

func newZeroRNN(in, hidden int) *rnn {
	return &rnn{
		in:     in,
		hidden: hidden,
		wx:     mat.NewDense(hidden, in, nil),
		wh:     mat.NewDense(hidden, hidden, nil),
		bh:     mat.NewVecDense(hidden, nil),
		wy:     mat.NewDense(in, hidden, nil),
		by:     mat.NewVecDense(in, nil),
	}
}

// params lists the raw backing slices in serialization order.
func (n *rnn) params() [][]float64 {
	return [][]float64{
		n.wx.RawMatrix().Data,
		n.wh.RawMatrix().Data,
		n.bh.RawVector().Data,
		n.wy.RawMatrix().Data,
		n.by.RawVector().Data,
	}
}

// forward returns the output sequence and the hidden states h_0..h_T, where
// h_0 is the zero initial state.
func (n *rnn) forward(x features.Sequence) (features.Sequence, []*mat.VecDense) {
	states := make([]*mat.VecDense, len(x)+1)
	states[0] = mat.NewVecDense(n.hidden, nil)
	out := make(features.Sequence, len(x))

	var pre, rec mat.VecDense
	var y mat.VecDense
	for t, frame := range x {
		xt := mat.NewVecDense(n.in, frame)
		pre.MulVec(n.wx, xt)
		rec.MulVec(n.wh, states[t])
		pre.AddVec(&pre, &rec)
		pre.AddVec(&pre, n.bh)

		h := mat.NewVecDense(n.hidden, nil)
		for i := 0; i < n.hidden; i++ {
			h.SetVec(i, math.Tanh(pre.AtVec(i)))
		}
		states[t+1] = h

		y.MulVec(n.wy, h)
		y.AddVec(&y, n.by)
		out[t] = mat.Col(nil, 0, &y)
	}
	return out, states
}

// grads mirrors rnn parameter shapes.
type grads struct {
	wx, wh, wy *mat.Dense
	bh, by     *mat.VecDense
}

func (n *rnn) newGrads() *grads {
	return &grads{
		wx: mat.NewDense(n.hidden, n.in, nil),
		wh: mat.NewDense(n.hidden, n.hidden, nil),
		bh: mat.NewVecDense(n.hidden, nil),
		wy: mat.NewDense(n.in, n.hidden, nil),
		by: mat.NewVecDense(n.in, nil),
	}
}

func (g *grads) slices() [][]float64 {
	return [][]float64{
		g.wx.RawMatrix().Data,
		g.wh.RawMatrix().Data,
		g.bh.RawVector().Data,
		g.wy.RawMatrix().Data,
		g.by.RawVector().Data,
	}
}

func (g *grads) zero() {
	for _, s := range g.slices() {
		clear(s)
	}
}

// backward accumulates the gradient of sum((y-target)^2)*scale into g by
// backpropagation through time and returns the unscaled squared error.
func (n *rnn) backward(x, target features.Sequence, g *grads, scale float64) float64 {
	out, states := n.forward(x)

	var sse float64
	dhNext := mat.NewVecDense(n.hidden, nil)
	dy := mat.NewVecDense(n.in, nil)
	var dh, tmp mat.VecDense
	draw := mat.NewVecDense(n.hidden, nil)

	for t := len(x) - 1; t >= 0; t-- {
		for i := 0; i < n.in; i++ {
			d := out[t][i] - target[t][i]
			sse += d * d
			dy.SetVec(i, 2*d*scale)
		}

		h := states[t+1]
		g.wy.RankOne(g.wy, 1, dy, h)
		g.by.AddVec(g.by, dy)

		dh.MulVec(n.wy.T(), dy)
		dh.AddVec(&dh, dhNext)

		for i := 0; i < n.hidden; i++ {
			hv := h.AtVec(i)
			draw.SetVec(i, dh.AtVec(i)*(1-hv*hv))
		}

		xt := mat.NewVecDense(n.in, x[t])
		g.wx.RankOne(g.wx, 1, draw, xt)
		g.wh.RankOne(g.wh, 1, draw, states[t])
		g.bh.AddVec(g.bh, draw)

		tmp.MulVec(n.wh.T(), draw)
		dhNext.CopyVec(&tmp)
	}
	return sse
}
