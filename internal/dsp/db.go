package dsp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	AMin  = 1e-10
	TopDB = 80.0
)

// PowerToDB converts power to decibels relative to ref. When ref <= 0 the
// matrix maximum is used, so the loudest cell maps to 0 dB. Values are floored
// at topDB below the maximum when topDB > 0.
func PowerToDB(power *mat.Dense, ref, topDB float64) *mat.Dense {
	if ref <= 0 {
		ref = mat.Max(power)
	}
	offset := 10 * math.Log10(math.Max(AMin, ref))

	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return 10*math.Log10(math.Max(AMin, v)) - offset
	}, power)

	if topDB > 0 {
		floor := mat.Max(&out) - topDB
		out.Apply(func(_, _ int, v float64) float64 {
			return math.Max(v, floor)
		}, &out)
	}
	return &out
}

// DBToPower inverts PowerToDB for a reference of 1.
func DBToPower(db *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 {
		return math.Pow(10, v/10)
	}, db)
	return &out
}
