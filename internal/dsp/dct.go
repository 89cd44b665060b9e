package dsp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// DCTBasis returns the first nCoeffs rows of the orthonormal DCT-II matrix of size n.
// Its transpose is the matching truncated inverse (DCT-III).
func DCTBasis(nCoeffs, n int) *mat.Dense {
	basis := mat.NewDense(nCoeffs, n, nil)
	for k := 0; k < nCoeffs; k++ {
		scale := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(n))
		}
		for i := 0; i < n; i++ {
			basis.Set(k, i, scale*math.Cos(math.Pi*float64(k)*(2*float64(i)+1)/(2*float64(n))))
		}
	}
	return basis
}

// DCT applies the basis along the rows of x (n x frames) giving nCoeffs x frames.
func DCT(basis, x *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(basis, x)
	return &out
}

// IDCT maps nCoeffs x frames back to n x frames.
func IDCT(basis, c *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Mul(basis.T(), c)
	return &out
}
