package gaussnewton

import (
	"gonum.org/v1/gonum/mat"
)

// solveDamped solves Ax=b robustly. It first tries a QR solve, and on
// failure falls back to a growing ridge regularisation before finally
// falling back to an SVD-based pseudo-inverse, mirroring the
// QR-then-regularised-fallback pattern the teacher's
// pkg/interpolation/kriging.go solver uses, culminating in the
// pseudo-inverse spec.md §4.2 calls for ("m_new = A^-1 b (pseudo-inverse
// for robustness)").
func solveDamped(A *mat.Dense, b *mat.VecDense) *mat.VecDense {
	n, _ := A.Dims()
	xDense := mat.NewDense(n, 1, nil)

	var qr mat.QR
	qr.Factorize(A)
	if err := qr.SolveTo(xDense, false, b); err == nil && finiteDense(xDense) {
		return denseColToVec(xDense)
	}

	ridged := mat.DenseCopyOf(A)
	for _, eps := range []float64{1e-8, 1e-4, 1e-1} {
		for i := 0; i < n; i++ {
			ridged.Set(i, i, A.At(i, i)+eps)
		}
		qr.Factorize(ridged)
		if err := qr.SolveTo(xDense, false, b); err == nil && finiteDense(xDense) {
			return denseColToVec(xDense)
		}
	}

	return pseudoInverseSolve(A, b)
}

func denseColToVec(d *mat.Dense) *mat.VecDense {
	n, _ := d.Dims()
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, d.At(i, 0))
	}
	return v
}

func finiteDense(d *mat.Dense) bool {
	n, _ := d.Dims()
	for i := 0; i < n; i++ {
		x := d.At(i, 0)
		if x != x || x > 1e300 || x < -1e300 {
			return false
		}
	}
	return true
}

// pseudoInverseSolve computes x = A+ b via a thin SVD, zeroing singular
// values below a relative tolerance (spec.md §4.2's "pseudo-inverse for
// robustness", used when the damped normal equations are singular or
// ill-conditioned, e.g. a stalled Jacobian per spec.md §7).
func pseudoInverseSolve(A *mat.Dense, b *mat.VecDense) *mat.VecDense {
	n, _ := A.Dims()
	var svd mat.SVD
	ok := svd.Factorize(A, mat.SVDThin)
	if !ok {
		return mat.NewVecDense(n, nil)
	}
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	tol := 0.0
	if len(values) > 0 {
		tol = values[0] * 1e-12 * float64(n)
	}

	utb := mat.NewVecDense(len(values), nil)
	utb.MulVec(u.T(), b)
	for i, s := range values {
		if s > tol {
			utb.SetVec(i, utb.AtVec(i)/s)
		} else {
			utb.SetVec(i, 0)
		}
	}
	x := mat.NewVecDense(n, nil)
	x.MulVec(&v, utb)
	return x
}

func finiteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if x != x || x > 1e300 || x < -1e300 {
			return false
		}
	}
	return true
}
