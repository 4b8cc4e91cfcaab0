package gaussnewton

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// parameterChange solves the damped normal equations of spec.md §4.2:
//
//	A = J'WdJ + lambda*Wm
//	b = J'Wd(d - g + J*m) + lambda*Wr*m0
//	m_new = A^-1 b   (pseudo-inverse for robustness)
//	dm = m_new - m
//
// J and wd are already culled to the active rows; d, g are the active
// observation/prediction vectors; m is the full P-length parameter
// vector at which J and g were evaluated.
func parameterChange(p *Problem, lambda float64, m []float64, predAll []float64, Jc, wd *mat.Dense) []float64 {
	d := p.Active.Cull(p.ObsAll)
	g := p.Active.Cull(predAll)
	nParam := len(m)

	var jtWd mat.Dense
	jtWd.Mul(Jc.T(), wd)

	var jtWdJ mat.Dense
	jtWdJ.Mul(&jtWd, Jc)

	A := mat.NewDense(nParam, nParam, nil)
	A.Add(&jtWdJ, scaled(p.Reg.Wm, lambda))

	// rhs = d - g + J*m
	mVec := mat.NewVecDense(nParam, m)
	var jm mat.VecDense
	jm.MulVec(Jc, mVec)
	rhs := mat.NewVecDense(len(d), nil)
	for i := range d {
		rhs.SetVec(i, d[i]-g[i]+jm.AtVec(i))
	}

	var jtWdRhs mat.VecDense
	jtWdRhs.MulVec(&jtWd, rhs)

	m0Vec := mat.NewVecDense(nParam, p.M0)
	var wrM0 mat.VecDense
	wrM0.MulVec(p.Reg.Wr, m0Vec)

	b := mat.NewVecDense(nParam, nil)
	for i := 0; i < nParam; i++ {
		b.SetVec(i, jtWdRhs.AtVec(i)+lambda*wrM0.AtVec(i))
	}

	mNew := solveDamped(A, b)

	dm := make([]float64, nParam)
	for i := 0; i < nParam; i++ {
		dm[i] = mNew.AtVec(i) - m[i]
	}
	return dm
}

func scaled(W *mat.Dense, s float64) *mat.Dense {
	r, c := W.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(s, W)
	return out
}

// lambdaSearchTarget explores DefaultLambdaMultipliers() (or
// p.Options.LambdaMultipliers) applied to the current lambda, solving
// the damped system for each candidate and evaluating the resulting
// PhiD. It selects the lambda whose PhiD is closest to targetPhiD from
// above, falling back to the lambda giving the minimum PhiD if none
// lies above target (spec.md §4.2 step 4). It also tries step-length
// shortening on the winning lambda if even that does not improve PhiD
// (spec.md §4.2 step 5's "optional step shortening").
func lambdaSearchTarget(p *Problem, s *State, Jc, wd *mat.Dense, predAll []float64, targetPhiD float64) (lambda float64, stepFactor float64, ok bool) {
	multipliers := p.Options.LambdaMultipliers
	if len(multipliers) == 0 {
		multipliers = DefaultLambdaMultipliers()
	}

	d := p.Active.Cull(p.ObsAll)

	type trial struct {
		lambda float64
		phid   float64
		dm     []float64
	}
	var trials []trial
	for _, mult := range multipliers {
		cand := s.Lambda * mult
		if cand <= 0 || math.IsInf(cand, 0) || math.IsNaN(cand) {
			continue
		}
		dm := parameterChange(p, cand, s.Param, predAll, Jc, wd)
		mTrial := addScaled(s.Param, dm, 1.0)
		mTrial = projectBounds(p, s.Param, mTrial)
		predTrialAll, err := p.forwardAll(mTrial)
		if err != nil || hasNonFinite(predTrialAll) {
			continue
		}
		g := p.Active.Cull(predTrialAll)
		phid := phiData(d, g, wd)
		trials = append(trials, trial{lambda: cand, phid: phid, dm: dm})
	}
	if len(trials) == 0 {
		return s.Lambda, 1.0, false
	}

	best := trials[0]
	bestAboveDiff := math.Inf(1)
	haveAbove := false
	minPhid := trials[0].phid
	minIdx := 0
	for i, t := range trials {
		if t.phid < minPhid {
			minPhid = t.phid
			minIdx = i
		}
		if t.phid >= targetPhiD {
			diff := t.phid - targetPhiD
			if diff < bestAboveDiff {
				bestAboveDiff = diff
				best = t
				haveAbove = true
			}
		}
	}
	if !haveAbove {
		best = trials[minIdx]
	}

	for _, sf := range []float64{1.0, 0.5, 0.25, 0.125} {
		mTrial := addScaled(s.Param, best.dm, sf)
		mTrial = projectBounds(p, s.Param, mTrial)
		predTrialAll, err := p.forwardAll(mTrial)
		if err != nil || hasNonFinite(predTrialAll) {
			continue
		}
		g := p.Active.Cull(predTrialAll)
		phid := phiData(d, g, wd)
		if phid <= s.PhiD || sf == 0.125 {
			return best.lambda, sf, true
		}
	}
	return best.lambda, 1.0, true
}

func addScaled(m, dm []float64, factor float64) []float64 {
	out := make([]float64, len(m))
	for i := range m {
		out[i] = m[i] + factor*dm[i]
	}
	return out
}

// projectBounds clips mNew into [m_min, m_max] for every bound-projected
// parameter, re-expressing the clip as dm_i = clip(...) - m_old_i per
// spec.md §4.2 step 5. Conductivity/thickness bounds are supplied in
// linear space; the clip compares in log10 space.
func projectBounds(p *Problem, mOld, mNew []float64) []float64 {
	out := append([]float64(nil), mNew...)
	for i := range out {
		if !p.BoundMask[i] {
			continue
		}
		var lo, hi float64
		if p.LogMask[i] {
			lo, hi = math.Log10(p.MinLinear[i]), math.Log10(p.MaxLinear[i])
		} else {
			lo, hi = p.MinLinear[i], p.MaxLinear[i]
		}
		if out[i] < lo {
			out[i] = lo
		}
		if out[i] > hi {
			out[i] = hi
		}
	}
	return out
}

func sensitivityAndUncertainty(Jc, wd, Wm *mat.Dense, lambda float64) ([]float64, []float64) {
	var jtWd mat.Dense
	jtWd.Mul(Jc.T(), wd)
	var jtWdJ mat.Dense
	jtWdJ.Mul(&jtWd, Jc)

	n, _ := jtWdJ.Dims()
	sens := make([]float64, n)
	for i := 0; i < n; i++ {
		sens[i] = jtWdJ.At(i, i)
	}

	A := mat.NewDense(n, n, nil)
	A.Add(&jtWdJ, scaled(Wm, lambda))

	inv := mat.NewDense(n, n, nil)
	if err := inv.Inverse(A); err != nil {
		// fall back to pseudo-inverse diag via SVD solve per-column.
		for i := 0; i < n; i++ {
			e := make([]float64, n)
			e[i] = 1
			col := pseudoInverseSolve(A, mat.NewVecDense(n, e))
			inv.Set(i, i, col.AtVec(i))
		}
	}
	unc := make([]float64, n)
	for i := 0; i < n; i++ {
		v := inv.At(i, i)
		if v < 0 {
			v = 0
		}
		unc[i] = math.Sqrt(v)
	}
	return sens, unc
}
