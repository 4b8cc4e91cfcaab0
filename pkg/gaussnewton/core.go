package gaussnewton

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/geometry"
	"tdeminv/pkg/logging"
)

// State is the mutable iteration state of spec.md §4.2: param m,
// prediction g, lambda, iteration count, and the phi decomposition.
type State struct {
	Param []float64
	Pred  []float64 // active-data length (culled)

	Lambda    float64
	Iteration int

	PhiD, TargetPhiD float64
	PhiM             float64
	PhiC, PhiT, PhiG, PhiS, PhiQ float64

	TerminationReason string

	Sensitivity []float64
	Uncertainty []float64

	InvertedEarths []earth.LayeredEarth
	InvertedGeoms  []geometry.Geometry
}

// InvertBunch runs the damped Gauss-Newton iteration of spec.md §4.2 to
// completion and returns the final IterationState.
func InvertBunch(p *Problem, log *logging.Logger) (*State, error) {
	s := &State{
		Param:     append([]float64(nil), p.M0...),
		Lambda:    1e8,
		Iteration: 0,
	}

	predAll, err := p.forwardAll(s.Param)
	if err != nil {
		return nil, err
	}
	s.Pred = p.Active.Cull(predAll)
	wd := bunchWd(p)
	s.PhiD = phiData(p.Active.Cull(p.ObsAll), s.Pred, wd)
	s.TargetPhiD = s.PhiD
	s.PhiM, s.PhiC, s.PhiT, s.PhiG, s.PhiS, s.PhiQ = phiModel(p, s.Param)

	s.TerminationReason = "Has not terminated"

	percentChange := 100.0
	maxIter := p.Options.MaxIterations
	if maxIter <= 0 {
		maxIter = 50
	}
	minPhiD := p.Options.MinimumPhiD
	minImprove := p.Options.MinimumImprovementPercent

	for {
		if s.Iteration >= maxIter {
			s.TerminationReason = "Too many iterations"
			break
		}
		if s.PhiD <= minPhiD {
			s.TerminationReason = "Reached minimum"
			break
		}
		if s.Iteration > 4 && percentChange < minImprove {
			s.TerminationReason = "Small % improvement"
			break
		}

		solveGeometry := p.Layout.AnyGeometrySolved() && s.Iteration+1 >= p.Options.BeginGeometrySolveIteration

		predActive, J, err := p.forwardAndJacobianAll(s.Param, solveGeometry)
		if err != nil {
			log.Warnf("forward/jacobian evaluation failed: %v", err)
			s.TerminationReason = "No improvement"
			break
		}
		predActiveCompact := p.Active.Cull(predActive)
		wd := bunchWd(p)
		if p.Options.L1Norm {
			bunch_ApplyL1(wd, p.Active.Cull(p.ObsAll), predActiveCompact, p.Active.Cull(p.ErrAll))
		}
		Jc := p.Active.CullRows(J)

		targetPhiD := math.Max(s.PhiD*0.7, minPhiD)

		lambdaStar, stepFactor, trialOK := lambdaSearchTarget(p, s, Jc, wd, predActive, targetPhiD)
		if !trialOK {
			s.TerminationReason = "No improvement"
			break
		}

		dm := parameterChange(p, lambdaStar, s.Param, predActive, Jc, wd)
		mNew := make([]float64, len(s.Param))
		for i := range mNew {
			mNew[i] = s.Param[i] + stepFactor*dm[i]
		}
		mNew = projectBounds(p, s.Param, mNew)

		newPredAll, err := p.forwardAll(mNew)
		if err != nil || hasNonFinite(newPredAll) {
			s.TerminationReason = "No improvement"
			break
		}
		newPredCompact := p.Active.Cull(newPredAll)
		newPhiD := phiData(p.Active.Cull(p.ObsAll), newPredCompact, wd)

		percentChange = 100.0 * (s.PhiD - newPhiD) / s.PhiD

		if newPhiD <= s.PhiD {
			s.Iteration++
			s.Param = mNew
			s.Pred = newPredCompact
			s.TargetPhiD = targetPhiD
			s.PhiD = newPhiD
			s.Lambda = lambdaStar
			s.PhiM, s.PhiC, s.PhiT, s.PhiG, s.PhiS, s.PhiQ = phiModel(p, s.Param)
		} else {
			s.TerminationReason = "No improvement"
			break
		}
	}

	finalPredAll, J, err := p.forwardAndJacobianAll(s.Param, p.Layout.AnyGeometrySolved())
	if err == nil {
		s.Pred = p.Active.Cull(finalPredAll)
		Jc := p.Active.CullRows(J)
		wd := bunchWd(p)
		s.Sensitivity, s.Uncertainty = sensitivityAndUncertainty(Jc, wd, p.Reg.Wm, s.Lambda)
	}

	s.InvertedEarths = make([]earth.LayeredEarth, p.Layout.NSoundings)
	s.InvertedGeoms = make([]geometry.Geometry, p.Layout.NSoundings)
	for si := 0; si < p.Layout.NSoundings; si++ {
		s.InvertedEarths[si] = p.earthFromParam(s.Param, si)
		s.InvertedGeoms[si] = p.geometryFromParam(s.Param, si)
	}

	if s.TerminationReason == "No improvement" {
		return s, &SolverStall{Reason: s.TerminationReason}
	}
	return s, nil
}

func bunchWd(p *Problem) *mat.Dense {
	activeErr := p.Active.Cull(p.ErrAll)
	n := len(activeErr)
	wd := mat.NewDense(n, n, nil)
	for i, e := range activeErr {
		wd.Set(i, i, 1.0/(e*e))
	}
	return wd
}

// bunch_ApplyL1 mirrors bunch.ApplyL1 but operates on a plain *mat.Dense
// diagonal so gaussnewton need not depend on mat.SymDense construction
// details.
func bunch_ApplyL1(wd *mat.Dense, obs, pred, errv []float64) {
	for i := range obs {
		r := (obs[i] - pred[i]) / errv[i]
		if math.Abs(r) < 1e-12 {
			continue
		}
		wd.Set(i, i, 1.0/math.Abs(r))
	}
}

func phiData(obs, pred []float64, wd *mat.Dense) float64 {
	n := len(obs)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		r := obs[i] - pred[i]
		sum += r * r * wd.At(i, i)
	}
	return sum / float64(n)
}

func phiModel(p *Problem, m []float64) (phim, phic, phit, phig, phis, phiq float64) {
	phic = quadFormDiff(m, p.M0, p.Reg.Wc)
	phit = quadFormDiff(m, p.M0, p.Reg.Wt)
	phig = quadFormDiff(m, p.M0, p.Reg.Wg)
	phis = quadForm(m, p.Reg.Ws)
	phiq = quadForm(m, p.Reg.Wq)
	phim = phic + phit + phig + phis + phiq
	return
}

func quadFormDiff(m, m0 []float64, W *mat.Dense) float64 {
	n := len(m)
	v := make([]float64, n)
	for i := range v {
		v[i] = m[i] - m0[i]
	}
	return quadForm(v, W)
}

func quadForm(v []float64, W *mat.Dense) float64 {
	n := len(v)
	if n == 0 {
		return 0
	}
	vv := mat.NewVecDense(n, v)
	var wv mat.VecDense
	wv.MulVec(W, vv)
	return mat.Dot(vv, &wv)
}

func hasNonFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return true
		}
	}
	return false
}
