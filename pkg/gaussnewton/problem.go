// Package gaussnewton implements the damped, bounded, regularised
// Gauss-Newton solver of spec.md §4.2 ("GaussNewtonCore"): per bunch,
// assemble data, initialise parameters, iterate
// forward -> Jacobian -> linear solve -> lambda search -> bounds
// projection -> update, until a termination criterion fires.
package gaussnewton

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/earth"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/geometry"
	"tdeminv/pkg/param"
	"tdeminv/pkg/regularisation"
)

// Options configures the iteration's termination, lambda search and
// L1/L2 norm mode (spec.md §4.2, §6 "Options" control-file section).
type Options struct {
	MaxIterations                int
	MinimumPhiD                  float64
	MinimumImprovementPercent    float64
	BeginGeometrySolveIteration  int
	L1Norm                       bool
	// LambdaMultipliers are tried against the current lambda during the
	// target search (spec.md §4.2 step 4); a typical ladder spans several
	// decades either side of 1.
	LambdaMultipliers []float64
}

// DefaultLambdaMultipliers is a ladder spanning six decades either side
// of the current lambda, used when Options.LambdaMultipliers is empty.
func DefaultLambdaMultipliers() []float64 {
	m := make([]float64, 0, 13)
	for e := -6; e <= 6; e++ {
		m = append(m, math.Pow(10, float64(e)))
	}
	return m
}

// Problem bundles everything one bunch inversion needs: the parameter
// layout, the forward-model collaborator, the per-sounding earth/
// geometry context, the regularisation matrices, and the (possibly
// NaN-padded) observation/noise vectors.
type Problem struct {
	Layout  param.Layout
	Logical bunch.LogicalSpec
	Forward forward.ForwardSystem

	RefEarths []earth.LayeredEarth
	RefGeoms  []geometry.Geometry

	M0          []float64
	Sigma       []float64
	MinLinear   []float64
	MaxLinear   []float64
	BoundMask   []bool
	LogMask     []bool

	Reg regularisation.Matrices

	Active bunch.ActiveData
	ObsAll []float64
	ErrAll []float64

	Options Options
}

// NewProblem assembles a Problem from per-sounding earth/geometry
// siblings and the bunch's raw observations, building the flat m0/sigma/
// bound vectors and the ActiveData culling index (spec.md §3).
func NewProblem(
	layout param.Layout,
	logical bunch.LogicalSpec,
	fsys forward.ForwardSystem,
	earthSiblings []earth.Siblings,
	geomSiblings []geometry.Siblings,
	reg regularisation.Matrices,
	obsPerSounding [][]float64, // raw forward.SurveySpec order, per sounding
	errPerSounding [][]float64,
	opts Options,
) (*Problem, error) {
	p := &Problem{Layout: layout, Logical: logical, Forward: fsys, Reg: reg, Options: opts}

	n := layout.NParam
	p.M0 = make([]float64, n)
	p.Sigma = make([]float64, n)
	p.MinLinear = make([]float64, n)
	p.MaxLinear = make([]float64, n)
	p.BoundMask = make([]bool, n)
	p.LogMask = make([]bool, n)
	p.RefEarths = make([]earth.LayeredEarth, layout.NSoundings)
	p.RefGeoms = make([]geometry.Geometry, layout.NSoundings)

	for si := 0; si < layout.NSoundings; si++ {
		es := earthSiblings[si]
		gs := geomSiblings[si]
		p.RefEarths[si] = es.Ref
		p.RefGeoms[si] = gs.Ref

		if layout.Conductivity.Solve {
			for li := 0; li < layout.NLayers; li++ {
				pi := layout.CIndex(si, li)
				p.M0[pi] = math.Log10(es.Ref.Conductivity[li])
				p.Sigma[pi] = stdOrOne(es.Std.Conductivity, li)
				p.MinLinear[pi] = boundOr(es.Min.Conductivity, li, 0)
				p.MaxLinear[pi] = boundOr(es.Max.Conductivity, li, math.Inf(1))
				p.BoundMask[pi] = layout.Conductivity.Bound
				p.LogMask[pi] = true
			}
		}
		if layout.Thickness.Solve {
			for li := 0; li < layout.NLayers-1; li++ {
				pi := layout.TIndex(si, li)
				p.M0[pi] = math.Log10(es.Ref.Thickness[li])
				p.Sigma[pi] = stdOrOne(es.Std.Thickness, li)
				p.MinLinear[pi] = boundOr(es.Min.Thickness, li, 0)
				p.MaxLinear[pi] = boundOr(es.Max.Thickness, li, math.Inf(1))
				p.BoundMask[pi] = layout.Thickness.Bound
				p.LogMask[pi] = true
			}
		}
		for gi, f := range layout.Geometry {
			if !f.Solve {
				continue
			}
			pi := layout.GIndex(si, gi)
			p.M0[pi] = gs.Ref.Get(gi)
			p.Sigma[pi] = gs.Std.Get(gi)
			if p.Sigma[pi] == 0 {
				p.Sigma[pi] = 1
			}
			p.MinLinear[pi] = gs.Min.Get(gi)
			p.MaxLinear[pi] = gs.Max.Get(gi)
			p.BoundMask[pi] = f.Bound
			p.LogMask[pi] = false
		}
	}

	var obsAll, errAll []float64
	for si := 0; si < layout.NSoundings; si++ {
		obsAll = append(obsAll, logical.FromRaw(obsPerSounding[si])...)
		errAll = append(errAll, logical.FromRaw(errPerSounding[si])...)
	}
	p.ObsAll = obsAll
	p.ErrAll = errAll

	active, err := bunch.BuildActiveData(obsAll, errAll)
	if err != nil {
		return nil, err
	}
	p.Active = active
	return p, nil
}

func stdOrOne(v []float64, i int) float64 {
	if i >= len(v) || v[i] == 0 {
		return 1
	}
	return v[i]
}

func boundOr(v []float64, i int, def float64) float64 {
	if i >= len(v) {
		return def
	}
	return v[i]
}

// earthFromParam reconstructs the per-sounding LayeredEarth implied by m.
func (p *Problem) earthFromParam(m []float64, si int) earth.LayeredEarth {
	e := p.RefEarths[si].Clone()
	l := p.Layout
	if l.Conductivity.Solve {
		for li := 0; li < l.NLayers; li++ {
			e.Conductivity[li] = math.Pow(10, m[l.CIndex(si, li)])
		}
	}
	if l.Thickness.Solve {
		for li := 0; li < l.NLayers-1; li++ {
			e.Thickness[li] = math.Pow(10, m[l.TIndex(si, li)])
		}
	}
	return e
}

// geometryFromParam reconstructs the per-sounding Geometry implied by m.
func (p *Problem) geometryFromParam(m []float64, si int) geometry.Geometry {
	g := p.RefGeoms[si]
	for gi, f := range p.Layout.Geometry {
		if !f.Solve {
			continue
		}
		g.Set(gi, m[p.Layout.GIndex(si, gi)])
	}
	return g
}

// forwardAll computes the concatenated logical prediction vector (D_all
// length) for the whole bunch at parameter m.
func (p *Problem) forwardAll(m []float64) ([]float64, error) {
	var out []float64
	for si := 0; si < p.Layout.NSoundings; si++ {
		e := p.earthFromParam(m, si)
		g := p.geometryFromParam(m, si)
		raw, err := p.Forward.Forward(e, g)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Logical.FromRaw(raw)...)
	}
	return out, nil
}

// forwardAndJacobianAll computes the concatenated prediction and the
// block-diagonal Jacobian (D_all x P) for the whole bunch, applying the
// log10 chain-rule scaling and the XZ row combination of spec.md §4.2
// step 2. solveGeometry gates whether geometry derivatives are requested
// this iteration (step 1, BeginGeometrySolveIteration).
func (p *Problem) forwardAndJacobianAll(m []float64, solveGeometry bool) ([]float64, *mat.Dense, error) {
	nParam := p.Layout.NParam
	var pred []float64
	var jRows [][]float64

	for si := 0; si < p.Layout.NSoundings; si++ {
		e := p.earthFromParam(m, si)
		g := p.geometryFromParam(m, si)

		var geomReq geometry.Solve
		if solveGeometry {
			for gi, f := range p.Layout.Geometry {
				geomReq[gi] = f.Solve
			}
		}
		req := forward.DerivativeRequest{
			Conductivity: p.Layout.Conductivity.Solve,
			Thickness:    p.Layout.Thickness.Solve,
			Geometry:     geomReq,
		}
		rawPred, rawJ, err := p.Forward.ForwardAndJacobian(e, g, req)
		if err != nil {
			return nil, nil, err
		}

		logicalPred := p.Logical.FromRaw(rawPred)
		pred = append(pred, logicalPred...)

		for li := range p.Logical.Samples {
			rawRow := p.Logical.JacobianRow(rawJ, rawPred, li)
			full := make([]float64, nParam)
			col := 0
			if req.Conductivity {
				for l := 0; l < p.Layout.NLayers; l++ {
					pi := p.Layout.CIndex(si, l)
					full[pi] = rawRow[col] * ln10 * e.Conductivity[l]
					col++
				}
			}
			if req.Thickness && p.Layout.NLayers > 1 {
				for l := 0; l < p.Layout.NLayers-1; l++ {
					pi := p.Layout.TIndex(si, l)
					full[pi] = rawRow[col] * ln10 * e.Thickness[l]
					col++
				}
			}
			if solveGeometry {
				for gi, f := range p.Layout.Geometry {
					if !f.Solve {
						continue
					}
					pi := p.Layout.GIndex(si, gi)
					full[pi] = rawRow[col]
					col++
				}
			}
			jRows = append(jRows, full)
		}
	}

	J := mat.NewDense(len(jRows), nParam, nil)
	for r, row := range jRows {
		J.SetRow(r, row)
	}
	return pred, J, nil
}

const ln10 = 2.302585092994046
