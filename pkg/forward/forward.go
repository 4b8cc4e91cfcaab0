// Package forward declares the EM forward-model collaborator
// (spec.md §2.3, "ForwardSystem") that the inverter core treats as
// external: given a layered earth and geometry, it predicts per-window,
// per-component fields and, on request, their partial derivatives.
//
// Per spec.md §9 ("cyclic inverter <-> forward system"), the forward
// system is owned by the inverter; it borrows only immutable parameter
// and geometry views and writes into buffers the inverter owns. This
// package therefore only defines the interface and sample-indexing
// scheme (also §9, "large rank-4 _dindex_ table ... replaced with a
// flattened vector and computed stride"); the inverter core in
// pkg/gaussnewton and pkg/rjmcmc depends only on the ForwardSystem
// interface, never on a concrete implementation.
package forward

import (
	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/geometry"
)

// Component identifies a measured field component.
type Component int

const (
	CompX Component = iota
	CompY
	CompZ
)

func (c Component) String() string {
	switch c {
	case CompX:
		return "X"
	case CompY:
		return "Y"
	case CompZ:
		return "Z"
	default:
		return "?"
	}
}

// Sample identifies one (system, component, window) triple of a survey.
type Sample struct {
	System    int
	Component Component
	Window    int
}

// SurveySpec is the flattened (system, component, window) -> index table
// for one sounding. Samples are listed in a fixed order computed once;
// Index(system, component, window) is then an O(1) lookup rather than a
// dense rank-4 array.
type SurveySpec struct {
	Samples []Sample
	index   map[Sample]int
}

// NewSurveySpec builds a SurveySpec for systems with the given window
// counts, enumerating all three components for every window of every
// system, in system-major, component-major, window-minor order.
func NewSurveySpec(windowsPerSystem []int) SurveySpec {
	var samples []Sample
	for sys, nw := range windowsPerSystem {
		for _, comp := range []Component{CompX, CompY, CompZ} {
			for w := 0; w < nw; w++ {
				samples = append(samples, Sample{System: sys, Component: comp, Window: w})
			}
		}
	}
	return buildSpec(samples)
}

func buildSpec(samples []Sample) SurveySpec {
	idx := make(map[Sample]int, len(samples))
	for i, s := range samples {
		idx[s] = i
	}
	return SurveySpec{Samples: samples, index: idx}
}

// N is the number of samples (D_all per sounding, before XZ/Y derivation
// or null culling, which are handled by pkg/bunch).
func (s SurveySpec) N() int { return len(s.Samples) }

// Index returns the flat index of (system, component, window), or -1 if
// that sample is not present in this spec.
func (s SurveySpec) Index(sys int, comp Component, win int) int {
	if i, ok := s.index[Sample{System: sys, Component: comp, Window: win}]; ok {
		return i
	}
	return -1
}

// DerivativeRequest controls which partial derivatives ForwardAndJacobian
// computes. Geometry derivatives are only computed per-element as
// requested, since enabling them is iteration-gated in the Gauss-Newton
// core (spec.md §4.2 step 1, BeginGeometrySolveIteration).
type DerivativeRequest struct {
	Conductivity bool
	Thickness    bool
	Geometry     geometry.Solve
}

// JacobianLayout describes the column order of a Jacobian returned by
// ForwardAndJacobian: nLayers conductivity columns (if requested),
// nLayers-1 thickness columns (if requested), then one column per
// requested geometry element in geometry.ElementNames order. This must
// match the column order pkg/param.Layout uses for one sounding's block,
// so the inverter core can drop a ForwardSystem's Jacobian straight into
// the sounding's slice of the full-bunch Jacobian.
type JacobianLayout struct {
	NLayers  int
	HasC     bool
	HasT     bool
	Geometry geometry.Solve
}

// NCols is the number of Jacobian columns this layout implies.
func (j JacobianLayout) NCols() int {
	n := 0
	if j.HasC {
		n += j.NLayers
	}
	if j.HasT && j.NLayers > 1 {
		n += j.NLayers - 1
	}
	n += j.Geometry.Count()
	return n
}

// ForwardSystem is the external EM forward-model collaborator. An
// implementation predicts secondary (and optionally primary) fields for
// every sample of Spec(), and on request returns the Jacobian of those
// predictions with respect to the requested parameters, in
// JacobianLayout column order.
type ForwardSystem interface {
	Spec() SurveySpec

	// Forward returns the predicted field for every sample in Spec(),
	// in Spec().Samples order.
	Forward(e earth.LayeredEarth, g geometry.Geometry) ([]float64, error)

	// ForwardAndJacobian additionally returns the Jacobian in the
	// column order implied by req (see JacobianLayout). Pitch/roll
	// geometry derivatives are expected to be closed-form rotations
	// supplied by the collaborator, not finite differences (spec.md
	// §4.2 step 2); that is an implementation detail of the concrete
	// ForwardSystem, invisible to this interface.
	ForwardAndJacobian(e earth.LayeredEarth, g geometry.Geometry, req DerivativeRequest) ([]float64, *mat.Dense, error)
}
