// Package param builds the per-sounding parameter layout shared by the
// Gauss-Newton and RJ-MCMC inverters: which quantities are solved, where
// each one lives in the flat parameter vector, and whether it is bounded
// (spec.md §3, "InvertibleField" / "Parameter vector").
package param

import "tdeminv/pkg/geometry"

// InvertibleField carries, for one invertible quantity, whether it is
// solved, whether it is bound-projected, and its offset into the
// per-sounding parameter block (-1 when not solved). Offsets are computed
// once by Build and never mutated afterwards (spec.md §3).
type InvertibleField struct {
	Solve  bool
	Bound  bool
	Offset int
}

// Options configures which quantities are solved and bounded for a bunch.
type Options struct {
	NLayers int

	SolveConductivity bool
	BoundConductivity bool

	SolveThickness bool
	BoundThickness bool

	// GeometrySolve[i]/GeometryBound[i] control element i of
	// geometry.ElementNames.
	GeometrySolve geometry.Solve
	GeometryBound geometry.Solve
}

// Layout is the computed parameter-block layout for one bunch of
// NSoundings soundings, each with NLayers earth layers.
type Layout struct {
	NSoundings int
	NLayers    int

	Conductivity InvertibleField
	Thickness    InvertibleField
	Geometry     [geometrySize]InvertibleField

	NParamPerSounding int
	NGeomParamPerSounding int
	NParam            int
}

const geometrySize = 10 // geometry.Size(), fixed at compile time for array sizing

func init() {
	if geometry.Size() != geometrySize {
		panic("param: geometry.Size() does not match compiled-in geometrySize")
	}
}

// Build computes the parameter layout for a bunch, following the layout
// rule of spec.md §3: within a sounding block, conductivity (if solved),
// then thickness (if solved), then each solved geometry element in
// declaration order.
func Build(o Options, nSoundings int) Layout {
	l := Layout{NSoundings: nSoundings, NLayers: o.NLayers}

	offset := 0
	l.Conductivity = InvertibleField{Solve: o.SolveConductivity, Bound: o.BoundConductivity, Offset: -1}
	if o.SolveConductivity {
		l.Conductivity.Offset = offset
		offset += o.NLayers
	}

	l.Thickness = InvertibleField{Solve: o.SolveThickness, Bound: o.BoundThickness, Offset: -1}
	if o.SolveThickness && o.NLayers > 1 {
		l.Thickness.Offset = offset
		offset += o.NLayers - 1
	}

	for gi := 0; gi < geometrySize; gi++ {
		f := InvertibleField{Solve: o.GeometrySolve[gi], Bound: o.GeometryBound[gi], Offset: -1}
		if f.Solve {
			f.Offset = offset
			offset++
			l.NGeomParamPerSounding++
		}
		l.Geometry[gi] = f
	}

	l.NParamPerSounding = offset
	l.NParam = offset * nSoundings
	return l
}

// CIndex returns the flat parameter index of conductivity layer li of
// sounding si, or -1 if conductivity is not solved.
func (l Layout) CIndex(si, li int) int {
	if !l.Conductivity.Solve {
		return -1
	}
	return si*l.NParamPerSounding + l.Conductivity.Offset + li
}

// TIndex returns the flat parameter index of thickness li of sounding si,
// or -1 if thickness is not solved.
func (l Layout) TIndex(si, li int) int {
	if !l.Thickness.Solve {
		return -1
	}
	return si*l.NParamPerSounding + l.Thickness.Offset + li
}

// GIndex returns the flat parameter index of geometry element gi of
// sounding si, or -1 if that element is not solved.
func (l Layout) GIndex(si, gi int) int {
	f := l.Geometry[gi]
	if !f.Solve {
		return -1
	}
	return si*l.NParamPerSounding + f.Offset
}

// AnyGeometrySolved reports whether at least one geometry element is
// solved anywhere in the layout (spec.md §9 open question on
// solve_geometry()).
func (l Layout) AnyGeometrySolved() bool {
	for _, f := range l.Geometry {
		if f.Solve {
			return true
		}
	}
	return false
}

// Indices returns, for sounding si, the three disjoint index sets
// covering its block of the parameter vector: conductivity indices,
// thickness indices, geometry indices. Used by property tests verifying
// spec.md §8's "cindex, tindex, gindex are pairwise disjoint and cover
// [0,P) exactly".
func (l Layout) Indices(si int) (c, t, g []int) {
	if l.Conductivity.Solve {
		for li := 0; li < l.NLayers; li++ {
			c = append(c, l.CIndex(si, li))
		}
	}
	if l.Thickness.Solve {
		for li := 0; li < l.NLayers-1; li++ {
			t = append(t, l.TIndex(si, li))
		}
	}
	for gi := 0; gi < geometrySize; gi++ {
		if l.Geometry[gi].Solve {
			g = append(g, l.GIndex(si, gi))
		}
	}
	return
}
