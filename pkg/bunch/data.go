// Package bunch implements a contiguous group of soundings co-inverted
// together (spec.md §2.4/§3, "Bunch"/"Data vector"), including the
// logical X/Y/Z/XZ component selection, null-observation culling via
// ActiveData, and the Wd data-weight matrix.
package bunch

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/geometry"
)

// ComponentSelection controls which logical data components a bunch
// inverts. When XZ is true, the synthetic component XZ = hypot(X,Z)
// replaces the raw X/Z components; Y may additionally be included
// (spec.md §3, "a synthetic component XZ ... together with optional Y").
type ComponentSelection struct {
	X, Y, Z, XZ bool
}

// LogicalComponent is a component of the working data vector, which may
// be a raw forward.Component or the derived XZ = hypot(X,Z).
type LogicalComponent int

const (
	LX LogicalComponent = iota
	LY
	LZ
	LXZ
)

// LogicalSample names one entry of the per-sounding logical data vector.
type LogicalSample struct {
	System    int
	Component LogicalComponent
	Window    int
}

// LogicalSpec is the per-sounding logical sample list derived from a
// forward.SurveySpec and a ComponentSelection.
type LogicalSpec struct {
	raw     forward.SurveySpec
	sel     ComponentSelection
	Samples []LogicalSample
}

// NewLogicalSpec builds the logical sample list in system-major order,
// XZ/Y (or X/Y/Z) component-major, window-minor.
func NewLogicalSpec(raw forward.SurveySpec, sel ComponentSelection) LogicalSpec {
	nsys := 0
	for _, s := range raw.Samples {
		if s.System+1 > nsys {
			nsys = s.System + 1
		}
	}
	var samples []LogicalSample
	for sys := 0; sys < nsys; sys++ {
		nw := 0
		for _, s := range raw.Samples {
			if s.System == sys && s.Window+1 > nw {
				nw = s.Window + 1
			}
		}
		if sel.XZ {
			for w := 0; w < nw; w++ {
				samples = append(samples, LogicalSample{System: sys, Component: LXZ, Window: w})
			}
		} else if sel.X {
			for w := 0; w < nw; w++ {
				samples = append(samples, LogicalSample{System: sys, Component: LX, Window: w})
			}
		}
		if sel.Y {
			for w := 0; w < nw; w++ {
				samples = append(samples, LogicalSample{System: sys, Component: LY, Window: w})
			}
		}
		if !sel.XZ && sel.Z {
			for w := 0; w < nw; w++ {
				samples = append(samples, LogicalSample{System: sys, Component: LZ, Window: w})
			}
		}
	}
	return LogicalSpec{raw: raw, sel: sel, Samples: samples}
}

// N is D_all for one sounding.
func (s LogicalSpec) N() int { return len(s.Samples) }

// FromRaw maps a raw forward.ForwardSystem prediction/observation vector
// (forward.SurveySpec order) into the logical data vector, combining X
// and Z into XZ = hypot(X,Z) where selected.
func (s LogicalSpec) FromRaw(raw []float64) []float64 {
	out := make([]float64, len(s.Samples))
	for i, ls := range s.Samples {
		switch ls.Component {
		case LX:
			out[i] = raw[s.raw.Index(ls.System, forward.CompX, ls.Window)]
		case LY:
			out[i] = raw[s.raw.Index(ls.System, forward.CompY, ls.Window)]
		case LZ:
			out[i] = raw[s.raw.Index(ls.System, forward.CompZ, ls.Window)]
		case LXZ:
			x := raw[s.raw.Index(ls.System, forward.CompX, ls.Window)]
			z := raw[s.raw.Index(ls.System, forward.CompZ, ls.Window)]
			out[i] = math.Hypot(x, z)
		}
	}
	return out
}

// JacobianRow combines the raw Jacobian rows for X and Z into the XZ row
// per spec.md §4.2 step 2: d(XZ)/dp = (X*dX/dp + Z*dZ/dp) / XZ.
func (s LogicalSpec) JacobianRow(rawJ *mat.Dense, rawPred []float64, li int) []float64 {
	ls := s.Samples[li]
	_, ncols := rawJ.Dims()
	row := make([]float64, ncols)
	switch ls.Component {
	case LX:
		copy(row, rawJ.RawRowView(s.raw.Index(ls.System, forward.CompX, ls.Window)))
	case LY:
		copy(row, rawJ.RawRowView(s.raw.Index(ls.System, forward.CompY, ls.Window)))
	case LZ:
		copy(row, rawJ.RawRowView(s.raw.Index(ls.System, forward.CompZ, ls.Window)))
	case LXZ:
		xi := s.raw.Index(ls.System, forward.CompX, ls.Window)
		zi := s.raw.Index(ls.System, forward.CompZ, ls.Window)
		x := rawPred[xi]
		z := rawPred[zi]
		xz := math.Hypot(x, z)
		if xz == 0 {
			xz = 1e-300
		}
		xr := rawJ.RawRowView(xi)
		zr := rawJ.RawRowView(zi)
		for c := range row {
			row[c] = (x*xr[c] + z*zr[c]) / xz
		}
	}
	return row
}

// Sounding is one logical record in a bunch: the earth/geometry siblings
// it carries, and its raw observation/noise vectors in forward.SurveySpec
// order.
type Sounding struct {
	Line      int
	Ancillary map[string]string // record-level identifiers (fid, date, ...), spec.md §6 "ancillary identifiers"
	Earth     earth.Siblings
	Geometry  geometry.Siblings

	RawObs []float64 // NaN marks a null observation
	RawErr []float64 // NaN marks a null noise estimate; 0 makes BuildActiveData reject the bunch
}

// Bunch is a contiguous group of soundings from one flight line,
// co-inverted as a single parameter vector (spec.md §2.4).
type Bunch struct {
	Line      int
	Soundings []Sounding
	Logical   LogicalSpec
}

// ActiveData maps compact (culled) rows back to the full logical index
// of the concatenated bunch data vector (spec.md §3).
type ActiveData struct {
	Indices []int // len == D (active count); Indices[i] is the D_all index
	DAll    int
}

// D is the number of active (culled-in) entries.
func (a ActiveData) D() int { return len(a.Indices) }

// BuildActiveData scans the concatenated raw/err vectors for this bunch
// and returns the ActiveData index, skipping entries with a NaN
// observation or NaN noise. Per spec.md §3, the whole bunch is
// invalid if any *active* noise value is exactly zero; BuildActiveData
// returns an error in that case rather than silently dropping the row,
// since a zero noise estimate signals a malformed record, not a benign
// gap.
func BuildActiveData(obsAll, errAll []float64) (ActiveData, error) {
	if len(obsAll) != len(errAll) {
		return ActiveData{}, fmt.Errorf("bunch: obs/err length mismatch: %d vs %d", len(obsAll), len(errAll))
	}
	var idx []int
	for i := range obsAll {
		if math.IsNaN(obsAll[i]) || math.IsNaN(errAll[i]) {
			continue
		}
		if errAll[i] == 0 {
			return ActiveData{}, fmt.Errorf("bunch: active noise estimate is zero at index %d", i)
		}
		idx = append(idx, i)
	}
	return ActiveData{Indices: idx, DAll: len(obsAll)}, nil
}

// Cull restricts a D_all-length vector to the active D-length compact
// vector (spec.md §8: "cull(v) ... produces v restricted to ActiveData").
func (a ActiveData) Cull(vAll []float64) []float64 {
	out := make([]float64, len(a.Indices))
	for i, idx := range a.Indices {
		out[i] = vAll[idx]
	}
	return out
}

// CullRows restricts the rows of a D_all x N matrix to the active set,
// returning a D x N matrix (spec.md §8: "for a matrix, rows survive
// selection").
func (a ActiveData) CullRows(mAll *mat.Dense) *mat.Dense {
	_, n := mAll.Dims()
	out := mat.NewDense(len(a.Indices), n, nil)
	for i, idx := range a.Indices {
		out.SetRow(i, mAll.RawRowView(idx))
	}
	return out
}

// InverseMap scatters a D-length compact vector back into a D_all-length
// vector, leaving zero in culled positions.
func (a ActiveData) InverseMap(compact []float64) []float64 {
	out := make([]float64, a.DAll)
	for i, idx := range a.Indices {
		out[idx] = compact[i]
	}
	return out
}

// BuildWd returns the diagonal data-weight matrix 1/e_i^2 over the active
// set (spec.md §3, "Wd").
func BuildWd(activeErr []float64) *mat.SymDense {
	n := len(activeErr)
	wd := mat.NewSymDense(n, nil)
	for i, e := range activeErr {
		wd.SetSym(i, i, 1.0/(e*e))
	}
	return wd
}

// ApplyL1 replaces the diagonal of wd in place with 1/|residual_i| per
// spec.md §4.2's L1-norm mode, where residual_i = (d_i-g_i)/e_i. Rows
// with a (near-)zero residual keep their original L2 weight to avoid
// dividing by zero.
func ApplyL1(wd *mat.SymDense, obs, pred, errv []float64) {
	for i := range obs {
		r := (obs[i] - pred[i]) / errv[i]
		if math.Abs(r) < 1e-12 {
			continue
		}
		wd.SetSym(i, i, 1.0/math.Abs(r))
	}
}
