// Package regularisation implements the RegularisationBuilder of
// spec.md §4.1: it assembles the P x P weight matrices Wc, Wt, Wg, Ws,
// Wq, Wr, Wm that define the Gauss-Newton model-norm penalty, grounded in
// original_source/src/csbsinverter.h's initialise_Wc/Wt/Wg/Ws/Wq/Wr/Wm.
package regularisation

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/param"
)

// SmoothnessMethod selects the discrete derivative operator used by Ws.
type SmoothnessMethod int

const (
	Derivative1st SmoothnessMethod = iota
	Derivative2nd
)

// Alphas are the regularisation weights of spec.md §6 ("Options" section
// of the control file).
type Alphas struct {
	C, T, G, S, Q float64
}

// Builder holds everything RegularisationBuilder needs to assemble the
// weight matrices for one bunch.
type Builder struct {
	Layout     param.Layout
	Alphas     Alphas
	Smoothness SmoothnessMethod

	// RefEarths is the reference earth for each sounding in the bunch,
	// in sounding order; only the thickness values are used, to scale
	// Wc/Ws/Wq by t_l/mean(t).
	RefEarths []earth.LayeredEarth

	// RefParamStd is sigma_p for every parameter p, in the same flat
	// layout as param.Layout (spec.md §3's "sibling vector sigma").
	RefParamStd []float64
}

// Matrices is the output of Build: the seven P x P weight matrices of
// spec.md §3/§4.1.
type Matrices struct {
	Wc, Wt, Wg, Ws, Wq, Wr, Wm *mat.Dense
}

func zero(n int) *mat.Dense { return mat.NewDense(n, n, nil) }

// Build assembles Wc, Wt, Wg, Ws, Wq, Wr=Wc+Wt+Wg, Wm=Wr+Ws+Wq.
func (b Builder) Build() Matrices {
	n := b.Layout.NParam
	m := Matrices{
		Wc: b.buildWc(n),
		Wt: b.buildWt(n),
		Wg: b.buildWg(n),
		Ws: b.buildWs(n),
		Wq: b.buildWq(n),
	}
	m.Wr = zero(n)
	m.Wr.Add(m.Wr, m.Wc)
	m.Wr.Add(m.Wr, m.Wt)
	m.Wr.Add(m.Wr, m.Wg)

	m.Wm = zero(n)
	m.Wm.Add(m.Wm, m.Wr)
	m.Wm.Add(m.Wm, m.Ws)
	m.Wm.Add(m.Wm, m.Wq)
	return m
}

func (b Builder) sigma2(p int) float64 {
	if p < 0 || p >= len(b.RefParamStd) {
		return 1
	}
	s := b.RefParamStd[p]
	if s == 0 {
		return 1
	}
	return s * s
}

// buildWc: diagonal reference-conductivity weights, per-layer scaled by
// t_l/mean(t) (spec.md §4.1).
func (b Builder) buildWc(n int) *mat.Dense {
	Wc := zero(n)
	if !b.Layout.Conductivity.Solve || b.Alphas.C == 0 {
		return Wc
	}
	l := b.Layout.NLayers
	s := b.Alphas.C / float64(l*b.Layout.NSoundings)
	for si := 0; si < b.Layout.NSoundings; si++ {
		t := b.RefEarths[si].DummyThickness()
		tavg := mean(t)
		for li := 0; li < l; li++ {
			p := b.Layout.CIndex(si, li)
			Wc.Set(p, p, s*(t[li]/tavg)/b.sigma2(p))
		}
	}
	return Wc
}

// buildWt: diagonal reference-thickness weights.
func (b Builder) buildWt(n int) *mat.Dense {
	Wt := zero(n)
	if !b.Layout.Thickness.Solve || b.Alphas.T == 0 || b.Layout.NLayers < 2 {
		return Wt
	}
	s := b.Alphas.T / float64((b.Layout.NLayers-1)*b.Layout.NSoundings)
	for si := 0; si < b.Layout.NSoundings; si++ {
		for li := 0; li < b.Layout.NLayers-1; li++ {
			p := b.Layout.TIndex(si, li)
			Wt.Set(p, p, s/b.sigma2(p))
		}
	}
	return Wt
}

// buildWg: diagonal reference-geometry weights.
func (b Builder) buildWg(n int) *mat.Dense {
	Wg := zero(n)
	if b.Layout.NGeomParamPerSounding <= 0 || b.Alphas.G == 0 {
		return Wg
	}
	s := b.Alphas.G / float64(b.Layout.NGeomParamPerSounding*b.Layout.NSoundings)
	for si := 0; si < b.Layout.NSoundings; si++ {
		for gi := range b.Layout.Geometry {
			p := b.Layout.GIndex(si, gi)
			if p < 0 {
				continue
			}
			Wg.Set(p, p, s/b.sigma2(p))
		}
	}
	return Wg
}

// buildWs: L'L smoothness, L a discrete 1st- or 2nd-derivative operator
// in the log-conductivity direction, weighted by sqrt(t_l/mean(t))
// (spec.md §4.1).
func (b Builder) buildWs(n int) *mat.Dense {
	Ws := zero(n)
	if b.Alphas.S == 0 || b.Layout.NLayers < 3 || !b.Layout.Conductivity.Solve {
		return Ws
	}
	l := b.Layout.NLayers
	var rows int
	if b.Smoothness == Derivative1st {
		rows = b.Layout.NSoundings * (l - 1)
	} else {
		rows = b.Layout.NSoundings * (l - 2)
	}
	L := mat.NewDense(rows, n, nil)
	r := 0
	for si := 0; si < b.Layout.NSoundings; si++ {
		t := b.RefEarths[si].DummyThickness()
		tavg := mean(t)
		if b.Smoothness == Derivative1st {
			for li := 1; li < l; li++ {
				p0 := b.Layout.CIndex(si, li-1)
				p1 := b.Layout.CIndex(si, li)
				d12 := (t[li-1] + t[li]) / 2
				s := math.Sqrt(t[li] / tavg)
				L.Set(r, p0, -s/d12)
				L.Set(r, p1, s/d12)
				r++
			}
		} else {
			for li := 1; li < l-1; li++ {
				p0 := b.Layout.CIndex(si, li-1)
				p1 := b.Layout.CIndex(si, li)
				p2 := b.Layout.CIndex(si, li+1)
				d12 := (t[li-1] + t[li]) / 2
				d23 := (t[li] + t[li+1]) / 2
				s := math.Sqrt(t[li] / tavg)
				L.Set(r, p0, s/d12)
				L.Set(r, p1, -s/d12-s/d23)
				L.Set(r, p2, s/d23)
				r++
			}
		}
	}
	Ws.Mul(L.T(), L)
	Ws.Scale(b.Alphas.S/float64(rows), Ws)
	return Ws
}

// buildWq: homogeneity penalty; each row enforces
// c_l - mean(other c) ~= 0 (spec.md §4.1).
func (b Builder) buildWq(n int) *mat.Dense {
	Wq := zero(n)
	if b.Alphas.Q == 0 || !b.Layout.Conductivity.Solve {
		return Wq
	}
	l := b.Layout.NLayers
	rows := l * b.Layout.NSoundings
	L := mat.NewDense(rows, n, nil)
	r := 0
	for si := 0; si < b.Layout.NSoundings; si++ {
		t := b.RefEarths[si].DummyThickness()
		tavg := mean(t)
		for li := 0; li < l; li++ {
			s := math.Sqrt(t[li] / tavg)
			for ki := 0; ki < l; ki++ {
				p := b.Layout.CIndex(si, ki)
				if ki == li {
					L.Set(r, p, s*1.0)
				} else {
					L.Set(r, p, s*(-1.0/float64(l-1)))
				}
			}
			r++
		}
	}
	Wq.Mul(L.T(), L)
	Wq.Scale(b.Alphas.Q/float64(rows), Wq)
	return Wq
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
