// Package earth implements the layered-earth parameter model: an ordered
// stack of conductivity values and the thicknesses separating them, plus
// the reference/std/min/max/inverted sibling vectors used as priors and
// bounds (spec.md §3, "LayeredEarth").
package earth

import (
	"fmt"
	"math"
	"strings"
)

// LayeredEarth holds the conductivity vector c[0..L-1] and the thickness
// vector t[0..L-2]. The half-space is implicitly the last layer and has no
// thickness entry.
type LayeredEarth struct {
	Conductivity []float64
	Thickness    []float64
}

// NumLayers returns L, the number of conductivity layers.
func (e LayeredEarth) NumLayers() int { return len(e.Conductivity) }

// Clone returns a deep copy.
func (e LayeredEarth) Clone() LayeredEarth {
	c := make([]float64, len(e.Conductivity))
	copy(c, e.Conductivity)
	t := make([]float64, len(e.Thickness))
	copy(t, e.Thickness)
	return LayeredEarth{Conductivity: c, Thickness: t}
}

// shapeOK reports whether |t| == |c|-1, the one structural invariant that
// must hold regardless of sign/ordering checks.
func (e LayeredEarth) shapeOK() bool {
	return len(e.Thickness) == len(e.Conductivity)-1
}

// DummyThickness returns the reference thickness vector extended by one
// "dummy" half-space layer, used to scale Wc/Ws/Wq by t_l/mean(t)
// (spec.md §4.1; original_source csbsinverter.h initialise_Wc).
//
// For L==1 the dummy thickness is 1 (unit weight). For L==2 the dummy
// layer duplicates the single real thickness. For L>=3 the dummy layer is
// t[L-2]^2 / t[L-3].
func (e LayeredEarth) DummyThickness() []float64 {
	l := e.NumLayers()
	t := make([]float64, l)
	switch {
	case l == 1:
		t[0] = 1
	case l == 2:
		t[0] = e.Thickness[0]
		t[1] = e.Thickness[0]
	default:
		copy(t, e.Thickness)
		t[l-1] = (t[l-2] / t[l-3]) * t[l-2]
	}
	return t
}

// MeanThickness is mean(DummyThickness()).
func (e LayeredEarth) MeanThickness() float64 {
	t := e.DummyThickness()
	return mean(t)
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

// Siblings bundles the reference, standard-deviation, min, max and
// inverted earth variants that accompany a LayeredEarth through the
// inversion (spec.md §3).
type Siblings struct {
	Ref LayeredEarth
	Std LayeredEarth
	Min LayeredEarth
	Max LayeredEarth
	Inv LayeredEarth
}

// Validate checks the invariants of spec.md §3 and original_source's
// cEarthStruct::sanity_check: |c|=L, |t|=L-1, all c>0, all t>0, and
// min<ref<max, min<max component-wise whenever min/max are present.
// All violations are aggregated into a single error, matching the
// original's single ostringstream of messages.
func (s Siblings) Validate() error {
	var msgs []string
	check := func(name string, e LayeredEarth, want int) {
		if name != "ref" && e.NumLayers() == 0 && len(e.Thickness) == 0 {
			return // absent sibling
		}
		if !e.shapeOK() {
			msgs = append(msgs, fmt.Sprintf("%s: thickness length %d does not match conductivity length %d - 1", name, len(e.Thickness), len(e.Conductivity)))
		}
		if want >= 0 && e.NumLayers() != want && e.NumLayers() != 0 {
			msgs = append(msgs, fmt.Sprintf("%s: has %d layers, expected %d", name, e.NumLayers(), want))
		}
	}
	l := s.Ref.NumLayers()
	check("ref", s.Ref, l)
	check("std", s.Std, l)
	check("min", s.Min, l)
	check("max", s.Max, l)

	if minAny(s.Ref.Conductivity) <= 0 {
		msgs = append(msgs, "conductivity ref is <= 0 in at least one layer")
	}
	if len(s.Std.Conductivity) > 0 && minAny(s.Std.Conductivity) <= 0 {
		msgs = append(msgs, "conductivity std is <= 0 in at least one layer")
	}
	if len(s.Ref.Thickness) > 0 && minAny(s.Ref.Thickness) <= 0 {
		msgs = append(msgs, "thickness ref is <= 0 in at least one layer")
	}
	if len(s.Std.Thickness) > 0 && minAny(s.Std.Thickness) <= 0 {
		msgs = append(msgs, "thickness std is <= 0 in at least one layer")
	}

	if len(s.Min.Conductivity) > 0 {
		for i := range s.Min.Conductivity {
			if s.Min.Conductivity[i] <= 0 {
				msgs = append(msgs, "conductivity min is <= 0 in at least one layer")
				break
			}
		}
		for i := range s.Min.Conductivity {
			if s.Max.Conductivity[i] <= s.Min.Conductivity[i] {
				msgs = append(msgs, "conductivity max <= min in at least one layer")
				break
			}
		}
		for i := range s.Ref.Conductivity {
			if s.Ref.Conductivity[i] <= s.Min.Conductivity[i] {
				msgs = append(msgs, "conductivity ref <= min in at least one layer")
				break
			}
			if s.Ref.Conductivity[i] >= s.Max.Conductivity[i] {
				msgs = append(msgs, "conductivity ref >= max in at least one layer")
				break
			}
		}
	}

	if len(s.Min.Thickness) > 0 {
		for i := range s.Min.Thickness {
			if s.Min.Thickness[i] <= 0 {
				msgs = append(msgs, "thickness min is <= 0 in at least one layer")
				break
			}
		}
		for i := range s.Min.Thickness {
			if s.Max.Thickness[i] <= s.Min.Thickness[i] {
				msgs = append(msgs, "thickness max <= min in at least one layer")
				break
			}
		}
		for i := range s.Ref.Thickness {
			if s.Ref.Thickness[i] <= s.Min.Thickness[i] {
				msgs = append(msgs, "thickness ref <= min in at least one layer")
				break
			}
			if s.Ref.Thickness[i] >= s.Max.Thickness[i] {
				msgs = append(msgs, "thickness ref >= max in at least one layer")
				break
			}
		}
	}

	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid earth configuration:\n%s", strings.Join(msgs, "\n"))
}

func minAny(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		if x < m {
			m = x
		}
	}
	return m
}
