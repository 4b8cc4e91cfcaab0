// Package geometry implements the fixed-size named bag of transmitter/
// receiver scalar parameters (spec.md §3, "Geometry"). Per the design note
// in spec.md §9 ("named heterogeneous fields on Geometry"), every element
// is addressed by index; a case-insensitive name table maps names to
// indices, avoiding reflection or heap-allocated polymorphic field lists.
package geometry

import "strings"

// ElementNames is the fixed, ordered list of geometry element names. The
// declaration order here is the order used when a sounding's parameter
// block lays out its solved geometry elements (spec.md §3).
var ElementNames = []string{
	"tx_height",
	"tx_roll",
	"tx_pitch",
	"tx_yaw",
	"txrx_dx",
	"txrx_dy",
	"txrx_dz",
	"rx_roll",
	"rx_pitch",
	"rx_yaw",
}

// Size is the number of geometry elements.
func Size() int { return len(ElementNames) }

var nameIndex = buildNameIndex()

func buildNameIndex() map[string]int {
	m := make(map[string]int, len(ElementNames))
	for i, n := range ElementNames {
		m[strings.ToLower(n)] = i
	}
	return m
}

// IndexOf returns the index of a named element (case-insensitive), or -1
// if the name is unknown.
func IndexOf(name string) int {
	if i, ok := nameIndex[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

// Name returns the declared name of element i.
func Name(i int) string { return ElementNames[i] }

// Geometry is one instance of the fixed scalar element set.
type Geometry struct {
	Values [10]float64
}

// Get returns the value at index i.
func (g Geometry) Get(i int) float64 { return g.Values[i] }

// Set stores v at index i.
func (g *Geometry) Set(i int, v float64) { g.Values[i] = v }

// GetByName looks up by case-insensitive name; ok is false for an unknown
// name.
func (g Geometry) GetByName(name string) (v float64, ok bool) {
	i := IndexOf(name)
	if i < 0 {
		return 0, false
	}
	return g.Values[i], true
}

// SetByName stores v at the named element; ok is false for an unknown name.
func (g *Geometry) SetByName(name string, v float64) (ok bool) {
	i := IndexOf(name)
	if i < 0 {
		return false
	}
	g.Values[i] = v
	return true
}

// Siblings bundles the input/reference/std/min/max/true-frame/inverted
// Geometry variants carried alongside one sounding (spec.md §3).
type Siblings struct {
	Input Geometry
	Ref   Geometry
	Std   Geometry
	Min   Geometry
	Max   Geometry
	Tfr   Geometry // true frame
	Inv   Geometry
}

// Solve controls, per element, whether that geometry scalar participates
// in the inversion. Declared separately from Siblings because it is
// configuration, shared across all soundings in a bunch, not per-sounding
// state.
type Solve [10]bool

// AnySolved reports whether at least one geometry element is solved.
//
// spec.md §9 records this as an open question: the original source's
// solve_geometry() always returns true regardless of which individual
// elements are marked to solve. We treat "any element solved" as the
// correct semantics here and use it wherever the inverter needs to decide
// whether geometry derivatives/offsets participate at all.
func (s Solve) AnySolved() bool {
	for _, v := range s {
		if v {
			return true
		}
	}
	return false
}

// Count returns the number of solved elements.
func (s Solve) Count() int {
	n := 0
	for _, v := range s {
		if v {
			n++
		}
	}
	return n
}
