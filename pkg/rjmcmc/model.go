// Package rjmcmc implements the RjMcMCSampler of spec.md §4.3: a
// reversible-jump Markov-chain Monte-Carlo sampler with parallel
// tempering over a variable-dimension layered-earth model, nuisance
// (geometry) parameters and multiplicative noise magnitudes. Grounded
// in original_source/src/rjmcmc1d.h's rjMcMC1DModel/cChain/cMcMC.
package rjmcmc

import (
	"math"
	"sort"

	"tdeminv/pkg/earth"
)

// Layer is one interface of the RJ-MCMC model: the depth to its top and
// its value (conductivity, linear or log10 per Options.ValueLog10).
// Layer 0 always has Top==0.
type Layer struct {
	Top   float64
	Value float64
}

// Model is a complete sample of the RJ-MCMC parameter space: a sorted
// stack of layers, an ordered nuisance vector, an ordered multiplicative
// noise-magnitude vector, and the cached quantities needed to compute
// and incrementally update the misfit (spec.md §3, "RJ-MCMC model").
type Model struct {
	Layers    []Layer
	Nuisances []float64
	Noises    []float64

	Predicted        []float64
	ResidualsSquared []float64
	Var              []float64 // nvar[i], spec.md §3

	Misfit float64
}

// Clone returns a deep copy, so a proposal can mutate a copy of the
// current chain model without disturbing it until/unless accepted.
func (m Model) Clone() Model {
	c := Model{
		Layers:    append([]Layer(nil), m.Layers...),
		Nuisances: append([]float64(nil), m.Nuisances...),
		Noises:    append([]float64(nil), m.Noises...),
		Predicted: append([]float64(nil), m.Predicted...),
		Var:       append([]float64(nil), m.Var...),
		Misfit:    m.Misfit,
	}
	c.ResidualsSquared = append([]float64(nil), m.ResidualsSquared...)
	return c
}

func (m Model) NLayers() int    { return len(m.Layers) }
func (m Model) NNuisances() int { return len(m.Nuisances) }
func (m Model) NNoises() int    { return len(m.Noises) }

// NParams is 2*nlayers (value + position per layer, minus the implicit
// top-of-stack) plus the nuisance count, used by LogPPD's Occam-factor
// term.
func (m Model) NParams() int { return 2*m.NLayers() - 1 + m.NNuisances() }

// LogPPD is the log posterior probability density up to an additive
// constant: -misfit/2 - log(nparams) (original_source rjMcMC1DModel::logppd).
func (m Model) LogPPD() float64 {
	return -m.Misfit/2.0 - math.Log(float64(m.NParams()))
}

func (m *Model) sortLayers() {
	sort.Slice(m.Layers, func(i, j int) bool { return m.Layers[i].Top < m.Layers[j].Top })
}

// WhichLayer returns the index of the layer containing depth pos.
func (m Model) WhichLayer(pos float64) int {
	for li := 0; li < m.NLayers()-1; li++ {
		if pos < m.Layers[li+1].Top {
			return li
		}
	}
	return m.NLayers() - 1
}

// MoveInterface relocates interface index to pnew, rejecting index 0
// (whose top is fixed at 0) and out-of-range depths.
func (m *Model) MoveInterface(index int, pnew, pmax float64) bool {
	if index <= 0 || index >= m.NLayers() {
		return false
	}
	if pnew <= 0 || pnew >= pmax {
		return false
	}
	m.Layers[index].Top = pnew
	m.sortLayers()
	return true
}

// InsertInterface adds a new interface at pos with value vbelow,
// rejecting positions coincident with an existing interface or outside
// (0,pmax)/[vmin,vmax].
func (m *Model) InsertInterface(pos, vbelow, pmax, vmin, vmax float64) bool {
	if pos < 0 || pos >= pmax {
		return false
	}
	if vbelow < vmin || vbelow > vmax {
		return false
	}
	const minThickness = 1e-9
	for _, l := range m.Layers {
		if math.Abs(pos-l.Top) < minThickness {
			return false
		}
	}
	top := pos
	if len(m.Layers) == 0 {
		top = 0
	}
	m.Layers = append(m.Layers, Layer{Top: top, Value: vbelow})
	m.sortLayers()
	return true
}

// DeleteInterface removes interface index (never index 0).
func (m *Model) DeleteInterface(index int) bool {
	if index <= 0 || index >= m.NLayers() {
		return false
	}
	m.Layers = append(m.Layers[:index], m.Layers[index+1:]...)
	return true
}

// Values returns the per-layer value vector.
func (m Model) Values() []float64 {
	v := make([]float64, m.NLayers())
	for i, l := range m.Layers {
		v[i] = l.Value
	}
	return v
}

// Thicknesses returns the nlayers-1 thickness vector implied by the
// sorted interface depths.
func (m Model) Thicknesses() []float64 {
	n := m.NLayers()
	if n == 0 {
		return nil
	}
	t := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		t[i] = m.Layers[i+1].Top - m.Layers[i].Top
	}
	return t
}

// ToEarth converts the model's layer stack into a earth.LayeredEarth,
// undoing the log10 value parameterization if valueLog10 is set.
func (m Model) ToEarth(valueLog10 bool) earth.LayeredEarth {
	c := m.Values()
	if valueLog10 {
		for i := range c {
			c[i] = math.Pow(10, c[i])
		}
	}
	return earth.LayeredEarth{Conductivity: c, Thickness: m.Thicknesses()}
}
