// Package posterior accumulates an RJ-MCMC ensemble into the aggregate
// statistics a sounding report publishes: the PPD position×value
// histogram, the interface-depth and layer-count histograms, summary
// models derived from the PPD, and per-nuisance/per-noise statistics.
// Grounded in original_source/src/rjmcmc1d.h's rjMcMC1DppdMap /
// rjMcMC1DNuisanceMap / rjMcMC1DNoiseMap.
package posterior

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"tdeminv/pkg/rjmcmc"
)

// Grid configures the PPD histogram resolution over spec.md §4.3's
// "grid np x nv over (0,pmax) x (vmin,vmax)".
type Grid struct {
	NPositionBins int
	NValueBins    int
	PMax          float64
	VMin, VMax    float64
	NLMin, NLMax  int
}

// Maps is the accumulated PosteriorMaps for one sounding (spec.md §4.3
// item 8 / §6 "RJ-MCMC output").
type Maps struct {
	grid Grid

	// PPD[pi][vi] is the position x value 2-D histogram.
	PPD [][]int

	// InterfaceDepth[pi] counts interfaces (excluding layer 0) falling
	// in position bin pi.
	InterfaceDepth []int

	// LayerCount[L-nl_min] counts samples with that layer count.
	LayerCount []int

	NSamples int

	nuisanceValues [][]float64
	noiseValues    [][]float64
}

// NewMaps allocates empty histograms for the given grid.
func NewMaps(g Grid) *Maps {
	ppd := make([][]int, g.NPositionBins)
	for i := range ppd {
		ppd[i] = make([]int, g.NValueBins)
	}
	return &Maps{
		grid:           g,
		PPD:            ppd,
		InterfaceDepth: make([]int, g.NPositionBins),
		LayerCount:     make([]int, g.NLMax-g.NLMin+1),
	}
}

func (m *Maps) positionBin(p float64) (int, bool) {
	if p < 0 || p >= m.grid.PMax {
		return 0, false
	}
	bi := int(p / m.grid.PMax * float64(m.grid.NPositionBins))
	if bi >= m.grid.NPositionBins {
		bi = m.grid.NPositionBins - 1
	}
	return bi, true
}

func (m *Maps) valueBin(v float64) (int, bool) {
	if v < m.grid.VMin || v >= m.grid.VMax {
		return 0, false
	}
	span := m.grid.VMax - m.grid.VMin
	bi := int((v - m.grid.VMin) / span * float64(m.grid.NValueBins))
	if bi >= m.grid.NValueBins {
		bi = m.grid.NValueBins - 1
	}
	return bi, true
}

// Add accumulates one included model into the histograms, per spec.md
// §4.3's PPD/interface-depth/layer-count/nuisance/noise bookkeeping.
// The caller is responsible for the sample-inclusion gate
// (rjmcmc.Sampler.shouldIncludeInMaps plus T==1.0).
func (m *Maps) Add(model rjmcmc.Model) {
	m.NSamples++

	for pi := 0; pi < m.grid.NPositionBins; pi++ {
		pos := (float64(pi) + 0.5) / float64(m.grid.NPositionBins) * m.grid.PMax
		li := model.WhichLayer(pos)
		if vi, ok := m.valueBin(model.Layers[li].Value); ok {
			m.PPD[pi][vi]++
		}
	}

	for li := 1; li < model.NLayers(); li++ {
		if pi, ok := m.positionBin(model.Layers[li].Top); ok {
			m.InterfaceDepth[pi]++
		}
	}

	lcIdx := model.NLayers() - m.grid.NLMin
	if lcIdx >= 0 && lcIdx < len(m.LayerCount) {
		m.LayerCount[lcIdx]++
	}

	if m.nuisanceValues == nil && model.NNuisances() > 0 {
		m.nuisanceValues = make([][]float64, model.NNuisances())
	}
	for i, v := range model.Nuisances {
		m.nuisanceValues[i] = append(m.nuisanceValues[i], v)
	}

	if m.noiseValues == nil && model.NNoises() > 0 {
		m.noiseValues = make([][]float64, model.NNoises())
	}
	for i, v := range model.Noises {
		m.noiseValues[i] = append(m.noiseValues[i], v)
	}
}

// BuildMaps runs Add over every ensemble member of an RJ-MCMC result.
func BuildMaps(g Grid, res *rjmcmc.Result) *Maps {
	m := NewMaps(g)
	for _, model := range res.Ensemble {
		m.Add(model)
	}
	return m
}

// SummaryModel is one position bin's marginal-value summary: mean,
// mode (argmax histogram bin) and the 10/50/90 percentiles, per
// spec.md §4.3 "Summary models".
type SummaryModel struct {
	Position          float64
	Mean, Mode         float64
	P10, P50, P90      float64
}

// SummaryModels computes one SummaryModel per position bin from the PPD
// matrix (spec.md §4.3, "From the PPD matrix, per position bin compute
// mean, mode, and 10/50/90 percentiles of the marginal value
// distribution").
func (m *Maps) SummaryModels() []SummaryModel {
	out := make([]SummaryModel, m.grid.NPositionBins)
	binWidth := (m.grid.VMax - m.grid.VMin) / float64(m.grid.NValueBins)

	for pi := 0; pi < m.grid.NPositionBins; pi++ {
		out[pi].Position = (float64(pi) + 0.5) / float64(m.grid.NPositionBins) * m.grid.PMax

		row := m.PPD[pi]
		total := 0
		for _, c := range row {
			total += c
		}
		if total == 0 {
			continue
		}

		meanNum := 0.0
		modeBin, modeCount := 0, -1
		for vi, c := range row {
			center := m.grid.VMin + (float64(vi)+0.5)*binWidth
			meanNum += center * float64(c)
			if c > modeCount {
				modeCount = c
				modeBin = vi
			}
		}
		out[pi].Mean = meanNum / float64(total)
		out[pi].Mode = m.grid.VMin + (float64(modeBin)+0.5)*binWidth

		out[pi].P10 = m.percentile(row, total, 0.10, binWidth)
		out[pi].P50 = m.percentile(row, total, 0.50, binWidth)
		out[pi].P90 = m.percentile(row, total, 0.90, binWidth)
	}
	return out
}

// percentile walks the histogram's cumulative distribution to locate
// the bin containing fraction q of the mass, returning that bin's
// center value.
func (m *Maps) percentile(row []int, total int, q, binWidth float64) float64 {
	target := q * float64(total)
	cum := 0.0
	for vi, c := range row {
		cum += float64(c)
		if cum >= target {
			return m.grid.VMin + (float64(vi)+0.5)*binWidth
		}
	}
	return m.grid.VMax - binWidth/2
}

// ParamStats is the mean/stddev/histogram summary for one
// nuisance or noise parameter's sampled value vector, using gonum/stat
// exactly as the teacher's reconstruction metrics do.
type ParamStats struct {
	Mean, StdDev float64
	Histogram    []int
}

// NuisanceStats builds per-nuisance mean/stddev/histogram summaries,
// grounded in original_source's rjMcMC1DNuisanceMap.
func (m *Maps) NuisanceStats(nbins int) []ParamStats {
	return paramStats(m.nuisanceValues, nbins)
}

// NoiseStats builds per-noise mean/stddev/histogram summaries,
// grounded in original_source's rjMcMC1DNoiseMap.
func (m *Maps) NoiseStats(nbins int) []ParamStats {
	return paramStats(m.noiseValues, nbins)
}

func paramStats(values [][]float64, nbins int) []ParamStats {
	out := make([]ParamStats, len(values))
	for i, v := range values {
		if len(v) == 0 {
			continue
		}
		out[i].Mean = stat.Mean(v, nil)
		out[i].StdDev = math.Sqrt(stat.Variance(v, nil))
		out[i].Histogram = histogram(v, nbins)
	}
	return out
}

func histogram(v []float64, nbins int) []int {
	lo, hi := v[0], v[0]
	for _, x := range v {
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	hist := make([]int, nbins)
	if hi <= lo {
		hist[0] = len(v)
		return hist
	}
	width := (hi - lo) / float64(nbins)
	for _, x := range v {
		bi := int((x - lo) / width)
		if bi >= nbins {
			bi = nbins - 1
		}
		if bi < 0 {
			bi = 0
		}
		hist[bi]++
	}
	return hist
}

// CorrelationMatrix computes the pairwise Pearson correlation across a
// set of equal-length per-parameter value vectors, matching the
// teacher's gonum/stat.Correlation usage pattern
// (pkg/reconstruction/reconstructor.go's calculateEdgePreservation).
func CorrelationMatrix(values [][]float64) [][]float64 {
	n := len(values)
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		out[i][i] = 1
		for j := i + 1; j < n; j++ {
			c := stat.Correlation(values[i], values[j], nil)
			out[i][j] = c
			out[j][i] = c
		}
	}
	return out
}

// sortedCopy returns a sorted copy, used by tests validating percentile
// behaviour against a direct order-statistic computation.
func sortedCopy(v []float64) []float64 {
	c := append([]float64(nil), v...)
	sort.Float64s(c)
	return c
}
