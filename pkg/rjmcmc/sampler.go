package rjmcmc

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/geometry"
)

// NuisanceSpec describes one invertible geometry scalar carried as an
// RJ-MCMC nuisance parameter (spec.md §3, "nuisances ... value, min,
// max, sd_change, typestring").
type NuisanceSpec struct {
	GeometryElement int // index into geometry.ElementNames
	Init            float64
	Min, Max        float64
	SDValueChange   float64
}

// NoiseSpec describes one multiplicative noise-magnitude process acting
// additively on the per-datum variance over a half-open data range
// [DataFrom,DataTo) of the active data vector (spec.md §3, "multiplicative
// noise processes (value, min, max, sd_change, [d_lo,d_hi))").
type NoiseSpec struct {
	Init          float64
	Min, Max      float64
	SDValueChange float64
	DataFrom, DataTo int
}

// Options configures one sounding's RJ-MCMC run (spec.md §4.3
// "Configuration").
type Options struct {
	NLMin, NLMax int
	VMin, VMax   float64 // value bounds, in the parameterization below
	PMax         float64 // maximum interface depth
	ValueLog10   bool    // param_value: true=log10, false=linear

	LogStdDecades       float64
	MoveStdFraction     float64
	BirthDeathFromPrior bool

	NChains         int
	TemperatureHigh float64
	NSamples        int
	NBurnin         int
	ThinRate        int

	Nuisances []NuisanceSpec
	Noises    []NoiseSpec
}

// ProposalStats tracks the proposed/accepted counts of one kernel on one
// chain, used for the per-kernel acceptance rates of spec.md §4.3/§6.
type ProposalStats struct {
	NProposed, NAccepted int
}

func (p *ProposalStats) propose() { p.NProposed++ }
func (p *ProposalStats) accept()  { p.NAccepted++ }

// AcceptRate is the percentage of proposals of this kernel accepted.
func (p ProposalStats) AcceptRate() float64 {
	if p.NProposed == 0 {
		return 0
	}
	return 100.0 * float64(p.NAccepted) / float64(p.NProposed)
}

// ConvergenceHistory is the per-chain convergence record of spec.md §6
// ("per-chain convergence tables"), appended on the sampler's report
// schedule.
type ConvergenceHistory struct {
	Sample      []int
	Temperature []float64
	NLayers     []int
	Misfit      []float64
	LogPPD      []float64

	ArValueChange, ArMove, ArBirth, ArDeath, ArNuisance, ArNoise []float64
}

// Chain is one tempered Markov chain.
type Chain struct {
	Model       Model
	Temperature float64

	ValueChange, Move, Birth, Death, Nuisance, Noise ProposalStats
	SwapHistogram                                    []int
	History                                           ConvergenceHistory
}

// Result is the output of Sampler.Run: the best models found on the
// cold (T=1) chain, its raw accepted ensemble (spec.md §4.3's "sample
// inclusion" subset), and every chain's convergence history for
// pkg/posterior to summarise.
type Result struct {
	HighestLikelihood Model
	LowestMisfit      Model
	Ensemble          []Model
	Chains            []Chain
}

// Sampler runs the RJ-MCMC sampler for one sounding against a
// ForwardSystem collaborator (spec.md §4.3, "RjMcMCSampler").
type Sampler struct {
	Options Options
	Forward forward.ForwardSystem
	Logical bunch.LogicalSpec
	Active  bunch.ActiveData

	BaseGeometry geometry.Geometry

	// Obs/Err are the active-data-length (culled) observation and noise
	// estimate vectors, in the same order as Active selects from the
	// logical D_all vector.
	Obs, Err []float64

	rng *rand.Rand
}

// NewSampler builds a Sampler with its own private random source seeded
// from seed, so runs are reproducible.
func NewSampler(o Options, fsys forward.ForwardSystem, logical bunch.LogicalSpec, active bunch.ActiveData, baseGeom geometry.Geometry, obs, err []float64, seed int64) *Sampler {
	return &Sampler{
		Options: o, Forward: fsys, Logical: logical, Active: active,
		BaseGeometry: baseGeom, Obs: obs, Err: err,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (s *Sampler) urand(min, max float64) float64 {
	return distuv.Uniform{Min: min, Max: max, Src: s.rng}.Rand()
}

func (s *Sampler) nrand() float64 {
	return distuv.Normal{Mu: 0, Sigma: 1, Src: s.rng}.Rand()
}

func (s *Sampler) logUnif() float64 {
	return math.Log(s.urand(0, 1))
}

func (s *Sampler) irand(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.Intn(hi-lo+1)
}

func gaussianPDF(mu, sigma, x float64) float64 {
	return distuv.Normal{Mu: mu, Sigma: sigma}.Prob(x)
}

// forwardPredict computes the logical, active-data-length prediction
// vector for a model's current earth/nuisance state.
func (s *Sampler) forwardPredict(m Model) ([]float64, error) {
	e := m.ToEarth(s.Options.ValueLog10)
	g := s.BaseGeometry
	for i, ns := range s.Options.Nuisances {
		g.Set(ns.GeometryElement, m.Nuisances[i])
	}
	raw, err := s.Forward.Forward(e, g)
	if err != nil {
		return nil, err
	}
	logical := s.Logical.FromRaw(raw)
	return s.Active.Cull(logical), nil
}

// computeMisfit runs the forward model and sets Predicted,
// ResidualsSquared, Var and Misfit per spec.md §3:
//
//	res2[i]  = ((obs_i - g_i)/obs_i)^2
//	nvar[i]  = (err_i/obs_i)^2 + sum of noise_k^2 over k covering i
//	misfit   = sum(res2/nvar) + sum(log(nvar))
func (s *Sampler) computeMisfit(m *Model) error {
	pred, err := s.forwardPredict(*m)
	if err != nil {
		return err
	}
	n := len(s.Obs)
	res2 := make([]float64, n)
	for i := range s.Obs {
		rd := (s.Obs[i] - pred[i]) / s.Obs[i]
		res2[i] = rd * rd
	}
	nvar := make([]float64, n)
	for i := range s.Obs {
		nvar[i] = (s.Err[i] / s.Obs[i]) * (s.Err[i] / s.Obs[i])
	}
	for ni, ns := range s.Options.Noises {
		v := m.Noises[ni]
		for di := ns.DataFrom; di < ns.DataTo && di < n; di++ {
			nvar[di] += v * v
		}
	}
	m.Predicted = pred
	m.ResidualsSquared = res2
	m.Var = nvar

	negloglike := 0.0
	for i := 0; i < n; i++ {
		negloglike += res2[i]/nvar[i] + math.Log(nvar[i])
	}
	m.Misfit = negloglike
	return nil
}

// applyNoiseChange updates the misfit incrementally for a magnitude
// change of noise process ni, without re-running the forward model, per
// spec.md §4.3's "Noise change" rule: subtract the old nvar[i]
// contribution, add the new one, for i in [d_lo,d_hi) only.
func (s *Sampler) applyNoiseChange(m *Model, ni int, newValue float64) {
	ns := s.Options.Noises[ni]
	oldValue := m.Noises[ni]
	negloglike := m.Misfit
	for di := ns.DataFrom; di < ns.DataTo && di < len(m.Var); di++ {
		varOld := m.Var[di]
		negloglike -= m.ResidualsSquared[di]/varOld + math.Log(varOld)
		varNew := varOld - oldValue*oldValue + newValue*newValue
		m.Var[di] = varNew
		negloglike += m.ResidualsSquared[di]/varNew + math.Log(varNew)
	}
	m.Noises[ni] = newValue
	m.Misfit = negloglike
}

// normalisedMisfit mirrors original_source's standard_l2misfit, an
// alternative misfit normalisation used only to pick the best-fitting
// model for reporting (LowestMisfit), independent of the Bayesian
// misfit used for acceptance.
func (s *Sampler) normalisedMisfit(m Model) float64 {
	sum := 0.0
	for i := range s.Obs {
		nr2 := m.ResidualsSquared[i] * (s.Obs[i] * s.Obs[i]) / (s.Err[i] * s.Err[i])
		sum += nr2
	}
	return sum / float64(len(s.Obs))
}

func (s *Sampler) temperatureLadder() []float64 {
	n := s.Options.NChains
	t := make([]float64, n)
	if n == 1 {
		t[0] = 1
		return t
	}
	logLo, logHi := 0.0, math.Log10(s.Options.TemperatureHigh)
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		t[i] = math.Pow(10, logLo+frac*(logHi-logLo))
	}
	return t
}

// choosefromprior draws a model from the prior: uniform layer count,
// uniform interface positions and values, nuisances at their initial
// values and noises drawn uniformly from their prior range (spec.md §4.3
// "If k=0").
func (s *Sampler) choosefromprior() (Model, error) {
	var m Model
	nl := s.irand(s.Options.NLMin, s.Options.NLMax)
	positions := make([]float64, nl)
	positions[0] = 0
	for i := 1; i < nl; i++ {
		positions[i] = s.urand(0, s.Options.PMax)
	}
	for i := 1; i < nl; i++ {
		for j := i + 1; j < nl; j++ {
			if positions[j] < positions[i] {
				positions[i], positions[j] = positions[j], positions[i]
			}
		}
	}
	m.Layers = make([]Layer, nl)
	for i := 0; i < nl; i++ {
		m.Layers[i] = Layer{Top: positions[i], Value: s.urand(s.Options.VMin, s.Options.VMax)}
	}

	m.Nuisances = make([]float64, len(s.Options.Nuisances))
	for i, ns := range s.Options.Nuisances {
		m.Nuisances[i] = ns.Init
	}
	m.Noises = make([]float64, len(s.Options.Noises))
	for i, ns := range s.Options.Noises {
		m.Noises[i] = s.urand(ns.Min, ns.Max)
	}

	if err := s.computeMisfit(&m); err != nil {
		return Model{}, fmt.Errorf("rjmcmc: prior draw forward model failed: %w", err)
	}
	return m, nil
}
