package rjmcmc

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/earth"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/geometry"
)

// flatSystem is a trivial two-window ForwardSystem whose prediction is
// constant regardless of earth/geometry, sufficient for testing misfit
// bookkeeping without depending on forward-model realism.
type flatSystem struct {
	spec  forward.SurveySpec
	value float64
}

func newFlatSystem(value float64) *flatSystem {
	return &flatSystem{spec: forward.NewSurveySpec([]int{2}), value: value}
}

func (f *flatSystem) Spec() forward.SurveySpec { return f.spec }

func (f *flatSystem) Forward(e earth.LayeredEarth, g geometry.Geometry) ([]float64, error) {
	out := make([]float64, f.spec.N())
	for i := range out {
		out[i] = f.value
	}
	return out, nil
}

func (f *flatSystem) ForwardAndJacobian(e earth.LayeredEarth, g geometry.Geometry, req forward.DerivativeRequest) ([]float64, *mat.Dense, error) {
	pred, _ := f.Forward(e, g)
	return pred, mat.NewDense(len(pred), 0, nil), nil
}

func basicSampler(t *testing.T, noises []NoiseSpec) (*Sampler, Model) {
	t.Helper()
	sys := newFlatSystem(0.9)
	logical := bunch.NewLogicalSpec(sys.Spec(), bunch.ComponentSelection{X: true})
	obsRaw := make([]float64, sys.Spec().N())
	for i := range obsRaw {
		obsRaw[i] = 1.0
	}
	errRaw := make([]float64, sys.Spec().N())
	for i := range errRaw {
		errRaw[i] = 0.05
	}
	obsLogical := logical.FromRaw(obsRaw)
	errLogical := logical.FromRaw(errRaw)
	active, err := bunch.BuildActiveData(obsLogical, errLogical)
	if err != nil {
		t.Fatalf("BuildActiveData: %v", err)
	}

	opts := Options{
		NLMin: 1, NLMax: 3, VMin: -2, VMax: 1, PMax: 100,
		ValueLog10: true, LogStdDecades: 0.1, MoveStdFraction: 0.1,
		NChains: 1, TemperatureHigh: 1, NSamples: 1, NBurnin: 0, ThinRate: 1,
		Noises: noises,
	}
	s := NewSampler(opts, sys, logical, active, geometry.Geometry{}, active.Cull(obsLogical), active.Cull(errLogical), 42)

	m := Model{
		Layers:  []Layer{{Top: 0, Value: 0}},
		Noises:  make([]float64, len(noises)),
		Nuisances: nil,
	}
	for i, ns := range noises {
		m.Noises[i] = ns.Init
	}
	if err := s.computeMisfit(&m); err != nil {
		t.Fatalf("computeMisfit: %v", err)
	}
	return s, m
}

func TestIncrementalNoiseUpdateMatchesFullRecompute(t *testing.T) {
	noises := []NoiseSpec{{Init: 0.1, Min: 0, Max: 1, SDValueChange: 0.05, DataFrom: 0, DataTo: 2}}
	s, m := basicSampler(t, noises)

	incremental := m.Clone()
	s.applyNoiseChange(&incremental, 0, 0.3)

	fresh := m.Clone()
	fresh.Noises[0] = 0.3
	if err := s.computeMisfit(&fresh); err != nil {
		t.Fatalf("computeMisfit: %v", err)
	}

	rel := math.Abs(incremental.Misfit-fresh.Misfit) / math.Max(1e-300, math.Abs(fresh.Misfit))
	if rel > 1e-10 {
		t.Fatalf("incremental misfit %v does not match full recompute %v (rel=%v)", incremental.Misfit, fresh.Misfit, rel)
	}
}

func TestModelLayerOperations(t *testing.T) {
	m := Model{Layers: []Layer{{Top: 0, Value: -1}, {Top: 10, Value: -2}, {Top: 20, Value: -3}}}

	if !m.MoveInterface(1, 15, 100) {
		t.Fatalf("expected move to succeed")
	}
	if m.Layers[1].Top != 15 {
		t.Errorf("expected interface relocated to 15, got %v", m.Layers[1].Top)
	}
	if m.MoveInterface(0, 5, 100) {
		t.Errorf("expected move of interface 0 to be rejected")
	}

	if !m.DeleteInterface(1) {
		t.Fatalf("expected delete to succeed")
	}
	if m.NLayers() != 2 {
		t.Fatalf("expected 2 layers after delete, got %d", m.NLayers())
	}
	if m.DeleteInterface(0) {
		t.Errorf("expected delete of interface 0 to be rejected")
	}

	if !m.InsertInterface(5, -5, 100, -10, 10) {
		t.Fatalf("expected insert to succeed")
	}
	if m.NLayers() != 3 {
		t.Fatalf("expected 3 layers after insert, got %d", m.NLayers())
	}
	for i := 1; i < m.NLayers(); i++ {
		if m.Layers[i].Top <= m.Layers[i-1].Top {
			t.Fatalf("layers not sorted after insert: %v", m.Layers)
		}
	}
}

func TestSampleInclusionRule(t *testing.T) {
	s := &Sampler{Options: Options{NBurnin: 10, ThinRate: 5}}
	cases := []struct {
		si   int
		want bool
	}{
		{5, false},
		{10, true},
		{12, false},
		{15, true},
	}
	for _, c := range cases {
		if got := s.shouldIncludeInMaps(c.si); got != c.want {
			t.Errorf("shouldIncludeInMaps(%d) = %v, want %v", c.si, got, c.want)
		}
	}
}

func TestTemperatureLadderEndpoints(t *testing.T) {
	s := &Sampler{Options: Options{NChains: 4, TemperatureHigh: 100}}
	ladder := s.temperatureLadder()
	if ladder[0] != 1 {
		t.Errorf("expected ladder[0]==1, got %v", ladder[0])
	}
	if math.Abs(ladder[len(ladder)-1]-100) > 1e-9 {
		t.Errorf("expected ladder[last]==100, got %v", ladder[len(ladder)-1])
	}
	for i := 1; i < len(ladder); i++ {
		if ladder[i] < ladder[i-1] {
			t.Errorf("ladder not monotonic: %v", ladder)
		}
	}
}

func TestRunProducesEnsembleAndBestModels(t *testing.T) {
	s, _ := basicSampler(t, nil)
	s.Options.NSamples = 50
	s.Options.NBurnin = 5
	s.Options.ThinRate = 2

	res, err := s.Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Ensemble) == 0 {
		t.Errorf("expected a non-empty ensemble")
	}
	if res.HighestLikelihood.NLayers() == 0 {
		t.Errorf("expected a tracked highest-likelihood model")
	}
	if len(res.Chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(res.Chains))
	}
	if len(res.Chains[0].History.Sample) == 0 {
		t.Errorf("expected convergence history to be recorded")
	}
}
