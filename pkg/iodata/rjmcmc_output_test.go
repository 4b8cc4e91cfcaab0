package iodata

import (
	"strings"
	"testing"

	"tdeminv/pkg/posterior"
	"tdeminv/pkg/rjmcmc"
)

func TestWriteRJMCMCReportIncludesAllSections(t *testing.T) {
	opts := rjmcmc.Options{NLMin: 1, NLMax: 3, VMin: -2, VMax: 1, PMax: 100, NChains: 2, NSamples: 10}
	g := posterior.Grid{NPositionBins: 2, NValueBins: 2, PMax: 100, VMin: -2, VMax: 1, NLMin: 1, NLMax: 3}
	maps := posterior.NewMaps(g)
	maps.Add(rjmcmc.Model{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}, {Top: 50, Value: -0.5}}})

	res := &rjmcmc.Result{
		HighestLikelihood: rjmcmc.Model{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}}, Misfit: 1.2},
		LowestMisfit:      rjmcmc.Model{Layers: []rjmcmc.Layer{{Top: 0, Value: -1.1}}, Misfit: 0.9},
		Chains: []rjmcmc.Chain{
			{Temperature: 1.0, History: rjmcmc.ConvergenceHistory{NLayers: []int{1, 2}, Misfit: []float64{1.0, 0.9}}},
		},
	}

	var buf strings.Builder
	if err := WriteRJMCMCReport(&buf, opts, []float64{1, 2, 3}, []float64{0.1, 0.1, 0.1}, res, maps, false); err != nil {
		t.Fatalf("WriteRJMCMCReport: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"## Configuration", "## Observations", "## Grids", "## PPDHistogram",
		"## InterfaceDepthHistogram", "## LayerCountHistogram", "## SummaryModels",
		"## NuisanceHistograms", "## NoiseHistograms", "## BestModels", "## Chains",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected section %q in report, not found", want)
		}
	}
	if strings.Contains(out, "## Ensemble") {
		t.Errorf("did not request saveChains, but Ensemble section was written")
	}
}

func TestWriteRJMCMCReportWritesEnsembleWhenSaveChainsSet(t *testing.T) {
	opts := rjmcmc.Options{NLMin: 1, NLMax: 2, VMin: -2, VMax: 1, PMax: 100}
	g := posterior.Grid{NPositionBins: 1, NValueBins: 1, PMax: 100, VMin: -2, VMax: 1, NLMin: 1, NLMax: 2}
	maps := posterior.NewMaps(g)
	res := &rjmcmc.Result{
		Ensemble: []rjmcmc.Model{{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}}}},
	}

	var buf strings.Builder
	if err := WriteRJMCMCReport(&buf, opts, nil, nil, res, maps, true); err != nil {
		t.Fatalf("WriteRJMCMCReport: %v", err)
	}
	if !strings.Contains(buf.String(), "## Ensemble") {
		t.Errorf("expected Ensemble section when saveChains is true")
	}
}
