package posterior

import (
	"math"
	"testing"

	"tdeminv/pkg/rjmcmc"
)

func baseGrid() Grid {
	return Grid{NPositionBins: 10, NValueBins: 20, PMax: 100, VMin: -2, VMax: 1, NLMin: 1, NLMax: 5}
}

func TestLayerCountHistogramBinning(t *testing.T) {
	g := baseGrid()
	m := NewMaps(g)

	models := []rjmcmc.Model{
		{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}}},
		{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}, {Top: 10, Value: -0.5}}},
		{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}, {Top: 10, Value: -0.5}, {Top: 20, Value: 0}}},
	}
	for _, model := range models {
		m.Add(model)
	}

	if m.LayerCount[0] != 1 || m.LayerCount[1] != 1 || m.LayerCount[2] != 1 {
		t.Fatalf("unexpected layer count histogram: %v", m.LayerCount)
	}
	if m.NSamples != 3 {
		t.Fatalf("expected 3 samples tracked, got %d", m.NSamples)
	}
}

func TestInterfaceDepthHistogramSkipsLayerZero(t *testing.T) {
	g := baseGrid()
	m := NewMaps(g)

	model := rjmcmc.Model{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}, {Top: 55, Value: -1}}}
	m.Add(model)

	total := 0
	for _, c := range m.InterfaceDepth {
		total += c
	}
	if total != 1 {
		t.Fatalf("expected exactly one interface-depth increment (layer 0 excluded), got %d", total)
	}
}

func TestSummaryModelsRecoverConstantModel(t *testing.T) {
	g := baseGrid()
	m := NewMaps(g)

	model := rjmcmc.Model{Layers: []rjmcmc.Layer{{Top: 0, Value: -1}}}
	for i := 0; i < 1000; i++ {
		m.Add(model)
	}

	summaries := m.SummaryModels()
	for _, s := range summaries {
		if math.Abs(s.Mean-(-1)) > 0.1 {
			t.Errorf("position %v: expected mean near -1, got %v", s.Position, s.Mean)
		}
		if math.Abs(s.P50-(-1)) > 0.2 {
			t.Errorf("position %v: expected median near -1, got %v", s.Position, s.P50)
		}
	}
}

func TestNuisanceStatsMeanAndStdDev(t *testing.T) {
	g := baseGrid()
	m := NewMaps(g)

	values := []float64{1, 2, 3, 4, 5}
	for _, v := range values {
		model := rjmcmc.Model{
			Layers:    []rjmcmc.Layer{{Top: 0, Value: -1}},
			Nuisances: []float64{v},
		}
		m.Add(model)
	}

	stats := m.NuisanceStats(5)
	if len(stats) != 1 {
		t.Fatalf("expected 1 nuisance stats entry, got %d", len(stats))
	}
	if math.Abs(stats[0].Mean-3.0) > 1e-9 {
		t.Errorf("expected mean 3.0, got %v", stats[0].Mean)
	}
	if stats[0].StdDev <= 0 {
		t.Errorf("expected positive stddev, got %v", stats[0].StdDev)
	}
}

func TestCorrelationMatrixDiagonalIsOne(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{5, 3, 1, 4, 2}
	corr := CorrelationMatrix([][]float64{a, b})

	if math.Abs(corr[0][0]-1) > 1e-9 || math.Abs(corr[1][1]-1) > 1e-9 {
		t.Fatalf("expected unit diagonal, got %v", corr)
	}
	if corr[0][1] != corr[1][0] {
		t.Fatalf("expected symmetric correlation matrix, got %v", corr)
	}
}

func TestPercentileMatchesSortedOrderStatistic(t *testing.T) {
	g := baseGrid()
	m := NewMaps(g)

	raw := []float64{-1.9, -1.5, -1.1, -0.7, -0.3, 0.1, 0.5, 0.9}
	for _, v := range raw {
		model := rjmcmc.Model{Layers: []rjmcmc.Layer{{Top: 0, Value: v}}}
		m.Add(model)
	}

	sorted := sortedCopy(raw)
	medianApprox := sorted[(len(sorted)-1)/2]

	s := m.SummaryModels()[0]
	if math.Abs(s.P50-medianApprox) > 0.3 {
		t.Errorf("binned median %v too far from order-statistic median %v", s.P50, medianApprox)
	}
}
