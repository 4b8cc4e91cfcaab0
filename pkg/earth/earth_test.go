package earth

import "testing"

func TestDummyThicknessSingleLayer(t *testing.T) {
	e := LayeredEarth{Conductivity: []float64{0.1}}
	d := e.DummyThickness()
	if len(d) != 1 || d[0] != 1 {
		t.Fatalf("expected [1], got %v", d)
	}
}

func TestDummyThicknessTwoLayers(t *testing.T) {
	e := LayeredEarth{Conductivity: []float64{0.1, 0.2}, Thickness: []float64{10}}
	d := e.DummyThickness()
	if len(d) != 2 || d[0] != 10 || d[1] != 10 {
		t.Fatalf("expected [10 10], got %v", d)
	}
}

func TestDummyThicknessThreeLayers(t *testing.T) {
	e := LayeredEarth{
		Conductivity: []float64{0.1, 0.2, 0.3},
		Thickness:    []float64{10, 20},
	}
	d := e.DummyThickness()
	want := (20.0 / 10.0) * 20.0
	if len(d) != 3 || d[2] != want {
		t.Fatalf("expected dummy %v, got %v", want, d)
	}
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	s := Siblings{
		Ref: LayeredEarth{Conductivity: []float64{0.1, 0.2}, Thickness: []float64{10}},
		Min: LayeredEarth{Conductivity: []float64{0.3, 0.05}, Thickness: []float64{1}},
		Max: LayeredEarth{Conductivity: []float64{0.05, 0.3}, Thickness: []float64{100}},
	}
	if err := s.Validate(); err == nil {
		t.Fatal("expected validation error for inverted bounds")
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	s := Siblings{
		Ref: LayeredEarth{Conductivity: []float64{0.1, 0.2}, Thickness: []float64{10}},
		Min: LayeredEarth{Conductivity: []float64{0.01, 0.01}, Thickness: []float64{1}},
		Max: LayeredEarth{Conductivity: []float64{1, 1}, Thickness: []float64{100}},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
