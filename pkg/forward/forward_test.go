package forward

import (
	"math"
	"testing"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/geometry"
)

func TestSurveySpecIndexing(t *testing.T) {
	spec := NewSurveySpec([]int{2, 3})
	if spec.N() != 2*3+3*3 {
		t.Fatalf("expected %d samples, got %d", 2*3+3*3, spec.N())
	}
	seen := make(map[int]bool)
	for sys, nw := range []int{2, 3} {
		for _, comp := range []Component{CompX, CompY, CompZ} {
			for w := 0; w < nw; w++ {
				i := spec.Index(sys, comp, w)
				if i < 0 {
					t.Fatalf("missing index for sys=%d comp=%v w=%d", sys, comp, w)
				}
				if seen[i] {
					t.Fatalf("duplicate index %d", i)
				}
				seen[i] = true
			}
		}
	}
	if spec.Index(5, CompX, 0) != -1 {
		t.Fatal("expected -1 for unknown sample")
	}
}

func TestReferenceSystemForwardFinite(t *testing.T) {
	sys := NewReferenceSystem([]int{8}, 1e-5, 1e-2)
	e := earth.LayeredEarth{Conductivity: []float64{0.1, 0.01}, Thickness: []float64{30}}
	var g geometry.Geometry
	g.SetByName("tx_height", 30)

	pred, err := sys.Forward(e, g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pred) != sys.Spec().N() {
		t.Fatalf("expected %d predictions, got %d", sys.Spec().N(), len(pred))
	}
	for _, v := range pred {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite prediction: %v", pred)
		}
	}
}

func TestReferenceSystemJacobianShape(t *testing.T) {
	sys := NewReferenceSystem([]int{4}, 1e-5, 1e-2)
	e := earth.LayeredEarth{Conductivity: []float64{0.1, 0.05, 0.02}, Thickness: []float64{20, 40}}
	var g geometry.Geometry
	g.SetByName("tx_height", 30)

	req := DerivativeRequest{Conductivity: true, Thickness: true}
	_, J, err := sys.ForwardAndJacobian(e, g, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r, c := J.Dims()
	if r != sys.Spec().N() {
		t.Fatalf("expected %d rows, got %d", sys.Spec().N(), r)
	}
	wantCols := e.NumLayers() + e.NumLayers() - 1
	if c != wantCols {
		t.Fatalf("expected %d cols, got %d", wantCols, c)
	}
}
