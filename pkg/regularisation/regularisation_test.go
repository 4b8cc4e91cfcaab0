package regularisation

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/param"
)

func isSymmetric(m *mat.Dense) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > 1e-9 {
				return false
			}
		}
	}
	return true
}

// isPSD checks v'Mv >= 0 for a handful of random-ish probe vectors; a
// cheap proxy for positive semi-definiteness without a full eigenvalue
// decomposition.
func isPSD(m *mat.Dense) bool {
	n, _ := m.Dims()
	probes := [][]float64{}
	for i := 0; i < n; i++ {
		e := make([]float64, n)
		e[i] = 1
		probes = append(probes, e)
	}
	full := make([]float64, n)
	for i := range full {
		full[i] = 1
	}
	probes = append(probes, full)
	for _, p := range probes {
		v := mat.NewVecDense(n, p)
		var mv mat.VecDense
		mv.MulVec(m, v)
		val := mat.Dot(v, &mv)
		if val < -1e-9 {
			return false
		}
	}
	return true
}

func basicLayout() (param.Layout, []earth.LayeredEarth, []float64) {
	o := param.Options{NLayers: 3, SolveConductivity: true, SolveThickness: true}
	l := param.Build(o, 2)
	refs := []earth.LayeredEarth{
		{Conductivity: []float64{0.1, 0.05, 0.01}, Thickness: []float64{10, 20}},
		{Conductivity: []float64{0.2, 0.04, 0.02}, Thickness: []float64{15, 25}},
	}
	std := make([]float64, l.NParam)
	for i := range std {
		std[i] = 1
	}
	return l, refs, std
}

func TestWcZeroWhenConductivityNotSolved(t *testing.T) {
	o := param.Options{NLayers: 3, SolveThickness: true}
	l := param.Build(o, 1)
	b := Builder{Layout: l, Alphas: Alphas{C: 1}, RefEarths: []earth.LayeredEarth{{Conductivity: []float64{1, 1, 1}, Thickness: []float64{1, 1}}}, RefParamStd: make([]float64, l.NParam)}
	Wc := b.buildWc(l.NParam)
	for i := 0; i < l.NParam; i++ {
		for j := 0; j < l.NParam; j++ {
			if Wc.At(i, j) != 0 {
				t.Fatalf("expected zero Wc, got %v at (%d,%d)", Wc.At(i, j), i, j)
			}
		}
	}
}

func TestMatricesSymmetricPSD(t *testing.T) {
	l, refs, std := basicLayout()
	b := Builder{
		Layout:      l,
		Alphas:      Alphas{C: 1, T: 1, G: 1, S: 1, Q: 1},
		Smoothness:  Derivative2nd,
		RefEarths:   refs,
		RefParamStd: std,
	}
	m := b.Build()
	for name, mm := range map[string]*mat.Dense{
		"Wc": m.Wc, "Wt": m.Wt, "Wg": m.Wg, "Ws": m.Ws, "Wq": m.Wq, "Wr": m.Wr, "Wm": m.Wm,
	} {
		if !isSymmetric(mm) {
			t.Errorf("%s is not symmetric", name)
		}
		if !isPSD(mm) {
			t.Errorf("%s is not PSD", name)
		}
	}
}

func TestWsZeroBelowThreeLayers(t *testing.T) {
	o := param.Options{NLayers: 2, SolveConductivity: true}
	l := param.Build(o, 1)
	b := Builder{
		Layout:      l,
		Alphas:      Alphas{S: 10},
		RefEarths:   []earth.LayeredEarth{{Conductivity: []float64{0.1, 0.1}, Thickness: []float64{1}}},
		RefParamStd: make([]float64, l.NParam),
	}
	Ws := b.buildWs(l.NParam)
	for i := 0; i < l.NParam; i++ {
		for j := 0; j < l.NParam; j++ {
			if Ws.At(i, j) != 0 {
				t.Fatalf("expected zero Ws for L<3, got nonzero at (%d,%d)", i, j)
			}
		}
	}
}

func TestWqRowsSumToZeroHomogeneity(t *testing.T) {
	// indirectly verified via Wq being built from L with rows summing to
	// zero: L*[1,1,...,1]' == 0 for any sounding block.
	l, refs, std := basicLayout()
	b := Builder{Layout: l, Alphas: Alphas{Q: 1}, RefEarths: refs, RefParamStd: std}
	Wq := b.buildWq(l.NParam)
	ones := make([]float64, l.NParam)
	for i := range ones {
		ones[i] = 1
	}
	v := mat.NewVecDense(l.NParam, ones)
	var out mat.VecDense
	out.MulVec(Wq, v)
	for i := 0; i < l.NParam; i++ {
		if math.Abs(out.AtVec(i)) > 1e-9 {
			t.Fatalf("expected Wq*ones ~= 0 (homogeneity row sums to zero), got %v at %d", out.AtVec(i), i)
		}
	}
}
