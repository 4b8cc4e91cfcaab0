package forward

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"

	"tdeminv/pkg/earth"
	"tdeminv/pkg/geometry"
)

// fftPlanCache memoises fourier.FFT plans keyed by transform length,
// guarded by a single mutex. spec.md §5 calls out that "the FFT workspace
// used by the forward model requires a process-wide mutex for
// initialisation and teardown only" — this is that workspace, built the
// same way the teacher's pkg/shearlet/fft.go wraps fourier.NewFFT.
type fftPlanCache struct {
	mu    sync.Mutex
	plans map[int]*fourier.FFT
}

func newFFTPlanCache() *fftPlanCache {
	return &fftPlanCache{plans: make(map[int]*fourier.FFT)}
}

func (c *fftPlanCache) plan(n int) *fourier.FFT {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.plans[n]
	if !ok {
		p = fourier.NewFFT(n)
		c.plans[n] = p
	}
	return p
}

// sharedFFTPlans is process-wide: every ReferenceSystem instance shares
// one cache, matching the "process-wide mutex" language of spec.md §5
// rather than per-instance locking.
var sharedFFTPlans = newFFTPlanCache()

// smooth low-pass filters x by zeroing the upper half of its real FFT
// spectrum and transforming back, standing in for the windowed
// convolution a real step-response forward model applies against the
// transmitter waveform.
func smooth(x []float64) []float64 {
	n := len(x)
	if n < 4 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}
	plan := sharedFFTPlans.plan(n)
	coeff := make([]complex128, n/2+1)
	plan.Coefficients(coeff, x)
	for i := len(coeff) / 2; i < len(coeff); i++ {
		coeff[i] = 0
	}
	out := make([]float64, n)
	plan.Sequence(out, coeff)
	return out
}

// ReferenceSystem is a synthetic ForwardSystem used for tests and as a
// runnable stand-in where no production EM physics engine is wired. It is
// not a TDEM physics model (that is explicitly out of scope, spec.md §1);
// it produces a smooth, differentiable, layer- and geometry-sensitive
// response so the Gauss-Newton and RJ-MCMC cores have something real to
// converge against in tests.
type ReferenceSystem struct {
	spec             SurveySpec
	windowsPerSystem []int
	windowTimes      [][]float64 // per system, window center times, seconds
}

// NewReferenceSystem builds a ReferenceSystem with one window-time axis
// per EM system, logarithmically spaced between tMin and tMax.
func NewReferenceSystem(windowsPerSystem []int, tMin, tMax float64) *ReferenceSystem {
	times := make([][]float64, len(windowsPerSystem))
	for sys, nw := range windowsPerSystem {
		times[sys] = logspace(tMin, tMax, nw)
	}
	return &ReferenceSystem{
		spec:             NewSurveySpec(windowsPerSystem),
		windowsPerSystem: windowsPerSystem,
		windowTimes:      times,
	}
}

func logspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = a
		return out
	}
	la, lb := math.Log10(a), math.Log10(b)
	for i := 0; i < n; i++ {
		f := float64(i) / float64(n-1)
		out[i] = math.Pow(10, la+f*(lb-la))
	}
	return out
}

func (s *ReferenceSystem) Spec() SurveySpec { return s.spec }

// rawFields computes, per system, the X/Y/Z response before smoothing.
func (s *ReferenceSystem) rawFields(e earth.LayeredEarth, g geometry.Geometry) [][3][]float64 {
	out := make([][3][]float64, len(s.windowsPerSystem))

	depth := make([]float64, e.NumLayers())
	d := 0.0
	for l := 0; l < e.NumLayers(); l++ {
		depth[l] = d
		if l < len(e.Thickness) {
			d += e.Thickness[l]
		}
	}

	height := g.Get(geometry.IndexOf("tx_height"))
	if height <= 0 {
		height = 1
	}
	dz := g.Get(geometry.IndexOf("txrx_dz"))
	roll := g.Get(geometry.IndexOf("rx_roll"))
	pitch := g.Get(geometry.IndexOf("rx_pitch"))

	geomFalloff := 1.0 / ((height + dz + 1) * (height + dz + 1) * (height + dz + 1))

	for sys, times := range s.windowTimes {
		x := make([]float64, len(times))
		y := make([]float64, len(times))
		z := make([]float64, len(times))
		for wi, t := range times {
			var zv, xv float64
			for l := 0; l < e.NumLayers(); l++ {
				c := e.Conductivity[l]
				tau := c * (depth[l] + 1) * (depth[l] + 1)
				amp := c / (1 + depth[l])
				zv += amp * math.Exp(-t/tau)
				xv += 0.3 * amp * math.Exp(-t/(0.5*tau))
			}
			z[wi] = zv * geomFalloff * math.Cos(pitch)
			x[wi] = xv * geomFalloff * math.Cos(roll)
			y[wi] = 0.05 * x[wi] * math.Sin(roll)
		}
		out[sys] = [3][]float64{smooth(x), smooth(y), smooth(z)}
	}
	return out
}

func (s *ReferenceSystem) Forward(e earth.LayeredEarth, g geometry.Geometry) ([]float64, error) {
	raw := s.rawFields(e, g)
	out := make([]float64, s.spec.N())
	for sys := range s.windowsPerSystem {
		for wi := range s.windowTimes[sys] {
			out[s.spec.Index(sys, CompX, wi)] = raw[sys][0][wi]
			out[s.spec.Index(sys, CompY, wi)] = raw[sys][1][wi]
			out[s.spec.Index(sys, CompZ, wi)] = raw[sys][2][wi]
		}
	}
	return out, nil
}

// ForwardAndJacobian computes the Jacobian by central finite differences.
// A production forward system computes pitch/roll derivatives in closed
// form (spec.md §4.2 step 2); this reference implementation does not,
// since it has no real rotation model to differentiate analytically.
func (s *ReferenceSystem) ForwardAndJacobian(e earth.LayeredEarth, g geometry.Geometry, req DerivativeRequest) ([]float64, *mat.Dense, error) {
	base, err := s.Forward(e, g)
	if err != nil {
		return nil, nil, err
	}

	layout := JacobianLayout{NLayers: e.NumLayers(), HasC: req.Conductivity, HasT: req.Thickness, Geometry: req.Geometry}
	ncols := layout.NCols()
	J := mat.NewDense(len(base), ncols, nil)

	col := 0
	const relStep = 1e-4
	if req.Conductivity {
		for l := 0; l < e.NumLayers(); l++ {
			perturbed := e.Clone()
			h := relStep * e.Conductivity[l]
			if h == 0 {
				h = relStep
			}
			perturbed.Conductivity[l] += h
			up, _ := s.Forward(perturbed, g)
			perturbed.Conductivity[l] -= 2 * h
			down, _ := s.Forward(perturbed, g)
			fillColumn(J, col, up, down, 2*h)
			col++
		}
	}
	if req.Thickness && e.NumLayers() > 1 {
		for l := 0; l < e.NumLayers()-1; l++ {
			perturbed := e.Clone()
			h := relStep * e.Thickness[l]
			if h == 0 {
				h = relStep
			}
			perturbed.Thickness[l] += h
			up, _ := s.Forward(perturbed, g)
			perturbed.Thickness[l] -= 2 * h
			down, _ := s.Forward(perturbed, g)
			fillColumn(J, col, up, down, 2*h)
			col++
		}
	}
	for gi := 0; gi < geometry.Size(); gi++ {
		if !req.Geometry[gi] {
			continue
		}
		gUp := g
		h := relStep * (g.Get(gi) + 1)
		gUp.Set(gi, g.Get(gi)+h)
		up, _ := s.Forward(e, gUp)
		gDown := g
		gDown.Set(gi, g.Get(gi)-h)
		down, _ := s.Forward(e, gDown)
		fillColumn(J, col, up, down, 2*h)
		col++
	}

	return base, J, nil
}

func fillColumn(J *mat.Dense, col int, up, down []float64, denom float64) {
	for r := range up {
		J.Set(r, col, (up[r]-down[r])/denom)
	}
}
