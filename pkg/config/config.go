// Package config loads the hierarchical control file of spec.md §6:
// Options, Input.AncillaryFields, Input.Geometry, Input.Earth, Output,
// one or more EMSystem blocks, and the RJ-MCMC sampler configuration of
// §4.3. Follows the teacher's yaml.v3 + DefaultConfig/LoadConfig shape
// (pkg/config/config.go in the teacher repo).
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/gaussnewton"
	"tdeminv/pkg/geometry"
	"tdeminv/pkg/param"
	"tdeminv/pkg/regularisation"
	"tdeminv/pkg/rjmcmc"
)

// ConfigError reports a malformed control file: a missing required
// field, an illegal enum value, inconsistent earth shapes, or an
// inverted min/max pair (spec.md §7, "Configuration error ... log and
// abort before any inversion").
type ConfigError struct {
	Messages []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid control file:\n%s", strings.Join(e.Messages, "\n"))
}

func newConfigError(msgs []string) error {
	if len(msgs) == 0 {
		return nil
	}
	return &ConfigError{Messages: msgs}
}

// Options mirrors the control file's "Options" block (spec.md §6).
type Options struct {
	AlphaC float64 `yaml:"alphaC"`
	AlphaT float64 `yaml:"alphaT"`
	AlphaG float64 `yaml:"alphaG"`
	AlphaS float64 `yaml:"alphaS"`
	AlphaQ float64 `yaml:"alphaQ"`

	// NormType is "l1" or "l2".
	NormType string `yaml:"normType"`
	// SmoothnessMethod is "D1" or "D2".
	SmoothnessMethod string `yaml:"smoothnessMethod"`

	SoundingsPerBunch           int     `yaml:"soundingsPerBunch"`
	BunchSubsample              int     `yaml:"bunchSubsample"`
	BeginGeometrySolveIteration int     `yaml:"beginGeometrySolveIteration"`
	MaximumIterations           int     `yaml:"maximumIterations"`
	MinimumPhiD                 float64 `yaml:"minimumPhiD"`
	MinimumPercentageImprovement float64 `yaml:"minimumPercentageImprovement"`

	// InvertXPlusZ selects the synthetic XZ=hypot(X,Z) component in place
	// of raw X/Z (spec.md §3, "Data vector"); ComponentY additionally
	// includes Y regardless of InvertXPlusZ.
	InvertXPlusZ bool `yaml:"invertXPlusZ"`
	ComponentY   bool `yaml:"componentY"`
}

// GeometryFieldConfig carries one geometry element's solve/bound flags
// and input/ref/std/min/max scalars (spec.md §6 "Input.Geometry").
type GeometryFieldConfig struct {
	Name  string  `yaml:"name"`
	Solve bool    `yaml:"solve"`
	Bound bool    `yaml:"bound"`
	Input float64 `yaml:"input"`
	Ref   float64 `yaml:"ref"`
	Std   float64 `yaml:"std"`
	Min   float64 `yaml:"min"`
	Max   float64 `yaml:"max"`
}

// EarthFieldConfig carries one earth vector's (conductivity or
// thickness) input/ref/std/min/max values (spec.md §6
// "Input.Earth.{Conductivity,Thickness}.{input,ref,std,min,max}").
type EarthFieldConfig struct {
	Solve bool      `yaml:"solve"`
	Bound bool      `yaml:"bound"`
	Input []float64 `yaml:"input"`
	Ref   []float64 `yaml:"ref"`
	Std   []float64 `yaml:"std"`
	Min   []float64 `yaml:"min"`
	Max   []float64 `yaml:"max"`
}

// InputConfig mirrors the control file's "Input" block.
type InputConfig struct {
	AncillaryFields []string              `yaml:"ancillaryFields"`
	Geometry        []GeometryFieldConfig `yaml:"geometry"`
	Earth           struct {
		Conductivity EarthFieldConfig `yaml:"conductivity"`
		Thickness    EarthFieldConfig `yaml:"thickness"`
	} `yaml:"earth"`
}

// OutputConfig mirrors the control file's "Output" block.
type OutputConfig struct {
	Directory          string `yaml:"directory"`
	InvertedGeometryOnly bool  `yaml:"invertedGeometryOnly"`
	SaveSensitivity     bool   `yaml:"saveSensitivity"`
	SaveUncertainty     bool   `yaml:"saveUncertainty"`
	SaveComponents      bool   `yaml:"saveComponents"`
	Verbose             bool   `yaml:"verbose"`
}

// EMSystemConfig describes one EM system sub-block: the window count
// used to build its forward.SurveySpec, and the window-center time range
// the reference forward system spaces its windows across (spec.md §9's
// ForwardSystem is an external collaborator; TMin/TMax only parameterise
// the reference/test implementation in pkg/forward, not the core).
type EMSystemConfig struct {
	Name    string  `yaml:"name"`
	Windows int     `yaml:"windows"`
	TMin    float64 `yaml:"tMin"`
	TMax    float64 `yaml:"tMax"`
}

// RjMcMCConfig mirrors spec.md §4.3's "Configuration" paragraph.
type RjMcMCConfig struct {
	NSamples        int     `yaml:"nsamples"`
	NBurnin         int     `yaml:"nburnin"`
	ThinRate        int     `yaml:"thinrate"`
	NChains         int     `yaml:"nchains"`
	TemperatureHigh float64 `yaml:"temperatureHigh"`
	NLMin           int     `yaml:"nlMin"`
	NLMax           int     `yaml:"nlMax"`
	PMax            float64 `yaml:"pmax"`
	VMin            float64 `yaml:"vmin"`
	VMax            float64 `yaml:"vmax"`
	// NPositionBins/NValueBins size the PPD histogram grid (spec.md §4.3
	// item 8, "grid np x nv over (0,pmax) x (vmin,vmax)").
	NPositionBins int `yaml:"npositionbins"`
	NValueBins    int `yaml:"nvaluebins"`
	// ParamPosition/ParamValue are "linear" or "log10".
	ParamPosition       string  `yaml:"paramPosition"`
	ParamValue          string  `yaml:"paramValue"`
	BirthDeathFromPrior bool    `yaml:"birthDeathFromPrior"`
	LogStdDecades       float64 `yaml:"logStdDecades"`
	MoveStdFraction     float64 `yaml:"moveStdFraction"`
	SaveChains          bool    `yaml:"saveChains"`

	Nuisances []NuisanceConfig `yaml:"nuisances"`
	Noises    []NoiseConfig    `yaml:"noises"`
}

// NuisanceConfig mirrors one entry of spec.md §3's "nuisances" list,
// tagged by geometry element name.
type NuisanceConfig struct {
	GeometryElement string  `yaml:"geometryElement"`
	Init            float64 `yaml:"init"`
	Min             float64 `yaml:"min"`
	Max             float64 `yaml:"max"`
	SDValueChange   float64 `yaml:"sdChange"`
}

// NoiseConfig mirrors one entry of spec.md §3's "multiplicative noise
// processes" list, tagged by a half-open data range.
type NoiseConfig struct {
	Init          float64 `yaml:"init"`
	Min           float64 `yaml:"min"`
	Max           float64 `yaml:"max"`
	SDValueChange float64 `yaml:"sdChange"`
	DataFrom      int     `yaml:"dataFrom"`
	DataTo        int     `yaml:"dataTo"`
}

// Config is the root of the control file (spec.md §6, "Control input").
type Config struct {
	Options   Options          `yaml:"options"`
	Input     InputConfig      `yaml:"input"`
	Output    OutputConfig     `yaml:"output"`
	EMSystems []EMSystemConfig `yaml:"emSystems"`
	RjMcMC    RjMcMCConfig     `yaml:"rjmcmc"`
}

// DefaultConfig returns a Config with the same conservative defaults the
// teacher's DefaultConfig() sets: enough to run on a minimal control
// file, never enough to skip validation against a real survey.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Options.NormType = "l2"
	cfg.Options.SmoothnessMethod = "D1"
	cfg.Options.SoundingsPerBunch = 1
	cfg.Options.BunchSubsample = 1
	cfg.Options.MaximumIterations = 50
	cfg.Options.MinimumPhiD = 1.0
	cfg.Options.MinimumPercentageImprovement = 1.0

	cfg.Output.Verbose = true

	cfg.RjMcMC.NChains = 1
	cfg.RjMcMC.TemperatureHigh = 1
	cfg.RjMcMC.ParamPosition = "linear"
	cfg.RjMcMC.ParamValue = "log10"
	cfg.RjMcMC.LogStdDecades = 0.1
	cfg.RjMcMC.MoveStdFraction = 0.1
	cfg.RjMcMC.NPositionBins = 100
	cfg.RjMcMC.NValueBins = 100

	return cfg
}

// LoadConfig reads and parses the control file at path, falling back to
// DefaultConfig() when the file does not exist, then validates the
// result (spec.md §7, configuration errors abort before any inversion).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Messages: []string{fmt.Sprintf("reading control file: %v", err)}}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Messages: []string{fmt.Sprintf("parsing control file: %v", err)}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate aggregates every configuration violation into one
// ConfigError, following earth.Siblings.Validate's single-message
// shape (spec.md §7 / original_source cEarthStruct::sanity_check).
func (c *Config) Validate() error {
	var msgs []string

	if c.Options.NormType != "l1" && c.Options.NormType != "l2" {
		msgs = append(msgs, fmt.Sprintf("options.normType: illegal value %q, want l1 or l2", c.Options.NormType))
	}
	if c.Options.SmoothnessMethod != "D1" && c.Options.SmoothnessMethod != "D2" {
		msgs = append(msgs, fmt.Sprintf("options.smoothnessMethod: illegal value %q, want D1 or D2", c.Options.SmoothnessMethod))
	}
	if c.Options.SoundingsPerBunch <= 0 {
		msgs = append(msgs, "options.soundingsPerBunch: must be > 0")
	}
	if c.Options.BunchSubsample <= 0 {
		msgs = append(msgs, "options.bunchSubsample: must be > 0")
	}

	hasLine := false
	for _, f := range c.Input.AncillaryFields {
		if strings.EqualFold(f, "line") {
			hasLine = true
			break
		}
	}
	if !hasLine {
		msgs = append(msgs, `input.ancillaryFields: required field "line" is missing`)
	}

	for _, g := range c.Input.Geometry {
		if geometry.IndexOf(g.Name) < 0 {
			msgs = append(msgs, fmt.Sprintf("input.geometry: unknown element name %q", g.Name))
			continue
		}
		if g.Min > g.Max {
			msgs = append(msgs, fmt.Sprintf("input.geometry[%s]: min > max", g.Name))
		}
	}

	msgs = append(msgs, validateEarthField("input.earth.conductivity", c.Input.Earth.Conductivity)...)
	msgs = append(msgs, validateEarthField("input.earth.thickness", c.Input.Earth.Thickness)...)

	if len(c.EMSystems) == 0 {
		msgs = append(msgs, "emSystems: at least one EM system is required")
	}
	for i, sys := range c.EMSystems {
		if sys.Windows <= 0 {
			msgs = append(msgs, fmt.Sprintf("emSystems[%d] (%s): windows must be > 0", i, sys.Name))
		}
	}

	if c.RjMcMC.NLMin > 0 && c.RjMcMC.NLMax > 0 && c.RjMcMC.NLMin > c.RjMcMC.NLMax {
		msgs = append(msgs, "rjmcmc: nlMin > nlMax")
	}
	if c.RjMcMC.VMin > 0 && c.RjMcMC.VMax > 0 && c.RjMcMC.VMin > c.RjMcMC.VMax {
		msgs = append(msgs, "rjmcmc: vmin > vmax")
	}
	for _, nu := range c.RjMcMC.Nuisances {
		if geometry.IndexOf(nu.GeometryElement) < 0 {
			msgs = append(msgs, fmt.Sprintf("rjmcmc.nuisances: unknown geometry element %q", nu.GeometryElement))
		}
		if nu.Min > nu.Max {
			msgs = append(msgs, fmt.Sprintf("rjmcmc.nuisances[%s]: min > max", nu.GeometryElement))
		}
	}
	for i, no := range c.RjMcMC.Noises {
		if no.Min > no.Max {
			msgs = append(msgs, fmt.Sprintf("rjmcmc.noises[%d]: min > max", i))
		}
		if no.DataTo <= no.DataFrom {
			msgs = append(msgs, fmt.Sprintf("rjmcmc.noises[%d]: dataTo must be > dataFrom", i))
		}
	}

	return newConfigError(msgs)
}

func validateEarthField(name string, f EarthFieldConfig) []string {
	var msgs []string
	if len(f.Min) > 0 && len(f.Max) > 0 {
		for i := range f.Min {
			if i < len(f.Max) && f.Min[i] > f.Max[i] {
				msgs = append(msgs, fmt.Sprintf("%s: min > max at layer %d", name, i))
			}
		}
	}
	if len(f.Ref) > 0 {
		for i, v := range f.Ref {
			if v <= 0 {
				msgs = append(msgs, fmt.Sprintf("%s: ref <= 0 at layer %d", name, i))
			}
		}
	}
	return msgs
}

// Alphas converts the control file's regularisation weights into
// regularisation.Alphas.
func (o Options) Alphas() regularisation.Alphas {
	return regularisation.Alphas{C: o.AlphaC, T: o.AlphaT, G: o.AlphaG, S: o.AlphaS, Q: o.AlphaQ}
}

// Smoothness converts the control file's smoothness method string into
// regularisation.SmoothnessMethod.
func (o Options) Smoothness() regularisation.SmoothnessMethod {
	if o.SmoothnessMethod == "D2" {
		return regularisation.Derivative2nd
	}
	return regularisation.Derivative1st
}

// ComponentSelection converts the control file's component flags into
// bunch.ComponentSelection: XZ replaces raw X/Z when InvertXPlusZ is set,
// Z is otherwise included, and Y is independently optional.
func (o Options) ComponentSelection() bunch.ComponentSelection {
	if o.InvertXPlusZ {
		return bunch.ComponentSelection{XZ: true, Y: o.ComponentY}
	}
	return bunch.ComponentSelection{X: true, Z: true, Y: o.ComponentY}
}

// WindowsPerSystem returns the per-system window counts used to build a
// forward.SurveySpec.
func (c *Config) WindowsPerSystem() []int {
	w := make([]int, len(c.EMSystems))
	for i, s := range c.EMSystems {
		w[i] = s.Windows
	}
	return w
}

// defaultTMin/defaultTMax bound the window-center axis when a control
// file leaves an EM system's tMin/tMax at zero, a reasonable airborne
// TDEM early/late time range.
const (
	defaultTMin = 1.0e-6
	defaultTMax = 1.0e-2
)

// WindowTimeRange returns the widest tMin/tMax across all configured EM
// systems, falling back to defaultTMin/defaultTMax when none specify a
// range. The reference forward system spaces every system's windows
// logarithmically across this single shared range.
func (c *Config) WindowTimeRange() (tMin, tMax float64) {
	tMin, tMax = defaultTMin, defaultTMax
	seen := false
	for _, s := range c.EMSystems {
		if s.TMin <= 0 || s.TMax <= s.TMin {
			continue
		}
		if !seen {
			tMin, tMax = s.TMin, s.TMax
			seen = true
			continue
		}
		if s.TMin < tMin {
			tMin = s.TMin
		}
		if s.TMax > tMax {
			tMax = s.TMax
		}
	}
	return tMin, tMax
}

// RJMCMCOptions converts the control file's "rjmcmc" block into
// rjmcmc.Options, resolving each nuisance's geometry element name to its
// geometry.ElementNames index (spec.md §4.3 "Configuration"). Nuisances
// naming an unknown element are skipped; Validate rejects the control
// file before this is ever called on bad input.
func (c *Config) RJMCMCOptions() rjmcmc.Options {
	o := rjmcmc.Options{
		NLMin: c.RjMcMC.NLMin, NLMax: c.RjMcMC.NLMax,
		VMin: c.RjMcMC.VMin, VMax: c.RjMcMC.VMax,
		PMax:       c.RjMcMC.PMax,
		ValueLog10: c.RjMcMC.ParamValue != "linear",

		LogStdDecades:       c.RjMcMC.LogStdDecades,
		MoveStdFraction:     c.RjMcMC.MoveStdFraction,
		BirthDeathFromPrior: c.RjMcMC.BirthDeathFromPrior,

		NChains:         c.RjMcMC.NChains,
		TemperatureHigh: c.RjMcMC.TemperatureHigh,
		NSamples:        c.RjMcMC.NSamples,
		NBurnin:         c.RjMcMC.NBurnin,
		ThinRate:        c.RjMcMC.ThinRate,
	}
	for _, nu := range c.RjMcMC.Nuisances {
		gi := geometry.IndexOf(nu.GeometryElement)
		if gi < 0 {
			continue
		}
		o.Nuisances = append(o.Nuisances, rjmcmc.NuisanceSpec{
			GeometryElement: gi, Init: nu.Init, Min: nu.Min, Max: nu.Max, SDValueChange: nu.SDValueChange,
		})
	}
	for _, no := range c.RjMcMC.Noises {
		o.Noises = append(o.Noises, rjmcmc.NoiseSpec{
			Init: no.Init, Min: no.Min, Max: no.Max, SDValueChange: no.SDValueChange,
			DataFrom: no.DataFrom, DataTo: no.DataTo,
		})
	}
	return o
}

// ParamOptions converts the control file's conductivity/thickness/
// geometry solve and bound flags into param.Options for a bunch with
// nLayers earth layers (spec.md §3 "InvertibleField").
func (c *Config) ParamOptions(nLayers int) param.Options {
	solve, bound := c.GeometrySolveBound()
	return param.Options{
		NLayers:           nLayers,
		SolveConductivity: c.Input.Earth.Conductivity.Solve,
		BoundConductivity: c.Input.Earth.Conductivity.Bound,
		SolveThickness:    c.Input.Earth.Thickness.Solve,
		BoundThickness:    c.Input.Earth.Thickness.Bound,
		GeometrySolve:     solve,
		GeometryBound:     bound,
	}
}

// GaussNewtonOptions converts the control file's "Options" block into
// gaussnewton.Options, using DefaultLambdaMultipliers (spec.md
// §4.2 step 4).
func (c *Config) GaussNewtonOptions() gaussnewton.Options {
	return gaussnewton.Options{
		MaxIterations:               c.Options.MaximumIterations,
		MinimumPhiD:                 c.Options.MinimumPhiD,
		MinimumImprovementPercent:   c.Options.MinimumPercentageImprovement,
		BeginGeometrySolveIteration: c.Options.BeginGeometrySolveIteration,
		L1Norm:                      c.Options.NormType == "l1",
		LambdaMultipliers:           gaussnewton.DefaultLambdaMultipliers(),
	}
}

// GeometrySolveBound returns the solve/bound masks for geometry.Solve,
// keyed by geometry.ElementNames index.
func (c *Config) GeometrySolveBound() (solve, bound geometry.Solve) {
	for _, g := range c.Input.Geometry {
		i := geometry.IndexOf(g.Name)
		if i < 0 {
			continue
		}
		solve[i] = g.Solve
		bound[i] = g.Bound
	}
	return
}
