package iodata

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"tdeminv/pkg/posterior"
	"tdeminv/pkg/rjmcmc"
)

// WriteRJMCMCReport writes the self-describing RJ-MCMC output file of
// spec.md §6: configuration attributes, observation/error vectors, the
// depth/value/layer grids, the PPD/interface-depth/layer-count
// histograms, per-chain convergence tables, summary models, and
// nuisance/noise per-process histograms with tags. The format is a
// plain "## Section" / "key: value" sectioned text stream rather than a
// binary self-describing array format, matching the teacher's plain-text
// reporting idiom (pkg/reconstruction's validation-metrics reports) over
// a binary array container, since no pack library provides one and the
// file is meant to be human-readable.
func WriteRJMCMCReport(w io.Writer, opts rjmcmc.Options, obs, errv []float64, res *rjmcmc.Result, maps *posterior.Maps, saveChains bool) error {
	bw := &reportWriter{w: w}

	bw.section("Configuration")
	bw.kv("nlMin", opts.NLMin)
	bw.kv("nlMax", opts.NLMax)
	bw.kv("vmin", opts.VMin)
	bw.kv("vmax", opts.VMax)
	bw.kv("pmax", opts.PMax)
	bw.kv("valueLog10", opts.ValueLog10)
	bw.kv("nchains", opts.NChains)
	bw.kv("temperatureHigh", opts.TemperatureHigh)
	bw.kv("nsamples", opts.NSamples)
	bw.kv("nburnin", opts.NBurnin)
	bw.kv("thinrate", opts.ThinRate)
	bw.kv("birthDeathFromPrior", opts.BirthDeathFromPrior)

	bw.section("Observations")
	bw.vec("obs", obs)
	bw.vec("err", errv)

	bw.section("Grids")
	bw.kv("nPositionBins", len(maps.PPD))
	if len(maps.PPD) > 0 {
		bw.kv("nValueBins", len(maps.PPD[0]))
	}
	bw.kv("nlMin", opts.NLMin)
	bw.kv("nlMax", opts.NLMax)

	bw.section("PPDHistogram")
	for pi, row := range maps.PPD {
		bw.intVec(fmt.Sprintf("position_%d", pi), row)
	}

	bw.section("InterfaceDepthHistogram")
	bw.intVec("counts", maps.InterfaceDepth)

	bw.section("LayerCountHistogram")
	bw.intVec("counts", maps.LayerCount)

	bw.section("SummaryModels")
	for _, s := range maps.SummaryModels() {
		bw.line(fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s",
			f(s.Position), f(s.Mean), f(s.Mode), f(s.P10), f(s.P50), f(s.P90)))
	}

	nuisances := maps.NuisanceStats(20)
	bw.section("NuisanceHistograms")
	for i, s := range nuisances {
		bw.kv(fmt.Sprintf("nuisance_%d_mean", i), s.Mean)
		bw.kv(fmt.Sprintf("nuisance_%d_stddev", i), s.StdDev)
		bw.intVec(fmt.Sprintf("nuisance_%d_histogram", i), s.Histogram)
	}

	noises := maps.NoiseStats(20)
	bw.section("NoiseHistograms")
	for i, s := range noises {
		lo, hi := -1, -1
		if i < len(opts.Noises) {
			lo, hi = opts.Noises[i].DataFrom, opts.Noises[i].DataTo
		}
		bw.kv(fmt.Sprintf("noise_%d_dataFrom", i), lo)
		bw.kv(fmt.Sprintf("noise_%d_dataTo", i), hi)
		bw.kv(fmt.Sprintf("noise_%d_mean", i), s.Mean)
		bw.kv(fmt.Sprintf("noise_%d_stddev", i), s.StdDev)
		bw.intVec(fmt.Sprintf("noise_%d_histogram", i), s.Histogram)
	}

	bw.section("BestModels")
	bw.model("highestLikelihood", res.HighestLikelihood)
	bw.model("lowestMisfit", res.LowestMisfit)

	bw.section("Chains")
	for ci, c := range res.Chains {
		prefix := fmt.Sprintf("chain_%d", ci)
		bw.kv(prefix+"_temperature", c.Temperature)
		bw.kv(prefix+"_acceptRate_valueChange", c.ValueChange.AcceptRate())
		bw.kv(prefix+"_acceptRate_move", c.Move.AcceptRate())
		bw.kv(prefix+"_acceptRate_birth", c.Birth.AcceptRate())
		bw.kv(prefix+"_acceptRate_death", c.Death.AcceptRate())
		bw.kv(prefix+"_acceptRate_nuisance", c.Nuisance.AcceptRate())
		bw.kv(prefix+"_acceptRate_noise", c.Noise.AcceptRate())
		bw.intVec(prefix+"_swapHistogram", c.SwapHistogram)

		bw.intVec(prefix+"_history_nlayers", c.History.NLayers)
		bw.vec(prefix+"_history_temperature", c.History.Temperature)
		bw.vec(prefix+"_history_misfit", c.History.Misfit)
		bw.vec(prefix+"_history_logppd", c.History.LogPPD)
	}

	if saveChains {
		bw.section("Ensemble")
		for i, m := range res.Ensemble {
			bw.model(fmt.Sprintf("sample_%d", i), m)
		}
	}

	return bw.err
}

type reportWriter struct {
	w   io.Writer
	err error
}

func (b *reportWriter) write(s string) {
	if b.err != nil {
		return
	}
	_, b.err = io.WriteString(b.w, s)
}

func (b *reportWriter) line(s string) { b.write(s + "\n") }

func (b *reportWriter) section(name string) { b.line("## " + name) }

func f(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func (b *reportWriter) kv(key string, v interface{}) {
	switch x := v.(type) {
	case float64:
		b.line(key + ": " + f(x))
	case int:
		b.line(key + ": " + strconv.Itoa(x))
	case bool:
		b.line(key + ": " + strconv.FormatBool(x))
	default:
		b.line(fmt.Sprintf("%s: %v", key, x))
	}
}

func (b *reportWriter) vec(name string, v []float64) {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = f(x)
	}
	b.line(name + ": " + strings.Join(parts, ","))
}

func (b *reportWriter) intVec(name string, v []int) {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	b.line(name + ": " + strings.Join(parts, ","))
}

func (b *reportWriter) model(name string, m rjmcmc.Model) {
	tops := make([]float64, m.NLayers())
	values := make([]float64, m.NLayers())
	for i, l := range m.Layers {
		tops[i] = l.Top
		values[i] = l.Value
	}
	b.vec(name+"_layerTops", tops)
	b.vec(name+"_layerValues", values)
	b.vec(name+"_nuisances", m.Nuisances)
	b.vec(name+"_noises", m.Noises)
	b.kv(name+"_misfit", m.Misfit)
}
