// Command tdeminv runs the airborne TDEM layered-earth inversion core
// over a header-driven CSV data file, driven by a YAML control file
// (spec.md §6, "CLI"). It wires every core package together: bunching,
// the Gauss-Newton deterministic inverter, and, when enabled, the
// RJ-MCMC stochastic sampler per sounding.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"tdeminv/internal/models"
	"tdeminv/pkg/bunch"
	"tdeminv/pkg/config"
	"tdeminv/pkg/earth"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/gaussnewton"
	"tdeminv/pkg/geometry"
	"tdeminv/pkg/iodata"
	"tdeminv/pkg/logging"
	"tdeminv/pkg/param"
	"tdeminv/pkg/posterior"
	"tdeminv/pkg/regularisation"
	"tdeminv/pkg/rjmcmc"
	"tdeminv/pkg/worker"
)

func main() {
	controlPath := flag.String("control", "", "Control (YAML) file path")
	dataPath := flag.String("data", "", "Input data CSV file path")
	size := flag.Int("size", 1, "Number of cooperating worker processes/threads")
	rank := flag.Int("rank", 0, "This worker's 0-based rank within -size")
	stochastic := flag.Bool("stochastic", false, "Also run the RJ-MCMC sampler per sounding")
	seed := flag.Int64("seed", 1, "RJ-MCMC random seed")
	flag.Parse()

	if flag.NArg() == 1 && *controlPath == "" {
		*controlPath = flag.Arg(0)
	}
	if *controlPath == "" || *dataPath == "" {
		fmt.Println("usage: tdeminv -control control.yaml -data survey.csv [flags]")
		flag.Usage()
		os.Exit(1)
	}

	assignment, err := worker.Parse(*size, *rank)
	if err != nil {
		log.Fatalf("worker assignment: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("TDEMINV - AIRBORNE TDEM LAYERED-EARTH INVERSION")
	fmt.Println("================================")

	cfg, err := config.LoadConfig(*controlPath)
	if err != nil {
		log.Fatalf("loading control file: %v", err)
	}
	logger := logging.New(os.Stderr, cfg.Output.Verbose)

	dataFile, err := os.Open(*dataPath)
	if err != nil {
		log.Fatalf("opening data file: %v", err)
	}
	defer dataFile.Close()

	schema := iodata.NewSchemaFromConfig(cfg)
	recs, err := iodata.NewReader(dataFile, schema)
	if err != nil {
		log.Fatalf("opening data stream: %v", err)
	}

	rawSpec := forward.NewSurveySpec(cfg.WindowsPerSystem())
	tMin, tMax := cfg.WindowTimeRange()
	fsys := forward.NewReferenceSystem(cfg.WindowsPerSystem(), tMin, tMax)

	if cfg.Output.Directory != "" {
		if err := os.MkdirAll(cfg.Output.Directory, 0o755); err != nil {
			log.Fatalf("creating output directory: %v", err)
		}
	}

	pointOut, err := createOutputFile(cfg.Output.Directory, "inversion.csv")
	if err != nil {
		log.Fatalf("creating point-record output: %v", err)
	}
	defer pointOut.Close()
	pointWriter := iodata.NewWriter(pointOut)

	var rjOut *os.File
	if *stochastic {
		rjOut, err = createOutputFile(cfg.Output.Directory, "rjmcmc_report.txt")
		if err != nil {
			log.Fatalf("creating RJ-MCMC output: %v", err)
		}
		defer rjOut.Close()
	}

	bunches := iodata.NewBunchReader(recs, cfg, rawSpec, logger)

	start := time.Now()
	var summary models.RunSummary
	nSkipped := 0

	for {
		b, err := bunches.Next()
		if err != nil {
			break // io.EOF, or a non-recoverable stream error; either ends the run
		}
		idx := bunches.BunchIndex()
		if !assignment.Owns(idx) {
			continue
		}

		pr, bs, ok := invertBunch(b, cfg, fsys, logger)
		if !ok {
			nSkipped++
			continue
		}
		if err := pointWriter.Write(pr); err != nil {
			log.Fatalf("writing point record: %v", err)
		}
		summary.Add(bs)

		if *stochastic {
			runStochastic(b, cfg, fsys, rjOut, logger, *seed+int64(idx))
		}
	}
	summary.NSkipped = nSkipped

	if err := pointWriter.Flush(); err != nil {
		log.Fatalf("flushing point-record output: %v", err)
	}

	elapsed := time.Since(start)
	fmt.Printf("\nProcessed %d bunch(es) in %.2f seconds (rank %d of %d)\n", summary.NProcessed, elapsed.Seconds(), *rank, *size)
	fmt.Printf("Skipped %d bunch(es) due to record/configuration errors\n", summary.NSkipped)
	fmt.Printf("%d bunch(es) terminated via solver stall (best iterate still emitted)\n", summary.NStalled)
	fmt.Printf("Mean final PhiD across processed bunches: %.4f\n", summary.MeanPhiD())
	fmt.Printf("Point-record output: %s\n", pointOut.Name())
	if *stochastic {
		fmt.Printf("RJ-MCMC report: %s\n", rjOut.Name())
	}
}

func createOutputFile(dir, name string) (*os.File, error) {
	path := name
	if dir != "" {
		path = filepath.Join(dir, name)
	}
	return os.Create(path)
}

// invertBunch assembles a Problem from one bunch and runs the
// deterministic Gauss-Newton core to completion. ok is false when the
// bunch could not be inverted at all (a record/configuration-level
// problem distinct from a solver stall, which still produces output).
func invertBunch(b *bunch.Bunch, cfg *config.Config, fsys forward.ForwardSystem, logger *logging.Logger) (pr iodata.PointRecord, bs models.BunchSummary, ok bool) {
	nSoundings := len(b.Soundings)
	nLayers := len(cfg.Input.Earth.Conductivity.Ref)

	layout := param.Build(cfg.ParamOptions(nLayers), nSoundings)

	earthSibs := make([]earth.Siblings, nSoundings)
	geomSibs := make([]geometry.Siblings, nSoundings)
	obsPerSounding := make([][]float64, nSoundings)
	errPerSounding := make([][]float64, nSoundings)
	for i, snd := range b.Soundings {
		earthSibs[i] = snd.Earth
		geomSibs[i] = snd.Geometry
		obsPerSounding[i] = snd.RawObs
		errPerSounding[i] = snd.RawErr
	}

	sigma := sigmaVector(layout, earthSibs, geomSibs)
	refEarths := make([]earth.LayeredEarth, nSoundings)
	for i, es := range earthSibs {
		refEarths[i] = es.Ref
	}

	reg := regularisation.Builder{
		Layout:      layout,
		Alphas:      cfg.Options.Alphas(),
		Smoothness:  cfg.Options.Smoothness(),
		RefEarths:   refEarths,
		RefParamStd: sigma,
	}.Build()

	problem, err := gaussnewton.NewProblem(layout, b.Logical, fsys, earthSibs, geomSibs, reg, obsPerSounding, errPerSounding, cfg.GaussNewtonOptions())
	if err != nil {
		logger.Warnf("bunch at line %d: building problem: %v", b.Line, err)
		return iodata.PointRecord{}, models.BunchSummary{}, false
	}

	state, err := gaussnewton.InvertBunch(problem, logger)
	if state == nil {
		logger.Warnf("bunch at line %d: inversion failed: %v", b.Line, err)
		return iodata.PointRecord{}, models.BunchSummary{}, false
	}
	stalled := false
	if err != nil {
		logger.Warnf("bunch at line %d: %v", b.Line, err)
		stalled = true
	}

	bs = models.BunchSummary{
		Line:              b.Line,
		NSoundings:        nSoundings,
		NLayers:           nLayers,
		Iteration:         state.Iteration,
		PhiD:              state.PhiD,
		Stalled:           stalled,
		TerminationReason: state.TerminationReason,
	}
	return iodata.BuildPointRecord(b, state, cfg), bs, true
}

// sigmaVector flattens the per-sounding reference standard-deviation
// siblings into param.Layout's flat parameter order, the same rule
// gaussnewton.NewProblem applies to Sigma: a missing or
// zero standard deviation falls back to 1 (unit weight).
func sigmaVector(layout param.Layout, earthSibs []earth.Siblings, geomSibs []geometry.Siblings) []float64 {
	sigma := make([]float64, layout.NParam)
	for i := range sigma {
		sigma[i] = 1
	}
	for si := 0; si < layout.NSoundings; si++ {
		es := earthSibs[si]
		gs := geomSibs[si]
		if layout.Conductivity.Solve {
			for li := 0; li < layout.NLayers; li++ {
				if li < len(es.Std.Conductivity) && es.Std.Conductivity[li] != 0 {
					sigma[layout.CIndex(si, li)] = es.Std.Conductivity[li]
				}
			}
		}
		if layout.Thickness.Solve {
			for li := 0; li < layout.NLayers-1; li++ {
				if li < len(es.Std.Thickness) && es.Std.Thickness[li] != 0 {
					sigma[layout.TIndex(si, li)] = es.Std.Thickness[li]
				}
			}
		}
		for gi, f := range layout.Geometry {
			if !f.Solve {
				continue
			}
			if v := gs.Std.Get(gi); v != 0 {
				sigma[layout.GIndex(si, gi)] = v
			}
		}
	}
	return sigma
}

// runStochastic runs the RJ-MCMC sampler over every sounding of the
// bunch independently (spec.md §4.3: "the sampler owns its chain states
// and posterior maps for the lifetime of one sounding"), appending one
// report section per sounding to rjOut.
func runStochastic(b *bunch.Bunch, cfg *config.Config, fsys forward.ForwardSystem, rjOut *os.File, logger *logging.Logger, seed int64) {
	opts := cfg.RJMCMCOptions()
	grid := posterior.Grid{
		NPositionBins: cfg.RjMcMC.NPositionBins,
		NValueBins:    cfg.RjMcMC.NValueBins,
		PMax:          cfg.RjMcMC.PMax,
		VMin:          cfg.RjMcMC.VMin,
		VMax:          cfg.RjMcMC.VMax,
		NLMin:         cfg.RjMcMC.NLMin,
		NLMax:         cfg.RjMcMC.NLMax,
	}

	for si, snd := range b.Soundings {
		obsLogical := b.Logical.FromRaw(snd.RawObs)
		errLogical := b.Logical.FromRaw(snd.RawErr)
		active, err := bunch.BuildActiveData(obsLogical, errLogical)
		if err != nil {
			logger.Warnf("bunch at line %d sounding %d: %v", b.Line, si, err)
			continue
		}
		obsActive := active.Cull(obsLogical)
		errActive := active.Cull(errLogical)

		sampler := rjmcmc.NewSampler(opts, fsys, b.Logical, active, snd.Geometry.Ref, obsActive, errActive, seed+int64(si))
		res, err := sampler.Run()
		if err != nil {
			logger.Warnf("bunch at line %d sounding %d: RJ-MCMC run failed: %v", b.Line, si, err)
			continue
		}

		maps := posterior.BuildMaps(grid, res)
		if err := iodata.WriteRJMCMCReport(rjOut, opts, obsActive, errActive, res, maps, cfg.RjMcMC.SaveChains); err != nil {
			logger.Warnf("bunch at line %d sounding %d: writing RJ-MCMC report: %v", b.Line, si, err)
		}
	}
}
