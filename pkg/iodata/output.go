package iodata

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/config"
	"tdeminv/pkg/gaussnewton"
)

// PointRecord is one per-bunch output row, emitted at the master
// sounding (the first sounding of the bunch), per spec.md §6's Output
// list.
type PointRecord struct {
	Ancillary map[string]string
	Line      int

	InputGeometry    []float64 // geometry.ElementNames order
	InvertedGeometry []float64 // same order; only the solved elements when Output.InvertedGeometryOnly is set

	NData, NLayers int
	Conductivity    []float64
	Thickness       []float64 // half-space padded to a finite value

	Depth     []float64 // optional, derived
	Elevation []float64 // optional, derived

	Sensitivity []float64 // optional
	Uncertainty []float64 // optional

	AlphaC, AlphaT, AlphaG, AlphaS, AlphaQ float64
	PhiD, PhiM, PhiC, PhiT, PhiG, PhiS, PhiQ float64
	Lambda     float64
	Iteration  int
	Terminated string
}

// halfSpaceThickness is the finite stand-in value spec.md §6 asks for
// ("thickness vector ... with the half-space padded to a finite value")
// since the half-space has no physical thickness.
const halfSpaceThickness = 1.0e5

// PadThickness extends a |L|-1 thickness vector to length L, appending
// halfSpaceThickness for the half-space layer.
func PadThickness(t []float64) []float64 {
	out := make([]float64, len(t)+1)
	copy(out, t)
	out[len(t)] = halfSpaceThickness
	return out
}

// DepthFromThickness returns the cumulative top-of-layer depths, the
// "derived depth vector" spec.md §6 lists as optional output.
func DepthFromThickness(paddedThickness []float64) []float64 {
	out := make([]float64, len(paddedThickness))
	running := 0.0
	for i, t := range paddedThickness {
		out[i] = running
		running += t
	}
	return out
}

// ElevationFromDepth converts a depth vector to elevation relative to a
// transmitter/ground reference height (the other "derived" vector
// spec.md §6 lists), by simple subtraction.
func ElevationFromDepth(depth []float64, referenceHeight float64) []float64 {
	out := make([]float64, len(depth))
	for i, d := range depth {
		out[i] = referenceHeight - d
	}
	return out
}

// BuildPointRecord assembles the master sounding's PointRecord from a
// finished gaussnewton.State, the owning bunch, and the control file's
// Output flags.
func BuildPointRecord(b *bunch.Bunch, st *gaussnewton.State, cfg *config.Config) PointRecord {
	master := b.Soundings[0]
	earthModel := st.InvertedEarths[0]
	geom := st.InvertedGeoms[0]

	padded := PadThickness(earthModel.Thickness)

	pr := PointRecord{
		Ancillary:    master.Ancillary,
		Line:         master.Line,
		InputGeometry: master.Geometry.Input.Values[:],
		NData:        len(st.Pred),
		NLayers:      earthModel.NumLayers(),
		Conductivity: earthModel.Conductivity,
		Thickness:    padded,
		AlphaC:       cfg.Options.AlphaC,
		AlphaT:       cfg.Options.AlphaT,
		AlphaG:       cfg.Options.AlphaG,
		AlphaS:       cfg.Options.AlphaS,
		AlphaQ:       cfg.Options.AlphaQ,
		PhiD:         st.PhiD,
		PhiM:         st.PhiM,
		PhiC:         st.PhiC,
		PhiT:         st.PhiT,
		PhiG:         st.PhiG,
		PhiS:         st.PhiS,
		PhiQ:         st.PhiQ,
		Lambda:       st.Lambda,
		Iteration:    st.Iteration,
		Terminated:   st.TerminationReason,
	}

	if cfg.Output.InvertedGeometryOnly {
		solve, _ := cfg.GeometrySolveBound()
		for gi, v := range geom.Values {
			if solve[gi] {
				pr.InvertedGeometry = append(pr.InvertedGeometry, v)
			}
		}
	} else {
		full := geom.Values
		pr.InvertedGeometry = full[:]
	}

	pr.Depth = DepthFromThickness(padded)
	pr.Elevation = ElevationFromDepth(pr.Depth, master.Geometry.Input.Values[0])

	if cfg.Output.SaveSensitivity {
		pr.Sensitivity = st.Sensitivity
	}
	if cfg.Output.SaveUncertainty {
		pr.Uncertainty = st.Uncertainty
	}

	return pr
}

// Writer emits PointRecord rows as a header-driven CSV stream, the
// output-side mirror of Reader: scalar fields get their own column,
// vector fields are serialised as a single pipe-separated cell so the
// file stays one row per bunch regardless of the number of layers.
type Writer struct {
	csv         *csv.Writer
	wroteHeader bool
}

// NewWriter wraps w for point-record output.
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

var pointRecordHeader = []string{
	"ancillary", "line", "ndata", "nlayers",
	"input_geometry", "inverted_geometry",
	"conductivity", "thickness", "depth", "elevation",
	"sensitivity", "uncertainty",
	"alphaC", "alphaT", "alphaG", "alphaS", "alphaQ",
	"phiD", "phiM", "phiC", "phiT", "phiG", "phiS", "phiQ",
	"lambda", "iteration", "terminationReason",
}

func joinAncillary(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m[k]
	}
	return strings.Join(parts, "|")
}

func joinFloats(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, "|")
}

// Write appends one PointRecord row, writing the header first if this is
// the first call.
func (w *Writer) Write(pr PointRecord) error {
	if !w.wroteHeader {
		if err := w.csv.Write(pointRecordHeader); err != nil {
			return fmt.Errorf("iodata: writing header: %w", err)
		}
		w.wroteHeader = true
	}

	row := []string{
		joinAncillary(pr.Ancillary),
		strconv.Itoa(pr.Line),
		strconv.Itoa(pr.NData),
		strconv.Itoa(pr.NLayers),
		joinFloats(pr.InputGeometry),
		joinFloats(pr.InvertedGeometry),
		joinFloats(pr.Conductivity),
		joinFloats(pr.Thickness),
		joinFloats(pr.Depth),
		joinFloats(pr.Elevation),
		joinFloats(pr.Sensitivity),
		joinFloats(pr.Uncertainty),
		strconv.FormatFloat(pr.AlphaC, 'g', -1, 64),
		strconv.FormatFloat(pr.AlphaT, 'g', -1, 64),
		strconv.FormatFloat(pr.AlphaG, 'g', -1, 64),
		strconv.FormatFloat(pr.AlphaS, 'g', -1, 64),
		strconv.FormatFloat(pr.AlphaQ, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiD, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiM, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiC, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiT, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiG, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiS, 'g', -1, 64),
		strconv.FormatFloat(pr.PhiQ, 'g', -1, 64),
		strconv.FormatFloat(pr.Lambda, 'g', -1, 64),
		strconv.Itoa(pr.Iteration),
		pr.Terminated,
	}
	if err := w.csv.Write(row); err != nil {
		return fmt.Errorf("iodata: writing record: %w", err)
	}
	return nil
}

// Flush flushes any buffered output and returns the first write error
// encountered, if any.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}
