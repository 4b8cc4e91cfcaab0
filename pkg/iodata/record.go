// Package iodata implements the record-oriented tabular data stream and
// output writer of spec.md §6 ("Data input"/"Output"), external
// collaborators the core inverter packages never depend on directly.
// Grounded in the teacher's directory-scan/sort input loading
// (pkg/reconstruction/reconstructor.go's loadSlices) generalised from a
// sorted image directory to a header-driven tabular stream, since no
// pack library provides a scientific tabular/self-describing-array
// reader and the teacher's own input stage is the closest idiom.
package iodata

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"tdeminv/pkg/config"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/geometry"
)

// RecordError reports one malformed or invalid input record (spec.md §7,
// "Record error ... mark the bunch as skipped, record a human-readable
// reason, continue"). Unlike ConfigError it is not fatal: the caller
// logs it and moves to the next record.
type RecordError struct {
	RowNumber int
	Reason    string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.RowNumber, e.Reason)
}

// Schema describes the fixed set of columns a control file implies: the
// configured ancillary fields, the configured geometry input fields, and
// the observation/error columns derived from the EM systems' window
// counts (spec.md §6).
type Schema struct {
	AncillaryFields []string
	GeometryFields  []string
	Samples         []forward.Sample
}

// NewSchemaFromConfig builds the Schema implied by a loaded control
// file's Input/EMSystems sections.
func NewSchemaFromConfig(cfg *config.Config) Schema {
	s := Schema{AncillaryFields: append([]string(nil), cfg.Input.AncillaryFields...)}
	for _, g := range cfg.Input.Geometry {
		s.GeometryFields = append(s.GeometryFields, g.Name)
	}
	spec := forward.NewSurveySpec(cfg.WindowsPerSystem())
	s.Samples = spec.Samples
	return s
}

func sampleColumnNames(s forward.Sample) (obs, err string) {
	base := fmt.Sprintf("s%d_%s_w%d", s.System, s.Component, s.Window)
	return "d_" + base, "e_" + base
}

// Record is one parsed input row: its ancillary values, line number,
// input geometry, and raw (forward.SurveySpec-order) observation/error
// vectors, with NaN marking a null observation or error (spec.md §3
// "Data vector").
type Record struct {
	Line      int
	Ancillary map[string]string
	Geometry  geometry.Geometry
	RawObs    []float64
	RawErr    []float64
}

// Reader parses a header-driven CSV tabular stream matching a Schema.
// Column names are matched case-insensitively and may appear in any
// order; a missing required column is a configuration problem, reported
// once at construction, not a per-record error.
type Reader struct {
	schema Schema
	csv    *csv.Reader
	cols   map[string]int
	rowNum int

	obsCol, errCol []int // parallel to schema.Samples
}

// NewReader builds a Reader from r's header line, matching it against
// schema. Returns a *config.ConfigError if a required column is absent,
// since a missing column reflects a control-file/data-file mismatch the
// operator must fix before any record can be processed.
func NewReader(r io.Reader, schema Schema) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("iodata: reading header row: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var missing []string
	require := func(name string) {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	for _, f := range schema.AncillaryFields {
		require(f)
	}
	for _, f := range schema.GeometryFields {
		require(f)
	}

	obsCol := make([]int, len(schema.Samples))
	errCol := make([]int, len(schema.Samples))
	for i, s := range schema.Samples {
		obsName, errName := sampleColumnNames(s)
		require(obsName)
		require(errName)
		obsCol[i] = cols[strings.ToLower(obsName)]
		errCol[i] = cols[strings.ToLower(errName)]
	}

	if len(missing) > 0 {
		return nil, &config.ConfigError{Messages: []string{
			fmt.Sprintf("data file missing required column(s): %s", strings.Join(missing, ", ")),
		}}
	}

	return &Reader{schema: schema, csv: cr, cols: cols, obsCol: obsCol, errCol: errCol}, nil
}

// parseFloatOrNull parses s as a float, treating "", "nan", "null" and
// "na" as a null observation/error (NaN), matching the tolerant parsing
// spec.md §6 requires for record-level data gaps.
func parseFloatOrNull(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null", "na":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Next reads one record. io.EOF signals a clean end of stream. A
// *RecordError is returned for a malformed row; the caller should log it
// and continue (spec.md §7).
func (r *Reader) Next() (*Record, error) {
	row, err := r.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		r.rowNum++
		return nil, &RecordError{RowNumber: r.rowNum, Reason: fmt.Sprintf("csv parse error: %v", err)}
	}
	r.rowNum++

	rec := &Record{Ancillary: make(map[string]string, len(r.schema.AncillaryFields))}

	lineRaw := ""
	for _, f := range r.schema.AncillaryFields {
		v := row[r.cols[strings.ToLower(f)]]
		rec.Ancillary[f] = v
		if strings.EqualFold(f, "line") {
			lineRaw = v
		}
	}
	line, err := strconv.Atoi(strings.TrimSpace(lineRaw))
	if err != nil {
		return nil, &RecordError{RowNumber: r.rowNum, Reason: fmt.Sprintf("invalid line field %q: %v", lineRaw, err)}
	}
	rec.Line = line

	for _, f := range r.schema.GeometryFields {
		v, err := parseFloatOrNull(row[r.cols[strings.ToLower(f)]])
		if err != nil {
			return nil, &RecordError{RowNumber: r.rowNum, Reason: fmt.Sprintf("invalid geometry field %q: %v", f, err)}
		}
		if !rec.Geometry.SetByName(f, v) {
			return nil, &RecordError{RowNumber: r.rowNum, Reason: fmt.Sprintf("unknown geometry field %q", f)}
		}
	}

	rec.RawObs = make([]float64, len(r.schema.Samples))
	rec.RawErr = make([]float64, len(r.schema.Samples))
	for i := range r.schema.Samples {
		obs, err := parseFloatOrNull(row[r.obsCol[i]])
		if err != nil {
			return nil, &RecordError{RowNumber: r.rowNum, Reason: fmt.Sprintf("invalid observation at sample %d: %v", i, err)}
		}
		errv, err := parseFloatOrNull(row[r.errCol[i]])
		if err != nil {
			return nil, &RecordError{RowNumber: r.rowNum, Reason: fmt.Sprintf("invalid error estimate at sample %d: %v", i, err)}
		}
		rec.RawObs[i] = obs
		rec.RawErr[i] = errv
	}

	return rec, nil
}
