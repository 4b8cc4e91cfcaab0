package iodata

import (
	"io"
	"math"
	"strings"
	"testing"

	"tdeminv/pkg/config"
	"tdeminv/pkg/forward"
)

func testSchema() Schema {
	spec := forward.NewSurveySpec([]int{2})
	return Schema{
		AncillaryFields: []string{"line", "fid"},
		GeometryFields:  []string{"tx_height"},
		Samples:         spec.Samples,
	}
}

func header(s Schema) string {
	cols := append([]string{}, s.AncillaryFields...)
	cols = append(cols, s.GeometryFields...)
	for _, samp := range s.Samples {
		obs, errc := sampleColumnNames(samp)
		cols = append(cols, obs, errc)
	}
	return strings.Join(cols, ",")
}

func TestReaderParsesWellFormedRows(t *testing.T) {
	s := testSchema()
	body := header(s) + "\n" + "1,100,30,1,0.1,2,0.2,3,0.3,4,0.4,5,0.5,6,0.6\n"
	r, err := NewReader(strings.NewReader(body), s)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if rec.Line != 1 {
		t.Errorf("expected line 1, got %d", rec.Line)
	}
	if len(rec.RawObs) != len(s.Samples) {
		t.Fatalf("expected %d observations, got %d", len(s.Samples), len(rec.RawObs))
	}
	if v, ok := rec.Geometry.GetByName("tx_height"); !ok || v != 30 {
		t.Errorf("expected tx_height=30, got %v ok=%v", v, ok)
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReaderTreatsBlankAsNull(t *testing.T) {
	s := testSchema()
	body := header(s) + "\n" + "1,100,30,,0.1,2,0.2,3,0.3,4,0.4,5,0.5,6,0.6\n"
	r, err := NewReader(strings.NewReader(body), s)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !math.IsNaN(rec.RawObs[0]) {
		t.Errorf("expected NaN for blank observation, got %v", rec.RawObs[0])
	}
}

func TestReaderReportsRecordErrorOnInvalidLine(t *testing.T) {
	s := testSchema()
	body := header(s) + "\n" + "notanumber,100,30,1,0.1,2,0.2,3,0.3,4,0.4,5,0.5,6,0.6\n"
	r, err := NewReader(strings.NewReader(body), s)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	_, err = r.Next()
	if _, ok := err.(*RecordError); !ok {
		t.Fatalf("expected *RecordError, got %v (%T)", err, err)
	}
}

func TestNewReaderReportsConfigErrorOnMissingColumn(t *testing.T) {
	s := testSchema()
	_, err := NewReader(strings.NewReader("line,fid\n1,100\n"), s)
	cerr, ok := err.(*config.ConfigError)
	if !ok {
		t.Fatalf("expected *config.ConfigError, got %v (%T)", err, err)
	}
	if len(cerr.Messages) == 0 {
		t.Fatalf("expected a descriptive message, got none")
	}
}

func TestWriterEmitsHeaderOnceThenRows(t *testing.T) {
	var buf strings.Builder
	w := NewWriter(&buf)
	pr := PointRecord{Line: 7, NData: 12, NLayers: 3, Conductivity: []float64{1, 2, 3}, Thickness: []float64{10, 20, halfSpaceThickness}}
	if err := w.Write(pr); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(pr); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "ancillary,line,ndata,nlayers") {
		t.Errorf("expected header row first, got %q", lines[0])
	}
}

func TestPadThicknessAppendsFiniteHalfSpace(t *testing.T) {
	padded := PadThickness([]float64{10, 20})
	if len(padded) != 3 {
		t.Fatalf("expected length 3, got %d", len(padded))
	}
	if math.IsInf(padded[2], 0) || math.IsNaN(padded[2]) {
		t.Errorf("expected a finite half-space thickness, got %v", padded[2])
	}
}

func TestDepthFromThicknessIsCumulative(t *testing.T) {
	depth := DepthFromThickness([]float64{10, 20, 30})
	want := []float64{0, 10, 30}
	for i := range want {
		if depth[i] != want[i] {
			t.Errorf("depth[%d] = %v, want %v", i, depth[i], want[i])
		}
	}
}
