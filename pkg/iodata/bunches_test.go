package iodata

import (
	"io"
	"strconv"
	"strings"
	"testing"

	"tdeminv/pkg/config"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/logging"
)

func bunchTestSetup(t *testing.T, rows []string, soundingsPerBunch, subsample int) *BunchReader {
	t.Helper()
	s := testSchema()
	body := header(s) + "\n" + strings.Join(rows, "\n") + "\n"
	r, err := NewReader(strings.NewReader(body), s)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Options.SoundingsPerBunch = soundingsPerBunch
	cfg.Options.BunchSubsample = subsample
	raw := forward.NewSurveySpec([]int{2})
	return NewBunchReader(r, cfg, raw, logging.Discard())
}

func rowWithLine(line int) string {
	return strconv.Itoa(line) + ",100,30,1,0.1,2,0.2,3,0.3,4,0.4,5,0.5,6,0.6"
}

func TestBunchReaderNeverCrossesLineBoundary(t *testing.T) {
	rows := []string{rowWithLine(1), rowWithLine(1), rowWithLine(2)}
	br := bunchTestSetup(t, rows, 3, 1)

	b, err := br.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(b.Soundings) != 2 {
		t.Fatalf("expected 2 soundings from line 1, got %d", len(b.Soundings))
	}
	if b.Line != 1 {
		t.Errorf("expected bunch line 1, got %d", b.Line)
	}

	b2, err := br.Next()
	if err != nil {
		t.Fatalf("Next (second bunch): %v", err)
	}
	if len(b2.Soundings) != 1 || b2.Line != 2 {
		t.Fatalf("expected 1 sounding on line 2, got %d soundings, line %d", len(b2.Soundings), b2.Line)
	}

	if _, err := br.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestBunchReaderHonoursSoundingsPerBunch(t *testing.T) {
	rows := []string{rowWithLine(1), rowWithLine(1), rowWithLine(1), rowWithLine(1)}
	br := bunchTestSetup(t, rows, 2, 1)

	b, err := br.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(b.Soundings) != 2 {
		t.Fatalf("expected 2 soundings, got %d", len(b.Soundings))
	}

	b2, err := br.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(b2.Soundings) != 2 {
		t.Fatalf("expected 2 soundings, got %d", len(b2.Soundings))
	}
}

func TestBunchReaderHonoursSubsampleStride(t *testing.T) {
	rows := []string{rowWithLine(1), rowWithLine(1), rowWithLine(1), rowWithLine(1)}
	br := bunchTestSetup(t, rows, 4, 2)

	b, err := br.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(b.Soundings) != 2 {
		t.Fatalf("expected every-other sounding (2 of 4), got %d", len(b.Soundings))
	}
}

func TestBunchReaderSkipsMalformedRecords(t *testing.T) {
	rows := []string{rowWithLine(1), "notanumber,100,30,1,0.1,2,0.2,3,0.3,4,0.4,5,0.5,6,0.6", rowWithLine(1)}
	br := bunchTestSetup(t, rows, 2, 1)

	b, err := br.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(b.Soundings) != 2 {
		t.Fatalf("expected the malformed row skipped and 2 valid soundings bunched, got %d", len(b.Soundings))
	}
}
