package iodata

import (
	"strings"
	"testing"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/config"
	"tdeminv/pkg/earth"
	"tdeminv/pkg/gaussnewton"
	"tdeminv/pkg/geometry"
)

func TestBuildPointRecordCarriesAncillaryAndPaddedThickness(t *testing.T) {
	cfg := config.DefaultConfig()

	var g geometry.Geometry
	g.SetByName("tx_height", 32)
	snd := bunch.Sounding{
		Line:      5,
		Ancillary: map[string]string{"line": "5", "fid": "42"},
		Geometry:  geometry.Siblings{Input: g},
	}
	b := &bunch.Bunch{Line: 5, Soundings: []bunch.Sounding{snd}}

	st := &gaussnewton.State{
		Pred:           []float64{1, 2, 3},
		InvertedEarths: []earth.LayeredEarth{{Conductivity: []float64{0.1, 0.01}, Thickness: []float64{20}}},
		InvertedGeoms:  []geometry.Geometry{g},
	}

	pr := BuildPointRecord(b, st, cfg)

	if pr.NData != 3 {
		t.Errorf("expected ndata=3, got %d", pr.NData)
	}
	if pr.NLayers != 2 {
		t.Errorf("expected nlayers=2, got %d", pr.NLayers)
	}
	if len(pr.Thickness) != 2 || pr.Thickness[1] != halfSpaceThickness {
		t.Fatalf("expected padded thickness ending in halfSpaceThickness, got %v", pr.Thickness)
	}
	if pr.Ancillary["fid"] != "42" {
		t.Errorf("expected ancillary fid=42 to survive, got %v", pr.Ancillary)
	}

	var buf strings.Builder
	w := NewWriter(&buf)
	if err := w.Write(pr); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !strings.Contains(buf.String(), "fid=42") {
		t.Errorf("expected serialized ancillary field in output, got %q", buf.String())
	}
}
