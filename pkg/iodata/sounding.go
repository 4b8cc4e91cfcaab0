package iodata

import (
	"tdeminv/pkg/bunch"
	"tdeminv/pkg/config"
	"tdeminv/pkg/earth"
	"tdeminv/pkg/geometry"
)

// geometrySiblingsFromConfig builds the ref/std/min/max geometry variants
// shared by every sounding in a survey: the control file's Input.Geometry
// block fixes these per element, while the input record supplies only
// the per-sounding observed value (spec.md §6, "Input.Geometry").
func geometrySiblingsFromConfig(cfg *config.Config) geometry.Siblings {
	var s geometry.Siblings
	for _, g := range cfg.Input.Geometry {
		s.Ref.SetByName(g.Name, g.Ref)
		s.Std.SetByName(g.Name, g.Std)
		s.Min.SetByName(g.Name, g.Min)
		s.Max.SetByName(g.Name, g.Max)
	}
	return s
}

// earthSiblingsFromConfig builds the starting layered-earth model shared
// by every sounding from the control file's Input.Earth block (spec.md
// §6, "Input.Earth.{Conductivity,Thickness}").
func earthSiblingsFromConfig(cfg *config.Config) earth.Siblings {
	ce := cfg.Input.Earth.Conductivity
	te := cfg.Input.Earth.Thickness
	return earth.Siblings{
		Ref: earth.LayeredEarth{Conductivity: ce.Ref, Thickness: te.Ref},
		Std: earth.LayeredEarth{Conductivity: ce.Std, Thickness: te.Std},
		Min: earth.LayeredEarth{Conductivity: ce.Min, Thickness: te.Min},
		Max: earth.LayeredEarth{Conductivity: ce.Max, Thickness: te.Max},
	}
}

// BuildSounding combines one parsed Record with the control file's
// shared geometry/earth reference model into a bunch.Sounding, ready to
// be grouped into a bunch.Bunch.
func BuildSounding(rec *Record, cfg *config.Config) bunch.Sounding {
	gsib := geometrySiblingsFromConfig(cfg)
	gsib.Input = rec.Geometry

	esib := earthSiblingsFromConfig(cfg)

	return bunch.Sounding{
		Line:      rec.Line,
		Ancillary: rec.Ancillary,
		Earth:     esib,
		Geometry:  gsib,
		RawObs:    rec.RawObs,
		RawErr:    rec.RawErr,
	}
}
