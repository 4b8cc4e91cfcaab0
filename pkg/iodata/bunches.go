package iodata

import (
	"io"

	"tdeminv/pkg/bunch"
	"tdeminv/pkg/config"
	"tdeminv/pkg/forward"
	"tdeminv/pkg/logging"
)

// BunchReader groups a Reader's records into bunches per spec.md §6:
// nSoundings consecutive records sharing the current line number (a
// bunch never crosses a line boundary), honouring a BunchSubsample
// stride, and skipping individual malformed or invalid records with a
// logged reason rather than aborting the stream.
type BunchReader struct {
	recs       *Reader
	cfg        *config.Config
	raw        forward.SurveySpec
	sel        bunch.ComponentSelection
	log        *logging.Logger
	nSoundings int
	subsample  int
	bunchIndex int
	pending    *Record // a record read but stashed at a line boundary for the next bunch
	eof        bool
}

// NewBunchReader builds a BunchReader from a configured Reader.
func NewBunchReader(recs *Reader, cfg *config.Config, raw forward.SurveySpec, log *logging.Logger) *BunchReader {
	if log == nil {
		log = logging.Discard()
	}
	n := cfg.Options.SoundingsPerBunch
	if n < 1 {
		n = 1
	}
	sub := cfg.Options.BunchSubsample
	if sub < 1 {
		sub = 1
	}
	return &BunchReader{
		recs:       recs,
		cfg:        cfg,
		raw:        raw,
		sel:        cfg.Options.ComponentSelection(),
		log:        log,
		nSoundings: n,
		subsample:  sub,
	}
}

// nextValidRecord reads the next record straight from the underlying
// Reader, logging and skipping any RecordError along the way.
func (b *BunchReader) nextValidRecord() (*Record, error) {
	for {
		rec, err := b.recs.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if rerr, ok := err.(*RecordError); ok {
			b.log.Warnf("skipping invalid record: %v", rerr)
			continue
		}
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// Next assembles the next bunch: up to nSoundings consecutive records
// sharing a line number, subsampled by BunchSubsample, skipping a
// subsampled-out record's contribution to the running count but not to
// the line-boundary check. Returns io.EOF once the stream is exhausted
// with no further soundings to bunch.
func (b *BunchReader) Next() (*bunch.Bunch, error) {
	if b.eof {
		return nil, io.EOF
	}

	var soundings []bunch.Sounding
	line := -1
	seen := 0

	for len(soundings) < b.nSoundings {
		var rec *Record
		var err error
		if b.pending != nil {
			rec, b.pending = b.pending, nil
		} else {
			rec, err = b.nextValidRecord()
		}
		if err == io.EOF {
			b.eof = true
			break
		}
		if err != nil {
			return nil, err
		}

		if line == -1 {
			line = rec.Line
		} else if rec.Line != line {
			// Line boundary: stash for the next bunch, stop this one.
			b.pending = rec
			break
		}

		seen++
		if (seen-1)%b.subsample != 0 {
			continue // subsampled out, but still consumed from the stream
		}

		soundings = append(soundings, BuildSounding(rec, b.cfg))
	}

	if len(soundings) == 0 {
		return nil, io.EOF
	}

	b.bunchIndex++
	logical := bunch.NewLogicalSpec(b.raw, b.sel)
	return &bunch.Bunch{
		Line:      line,
		Soundings: soundings,
		Logical:   logical,
	}, nil
}

// BunchIndex is the 0-based sequential index of the bunch most recently
// returned by Next, used against a (size, rank) work-distribution pair
// per spec.md §9 ("job_index mod size == rank").
func (b *BunchReader) BunchIndex() int { return b.bunchIndex - 1 }
