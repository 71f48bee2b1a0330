// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package continuum

import (
	"fmt"
	"math"

	"github.com/mlnoga/asi/internal/hull"
	"github.com/mlnoga/asi/internal/peak"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Private per-worker buffers
type scratch struct {
	full    []float64 // scaled and gap-filled copy of all bands
	cont    []float64 // continuum, if the caller does not keep it
	asm     hull.Assembler
	gaps    gapFiller
	indices []int
}

func (e *Engine) newScratch() *scratch {
	return &scratch{
		full: make([]float64, len(e.wl)),
		cont: make([]float64, len(e.window)),
	}
}

// Processes a single pixel spectrum with one value per manifest band.
// The result carries the continuum line, the continuum removed spectrum and
// the segmentation for plotting. Three-band regions are normalized against
// this pixel alone; use ProcessRaster or Output for raster-wide normalization.
func (e *Engine) ProcessPixel(spectrum []float64) Result {
	r := Result{
		Removed:   make([]float64, len(e.window)),
		Continuum: make([]float64, len(e.window)),
	}
	e.process(spectrum, e.newScratch(), &r)
	return r
}

// Runs the pipeline Init, GapFilled, Segmented, HullBuilt, IndicesComputed, Done.
// Writes the continuum and the removed spectrum into r.Continuum and r.Removed
// if these are non-nil. Never panics; failures mark the pixel invalid.
// Standard mode segments at the detected maxima only. The forced 554 nm
// anchor and the red shoulder removal apply to three-band mode alone.
func (e *Engine) process(raw []float64, s *scratch, r *Result) {
	defer func() {
		if p := recover(); p != nil {
			r.invalid(fmt.Sprintf("panic: %v", p))
		}
	}()

	r.Stage, r.Status = StageInit, StatusOK
	if len(raw) != len(e.wl) {
		r.invalid(fmt.Sprintf("spectrum has %d bands; want %d", len(raw), len(e.wl)))
		return
	}
	if isNoData(stat.Mean(raw, nil), e.noData) {
		r.Status = StatusNoData
		return
	}

	// scale to reflectance, and fill excluded bands
	div := e.cfg.DivisionFactor
	if e.gapFill {
		for i, v := range raw {
			s.full[i] = v / div
		}
		if err := s.gaps.fill(e.wl, s.full, e.excluded); err != nil {
			r.invalid(err.Error())
			return
		}
	} else {
		for i := e.lo; i <= e.hi; i++ {
			s.full[i] = raw[i] / div
		}
	}
	refl := s.full[e.lo : e.hi+1]
	for i, v := range refl {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			r.invalid(fmt.Sprintf("non-finite reflectance at %g nm", e.window[i]))
			return
		}
	}
	r.Stage = StageGapFilled

	maxima, _, err := e.detector.Detect(refl, e.cfg.Lookahead, e.cfg.Delta)
	if err != nil {
		r.invalid(err.Error())
		return
	}
	r.Maxima = maxima
	var boundaries []int
	var tb threeBandState
	if e.cfg.Mode == ThreeBand {
		boundaries, tb = e.threeBandBoundaries(maxima)
	} else {
		boundaries = hull.Boundaries(peak.Indices(maxima), len(refl))
	}
	r.Stage = StageSegmented

	cont := r.Continuum
	if cont == nil {
		cont = s.cont
	}
	r.Vertices, r.Segments, err = s.asm.Assemble(e.window, refl, boundaries, cont)
	if err != nil {
		r.invalid(err.Error())
		return
	}
	r.Stage = StageHullBuilt

	if r.Removed != nil {
		for i, h := range cont {
			cr := (h - refl[i]) / h
			if h == 0 || math.IsNaN(cr) {
				cr = 0
			}
			r.Removed[i] = cr
		}
	}
	if e.cfg.Mode == ThreeBand {
		e.applyIntercepts(refl, cont, &tb, s)
		r.Anchors = tb.anchors
		r.Areas = e.regionAreas(refl, cont, tb.anchors)
		r.Regions = r.Areas.Normalize(NormOf(r.Areas), e.cfg.NoData)
	} else {
		r.Index = absorptionIndex(refl, cont)
	}
	r.Stage = StageIndicesComputed

	if floats.Max(refl) > 1 {
		r.Status = StatusBadPixel
		r.Index, r.Areas, r.Regions = 0, RegionAreas{}, [3]float64{}
		return
	}
	r.Stage = StageDone
}

// Marks the result invalid at its current stage
func (r *Result) invalid(msg string) {
	r.Status, r.Err = StatusInvalid, msg
}

// Normalized log-ratio absorption area: (sum ln(1/r) - sum ln(1/h)) / sum ln(1/r).
// NaN terms are skipped.
func absorptionIndex(refl, cont []float64) float64 {
	sumR, sumH := 0.0, 0.0
	for i := range refl {
		if v := math.Log(1 / refl[i]); !math.IsNaN(v) {
			sumR += v
		}
		if v := math.Log(1 / cont[i]); !math.IsNaN(v) {
			sumH += v
		}
	}
	if sumR == sumH {
		return 0
	}
	return (sumR - sumH) / sumR
}

func isNoData(v, noData float64) bool {
	if math.IsNaN(noData) {
		return math.IsNaN(v)
	}
	return v == noData
}
