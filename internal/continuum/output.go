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
)

// Names of the three-band output bands
var RegionNames = [3]string{"Car/Cab", "Cab", "H2O"}

// A BlockSink collecting the index raster of a run in memory, and optionally
// the continuum removed cube. Planes are band-sequential float32, with
// non-finite values replaced by the output no-data sentinel. Three-band
// regions are normalized by raster-wide maxima in Finalize.
type Output struct {
	Width, Height int
	Mode          Mode
	NoData        float32   // output sentinel
	Bands         []string  // names of the index bands
	Data          []float32 // index bands, len(Bands)*Width*Height
	Wavelengths   []float64 // window wavelengths, for the removed cube
	Removed       []float32 // continuum removed cube, len(Wavelengths)*Width*Height. Nil if not kept
	NonFinite     int       // values replaced by the sentinel

	areas     []RegionAreas
	status    []Status
	norm      RegionNorm
	finalized bool
}

// Creates an output sink for the given engine. If keepRemoved is set, the
// continuum removed spectra of all pixels are kept, too.
func NewOutput(e *Engine, keepRemoved bool) *Output {
	w, h := e.Dims()
	plane := w * h
	o := &Output{
		Width:       w,
		Height:      h,
		Mode:        e.cfg.Mode,
		NoData:      float32(e.cfg.NoData),
		Wavelengths: e.window,
	}
	if o.Mode == ThreeBand {
		o.Bands = RegionNames[:]
		o.areas = make([]RegionAreas, plane)
		o.status = make([]Status, plane)
	} else {
		low, high := e.Window()
		o.Bands = []string{fmt.Sprintf("Spectral Integral: [%d nm - %d nm]", int(math.Round(low)), int(math.Round(high)))}
	}
	o.Data = make([]float32, len(o.Bands)*plane)
	if keepRemoved {
		o.Removed = make([]float32, len(o.Wavelengths)*plane)
	}
	return o
}

// Returns true if the sink needs continuum removed spectra in the results
func (o *Output) KeepSpectra() bool { return o.Removed != nil }

// Returns band b of the index raster
func (o *Output) Plane(b int) []float32 {
	plane := o.Width * o.Height
	return o.Data[b*plane : (b+1)*plane]
}

// Stores the results of rows [y0, y0+rows)
func (o *Output) WriteRows(y0, rows int, results []Result) error {
	if len(results) != rows*o.Width {
		return fmt.Errorf("%d results for %d rows of width %d", len(results), rows, o.Width)
	}
	if y0 < 0 || y0+rows > o.Height {
		return fmt.Errorf("rows %d-%d out of bounds for height %d", y0, y0+rows-1, o.Height)
	}
	plane := o.Width * o.Height
	for k := range results {
		r, p := &results[k], y0*o.Width+k
		if o.Mode == ThreeBand {
			o.areas[p], o.status[p] = r.Areas, r.Status
			if r.Status == StatusOK {
				o.norm.Update(r.Areas)
			}
		} else {
			switch r.Status {
			case StatusOK:
				o.Data[p] = o.sanitize(r.Index)
			case StatusBadPixel:
				o.Data[p] = 0
			default:
				o.Data[p] = o.NoData
			}
		}
		if o.Removed != nil {
			for b := range o.Wavelengths {
				v := o.NoData
				if r.Removed != nil && (r.Status == StatusOK || r.Status == StatusBadPixel) {
					v = o.sanitize(r.Removed[b])
				}
				o.Removed[b*plane+p] = v
			}
		}
	}
	return nil
}

// Normalizes the three-band regions by the raster-wide maxima. Idempotent.
func (o *Output) Finalize() {
	if o.finalized || o.Mode != ThreeBand {
		o.finalized = true
		return
	}
	plane := o.Width * o.Height
	for p := 0; p < plane; p++ {
		switch o.status[p] {
		case StatusOK:
			for b, v := range o.areas[p].ratios(o.norm) {
				o.Data[b*plane+p] = o.sanitize(v)
			}
		case StatusBadPixel:
			for b := range RegionNames {
				o.Data[b*plane+p] = 0
			}
		default:
			for b := range RegionNames {
				o.Data[b*plane+p] = o.NoData
			}
		}
	}
	o.finalized = true
}

// Returns the raster-wide normalization constants seen so far
func (o *Output) Norm() RegionNorm { return o.norm }

func (o *Output) sanitize(v float64) float32 {
	f := float32(v)
	if math.IsNaN(v) || math.IsInf(float64(f), 0) {
		o.NonFinite++
		return o.NoData
	}
	return f
}
