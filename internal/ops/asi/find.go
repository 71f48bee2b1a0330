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

package asi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mlnoga/asi/internal/continuum"
	"github.com/mlnoga/asi/internal/fits"
	"github.com/mlnoga/asi/internal/ops"
)

var errNoVegetation = errors.New("no vegetation pixel found")

// Finds an example pixel and logs its peaks, hull vertices and continuum
// removal table. Searches the first vegetation pixel in row-major order
// unless X and Y are set. Takes one input, produces the unchanged input.
type OpFind struct {
	ops.OpUnaryBase
	continuum.Config
	ExcludeDefaults bool `json:"excludeDefaults"`
	X               int  `json:"x"` // pixel column, -1 to search
	Y               int  `json:"y"` // pixel row, -1 to search
}

var _ ops.Operator = (*OpFind)(nil) // this type is an Operator

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpFindDefault() }) } // register the operator for JSON decoding

func NewOpFindDefault() *OpFind {
	cfg := NewOpASIDefault().Config
	return NewOpFind(cfg, false, -1, -1)
}

func NewOpFind(cfg continuum.Config, excludeDefaults bool, x, y int) *OpFind {
	op := OpFind{
		OpUnaryBase:     ops.OpUnaryBase{OpBase: ops.OpBase{Type: "find", Active: true}},
		Config:          cfg,
		ExcludeDefaults: excludeDefaults,
		X:               x,
		Y:               y,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpFind) UnmarshalJSON(data []byte) error {
	type defaults OpFind
	def := defaults(*NewOpFindDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpFind(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpFind) Apply(f *fits.Cube, c *ops.Context) (result *fits.Cube, err error) {
	if !op.Active {
		return f, nil
	}
	m, err := Manifest(f, op.ExcludeDefaults)
	if err != nil {
		return nil, err
	}
	e, err := continuum.Configure(m, ResolveConfig(op.Config, f, c))
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}

	x, y := op.X, op.Y
	if x < 0 || y < 0 {
		if x, y, err = FindVegetation(e, f); err != nil {
			return nil, fmt.Errorf("%d: %w in %s", f.ID, err, f.FileName)
		}
		fmt.Fprintf(c.Log, "%d: Found vegetation pixel at x=%d y=%d\n", f.ID, x, y)
	} else if x >= f.Width || y >= f.Height {
		return nil, fmt.Errorf("%d: pixel %d,%d outside %s", f.ID, x, y, f.DimensionsToString())
	}

	spectrum := f.Spectrum(x, y, nil)
	ndvi, nir := e.NDVI(spectrum)
	fmt.Fprintf(c.Log, "%d: Pixel x=%d y=%d has NDVI %.3f, NIR reflectance %.3f\n", f.ID, x, y, ndvi, nir)
	r := e.ProcessPixel(spectrum)
	WriteReport(c.Log, e, spectrum, &r)
	return f, nil
}

// Returns the first vegetation pixel of the cube in row-major order
func FindVegetation(e *continuum.Engine, f *fits.Cube) (x, y int, err error) {
	row := make([][]float64, f.Width)
	for i := range row {
		row[i] = make([]float64, f.Bands)
	}
	for y = 0; y < f.Height; y++ {
		if err = f.ReadRows(y, 1, row); err != nil {
			return -1, -1, err
		}
		if x = e.FindVegetation(row); x >= 0 {
			return x, y, nil
		}
	}
	return -1, -1, errNoVegetation
}

// Writes the peaks, hull vertices and continuum removal table of a pixel result
func WriteReport(w io.Writer, e *continuum.Engine, spectrum []float64, r *continuum.Result) {
	wl := e.Wavelengths()
	fmt.Fprintf(w, "Status %s at stage %s", r.Status, r.Stage)
	if r.Err != "" {
		fmt.Fprintf(w, ": %s", r.Err)
	}
	fmt.Fprintln(w)
	if r.Status != continuum.StatusOK && r.Status != continuum.StatusBadPixel {
		return
	}

	fmt.Fprintf(w, "Peaks:")
	for _, p := range r.Maxima {
		fmt.Fprintf(w, " %.1f nm (%.4f)", wl[p.Index], p.Value)
	}
	fmt.Fprintf(w, "\nSegments:")
	for _, s := range r.Segments {
		fmt.Fprintf(w, " [%.1f-%.1f]", wl[s.Start], wl[s.End])
	}
	fmt.Fprintf(w, "\nHull vertices:")
	for _, v := range r.Vertices {
		fmt.Fprintf(w, " %.1f", wl[v])
	}
	fmt.Fprintln(w)

	if e.Config().Mode == continuum.ThreeBand {
		for i, a := range r.Anchors {
			fmt.Fprintf(w, "Anchor %d: %.1f nm\n", i, wl[a])
		}
		for i, name := range continuum.RegionNames {
			fmt.Fprintf(w, "%s: %.4f\n", name, r.Regions[i])
		}
	} else {
		fmt.Fprintf(w, "Absorption index: %.6f\n", r.Index)
	}

	lo, _ := e.BandRange()
	div := e.Config().DivisionFactor
	fmt.Fprintf(w, "%10s %12s %12s %12s\n", "nm", "reflectance", "continuum", "removed")
	for i := range wl {
		fmt.Fprintf(w, "%10.1f %12.6f %12.6f %12.6f\n", wl[i], spectrum[lo+i]/div, r.Continuum[i], r.Removed[i])
	}
}
