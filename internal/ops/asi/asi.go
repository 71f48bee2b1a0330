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
	"math"
	"strings"
	"time"

	"github.com/mlnoga/asi/internal/continuum"
	"github.com/mlnoga/asi/internal/fits"
	"github.com/mlnoga/asi/internal/ops"
)

// Default division factor for integer cubes, which store reflectance scaled by 10000
const IntegerDivisionFactor = 10000

// Continuum removal of a spectral cube. Takes one input cube, produces one
// output cube with the absorption index band, or the three normalized
// Car/Cab, Cab and H2O bands. Optionally saves the continuum removed cube.
type OpASI struct {
	ops.OpUnaryBase
	continuum.Config
	ExcludeDefaults bool   `json:"excludeDefaults"` // gap-fill water vapour and EnMAP overlap bands
	CRSPattern      string `json:"crs"`             // save pattern for the continuum removed cube. Empty to skip
	BlockRows       int    `json:"blockRows"`       // rows per block. 0 derives it from the memory budget
}

var _ ops.Operator = (*OpASI)(nil) // this type is an Operator

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpASIDefault() }) } // register the operator for JSON decoding

func NewOpASIDefault() *OpASI {
	cfg := continuum.DefaultConfig()
	cfg.DivisionFactor = 0 // auto
	cfg.Low, cfg.High = 0, 0 // by mode
	return NewOpASI(cfg, false, "")
}

func NewOpASI(cfg continuum.Config, excludeDefaults bool, crsPattern string) *OpASI {
	op := OpASI{
		OpUnaryBase:     ops.OpUnaryBase{OpBase: ops.OpBase{Type: "asi", Active: true}},
		Config:          cfg,
		ExcludeDefaults: excludeDefaults,
		CRSPattern:      crsPattern,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpASI) UnmarshalJSON(data []byte) error {
	type defaults OpASI
	def := defaults(*NewOpASIDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpASI(def)
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Returns the engine configuration for the given cube, resolving automatic
// division factor and thread count
func ResolveConfig(cfg continuum.Config, f *fits.Cube, c *ops.Context) continuum.Config {
	if cfg.DivisionFactor == 0 {
		cfg.DivisionFactor = 1
		if f.Bitpix > 0 && f.Bscale == 1 {
			cfg.DivisionFactor = IntegerDivisionFactor
		}
	}
	if cfg.Threads <= 0 {
		cfg.Threads = c.MaxThreads
	}
	if cfg.Low == 0 && cfg.High == 0 {
		if cfg.Mode == continuum.ThreeBand {
			cfg.Low, cfg.High = continuum.ThreeBandLow, continuum.ThreeBandHigh
		} else {
			def := continuum.DefaultConfig()
			cfg.Low, cfg.High = def.Low, def.High
		}
	}
	return cfg
}

// Builds the band manifest of a cube
func Manifest(f *fits.Cube, excludeDefaults bool) (m continuum.Manifest, err error) {
	if len(f.Wavelengths) != f.Bands {
		return m, fmt.Errorf("%d: cube %s carries %d wavelengths for %d bands", f.ID, f.FileName, len(f.Wavelengths), f.Bands)
	}
	m = continuum.Manifest{
		Wavelengths: f.Wavelengths,
		NoData:      float64(f.NoData),
		Width:       f.Width,
		Height:      f.Height,
	}
	if excludeDefaults {
		m.Excluded = continuum.DefaultExclusions(f.Wavelengths)
	}
	return m, nil
}

// Returns the rows per block so that two blocks of float64 spectra, their
// results and the output fit into the given memory budget
func BlockRowsFor(f *fits.Cube, budgetMB int) int {
	bytesPerRow := int64(f.Width) * int64(f.Bands) * 8 * 3
	if bytesPerRow <= 0 || budgetMB <= 0 {
		return 1
	}
	rows := int64(budgetMB) * 1024 * 1024 / bytesPerRow
	if rows < 1 {
		return 1
	}
	if rows > int64(f.Height) {
		return f.Height
	}
	return int(rows)
}

// Derives the output file name of a product from the input file name
func ProductFileName(input string, mode continuum.Mode, product string) string {
	base := ops.TrimFITSExt(input)
	if product != "" {
		return base + "_" + product + ".fits"
	}
	if mode == continuum.ThreeBand {
		return base + "_3band_car_cab_h2o.fits"
	}
	return base + "_asi.fits"
}

func (op *OpASI) Apply(f *fits.Cube, c *ops.Context) (result *fits.Cube, err error) {
	if !op.Active {
		return f, nil
	}
	m, err := Manifest(f, op.ExcludeDefaults)
	if err != nil {
		return nil, err
	}
	cfg := ResolveConfig(op.Config, f, c)
	e, err := continuum.Configure(m, cfg)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	cfg = e.Config()
	low, high := e.Window()
	fmt.Fprintf(c.Log, "%d: Removing continuum in %s mode over %d bands from %.1f to %.1f nm, lookahead %d, delta %g, division factor %g\n",
		f.ID, cfg.Mode, e.WindowBands(), low, high, cfg.Lookahead, cfg.Delta, cfg.DivisionFactor)
	if excl := countTrue(e.Excluded()); excl > 0 {
		fmt.Fprintf(c.Log, "%d: Gap-filling %d excluded bands\n", f.ID, excl)
	}

	out := continuum.NewOutput(e, op.CRSPattern != "")
	rows := op.BlockRows
	if rows <= 0 {
		rows = BlockRowsFor(f, c.BlockMemoryMB)
	}
	mon := continuum.NewProgress(c.Monitor, c.Log)

	start := time.Now()
	counts, err := e.ProcessRaster(f, out, continuum.RasterOptions{BlockRows: rows, KeepSpectra: out.KeepSpectra()}, mon)
	if err != nil {
		if errors.Is(err, continuum.ErrCancelled) {
			fmt.Fprintf(c.Log, "%d: Cancelled after %s\n", f.ID, counts)
		}
		return nil, fmt.Errorf("%d: %w", f.ID, err)
	}
	out.Finalize()
	counts.NonFinite = out.NonFinite
	if c.Tally != nil {
		c.Tally.Merge(counts)
	}
	fmt.Fprintf(c.Log, "%d: Processed %s in %d-row blocks in %v\n", f.ID, counts, rows, time.Since(start).Round(time.Millisecond))
	if cfg.Mode == continuum.ThreeBand {
		n := out.Norm()
		fmt.Fprintf(c.Log, "%d: Normalization maxima Ones %.4g, Hull %.4g\n", f.ID, n.Ones, n.Hull)
	}

	if op.CRSPattern != "" {
		crs := fits.NewCubeFromDims(out.Width, out.Height, len(out.Wavelengths), out.Removed)
		crs.ID = f.ID
		crs.FileName = ProductFileName(f.FileName, cfg.Mode, "crs")
		crs.Wavelengths = append([]float64(nil), out.Wavelengths...)
		crs.NoData = out.NoData
		crs.Header.History = append(crs.Header.History, history(f, cfg, "continuum removed spectra"))
		fileName := ops.ExpandFileName(op.CRSPattern, crs)
		if err = ops.SaveCube(crs, fileName, 1, c.Log); err != nil {
			return nil, err
		}
	}

	res := fits.NewCubeFromDims(out.Width, out.Height, len(out.Bands), out.Data)
	res.ID = f.ID
	res.FileName = ProductFileName(f.FileName, cfg.Mode, "")
	res.BandNames = append([]string(nil), out.Bands...)
	res.NoData = out.NoData
	res.Header.History = append(res.Header.History, history(f, cfg, "absorption index"))
	return res, nil
}

func history(f *fits.Cube, cfg continuum.Config, what string) string {
	name := f.FileName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return fmt.Sprintf("asi %s of %s, %s mode %g-%g nm, lookahead %d, delta %g",
		what, name, cfg.Mode, math.Round(cfg.Low), math.Round(cfg.High), cfg.Lookahead, cfg.Delta)
}

func countTrue(bs []bool) (n int) {
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
