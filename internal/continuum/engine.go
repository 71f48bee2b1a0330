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

// Package continuum removes the continuum of reflectance spectra with
// segmented upper convex hulls, and derives absorption integral indices
// per pixel of a spectral raster.
package continuum

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/mlnoga/asi/internal/peak"
)

// ErrInvalidParameter marks malformed configurations. It is shared with
// the peak detector, so errors.Is works across both packages.
var ErrInvalidParameter = peak.ErrInvalidParameter

// ErrCancelled is returned when a monitor requested cancellation between blocks
var ErrCancelled = errors.New("cancelled")

// Default analysis window for the three-band variant, in nm
const (
	ThreeBandLow  = 460.0
	ThreeBandHigh = 1105.0
)

// Wavelengths in nm the three-band anchors are initialized to
var anchorTargets = [5]float64{553, 554, 787, 900, 1105}

// Finds local maxima and minima in a sequence
type PeakFinder interface {
	Detect(y []float64, lookahead int, delta float64) (maxima, minima []peak.Extremum, err error)
}

// Band metadata of a spectral raster, read once before any pixel is processed
type Manifest struct {
	Wavelengths []float64 // band centers in nm, strictly increasing
	Excluded    []bool    // excluded bands, gap-filled before analysis. Nil for none
	NoData      float64   // input no-data sentinel. NaN is allowed
	Width       int
	Height      int
}

// A closed wavelength range in nm
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Engine configuration
type Config struct {
	Low            float64 `json:"low"`            // analysis window start, nm
	High           float64 `json:"high"`           // analysis window end, nm
	Lookahead      int     `json:"lookahead"`      // peak detection lookahead, in bands
	Delta          float64 `json:"delta"`          // minimum peak drop
	Mode           Mode    `json:"mode"`           // standard or three-band
	DivisionFactor float64 `json:"divisionFactor"` // raw values are divided by this to obtain reflectance
	NoData         float64 `json:"noData"`         // output no-data sentinel
	Exclude        []Range `json:"exclude"`        // wavelength ranges to gap-fill, on top of the manifest
	Threads        int     `json:"threads"`        // workers for block processing. 0 for GOMAXPROCS
}

// Returns the default configuration: 550-800 nm, lookahead 9, no delta
func DefaultConfig() Config {
	return Config{
		Low:            550,
		High:           800,
		Lookahead:      9,
		Delta:          0,
		Mode:           Standard,
		DivisionFactor: 1,
		NoData:         -999,
	}
}

// A configured continuum removal engine. Read-only after Configure,
// so a single engine is shared by all workers.
type Engine struct {
	cfg      Config
	wl       []float64 // all band wavelengths
	excluded []bool    // merged exclusion mask over all bands
	gapFill  bool      // true if an excluded band needs filling for the window
	noData   float64   // input sentinel
	lo, hi   int       // analysis window, inclusive band indices
	window   []float64 // wavelengths of the window bands
	anchors  [5]int    // window indices nearest the anchor targets
	fixedEnd int       // window index of the H2O hull area end
	red, nir int       // band indices nearest 668 and 827 nm
	width    int
	height   int
	detector PeakFinder
}

// Validates the configuration against the band manifest, and derives the
// analysis window, the exclusion mask and the three-band anchor table.
func Configure(m Manifest, cfg Config) (*Engine, error) {
	wl := m.Wavelengths
	if len(wl) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 bands, have %d", ErrInvalidParameter, len(wl))
	}
	for i, w := range wl {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: wavelength %d is not finite", ErrInvalidParameter, i)
		}
		if i > 0 && w <= wl[i-1] {
			return nil, fmt.Errorf("%w: wavelengths not strictly increasing at band %d (%g after %g)", ErrInvalidParameter, i, w, wl[i-1])
		}
	}
	if m.Excluded != nil && len(m.Excluded) != len(wl) {
		return nil, fmt.Errorf("%w: exclusion mask has %d entries for %d bands", ErrInvalidParameter, len(m.Excluded), len(wl))
	}
	if m.Width < 0 || m.Height < 0 {
		return nil, fmt.Errorf("%w: raster dimensions %dx%d", ErrInvalidParameter, m.Width, m.Height)
	}

	if cfg.Lookahead < 1 {
		return nil, fmt.Errorf("%w: lookahead %d must be at least 1", ErrInvalidParameter, cfg.Lookahead)
	}
	if cfg.Delta < 0 || math.IsNaN(cfg.Delta) {
		return nil, fmt.Errorf("%w: delta %g must be non-negative", ErrInvalidParameter, cfg.Delta)
	}
	if cfg.Mode != Standard && cfg.Mode != ThreeBand {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidParameter, int(cfg.Mode))
	}
	if cfg.DivisionFactor == 0 {
		cfg.DivisionFactor = 1
	}
	if !(cfg.DivisionFactor > 0) || math.IsInf(cfg.DivisionFactor, 0) {
		return nil, fmt.Errorf("%w: division factor %g must be positive", ErrInvalidParameter, cfg.DivisionFactor)
	}
	if cfg.Mode == ThreeBand && cfg.Low == 0 && cfg.High == 0 {
		cfg.Low, cfg.High = ThreeBandLow, ThreeBandHigh
	}
	if !(cfg.Low < cfg.High) {
		return nil, fmt.Errorf("%w: window start %g must be below window end %g", ErrInvalidParameter, cfg.Low, cfg.High)
	}
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.GOMAXPROCS(0)
	}

	e := &Engine{
		cfg:      cfg,
		wl:       append([]float64(nil), wl...),
		excluded: make([]bool, len(wl)),
		noData:   m.NoData,
		width:    m.Width,
		height:   m.Height,
		detector: peak.Detector{},
	}

	// snap the window to the nearest available wavelengths
	e.lo, e.hi = Nearest(wl, cfg.Low), Nearest(wl, cfg.High)
	if e.lo >= e.hi {
		return nil, fmt.Errorf("%w: window %g-%g nm covers less than 2 bands", ErrInvalidParameter, cfg.Low, cfg.High)
	}
	e.window = e.wl[e.lo : e.hi+1]

	// merge exclusions
	copy(e.excluded, m.Excluded)
	for _, r := range cfg.Exclude {
		if !(r.Low <= r.High) {
			return nil, fmt.Errorf("%w: exclusion range %g-%g", ErrInvalidParameter, r.Low, r.High)
		}
		for i, w := range wl {
			if w >= r.Low && w <= r.High {
				e.excluded[i] = true
			}
		}
	}
	valid := 0
	for i, x := range e.excluded {
		if !x {
			valid++
		} else if i >= e.lo && i <= e.hi {
			e.gapFill = true
		}
	}
	if e.gapFill && valid < 2 {
		return nil, fmt.Errorf("%w: only %d bands remain after exclusions", ErrInvalidParameter, valid)
	}

	for i, t := range anchorTargets {
		e.anchors[i] = Nearest(e.window, t)
	}
	e.fixedEnd = e.anchors[4]
	e.red, e.nir = Nearest(wl, 668), Nearest(wl, 827)
	return e, nil
}

// Returns the index of the value in the ascending slice xs closest to x.
// Ties resolve to the lower index. Returns -1 for an empty slice
func Nearest(xs []float64, x float64) int {
	best, bestDist := -1, math.Inf(1)
	for i, v := range xs {
		if d := math.Abs(v - x); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Returns the effective configuration, with defaults applied
func (e *Engine) Config() Config { return e.cfg }

// Returns the number of bands of the input spectra
func (e *Engine) NumBands() int { return len(e.wl) }

// Returns the number of bands in the analysis window
func (e *Engine) WindowBands() int { return len(e.window) }

// Returns the wavelengths of the analysis window bands. Must not be modified
func (e *Engine) Wavelengths() []float64 { return e.window }

// Returns the analysis window snapped to available wavelengths, in nm
func (e *Engine) Window() (low, high float64) { return e.window[0], e.window[len(e.window)-1] }

// Returns the first and last band index of the analysis window
func (e *Engine) BandRange() (lo, hi int) { return e.lo, e.hi }

// Returns the merged exclusion mask over all bands. Must not be modified
func (e *Engine) Excluded() []bool { return e.excluded }

// Returns the initial three-band anchors as window indices
func (e *Engine) Anchors() [5]int { return e.anchors }

// Returns the raster dimensions from the manifest
func (e *Engine) Dims() (width, height int) { return e.width, e.height }
