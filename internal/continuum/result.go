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
	"sync"

	"github.com/mlnoga/asi/internal/hull"
	"github.com/mlnoga/asi/internal/peak"
)

// Analysis mode of the engine
type Mode int

const (
	Standard  Mode = iota // single absorption integral over the analysis window
	ThreeBand             // Car/Cab, Cab and H2O region integrals
)

var modeNames = []string{"standard", "threeBand"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	if m < 0 || int(m) >= len(modeNames) {
		return nil, fmt.Errorf("%w: unknown mode %d", ErrInvalidParameter, int(m))
	}
	return []byte(modeNames[m]), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "standard", "std", "0":
		*m = Standard
	case "threeBand", "3band", "1":
		*m = ThreeBand
	default:
		return fmt.Errorf("%w: unknown mode '%s'", ErrInvalidParameter, string(b))
	}
	return nil
}

// Terminal status of a pixel
type Status int

const (
	StatusOK       Status = iota // indices computed
	StatusNoData                 // pixel mean equals the no-data sentinel
	StatusBadPixel               // reflectance above 1 in the window, indices forced to 0
	StatusInvalid                // pipeline failed for this pixel
)

var statusNames = []string{"ok", "noData", "badPixel", "invalid"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	i, err := parseName(statusNames, b)
	*s = Status(i)
	return err
}

// Pipeline stage reached for a pixel
type Stage int

const (
	StageInit Stage = iota
	StageGapFilled
	StageSegmented
	StageHullBuilt
	StageIndicesComputed
	StageDone
)

var stageNames = []string{"init", "gapFilled", "segmented", "hullBuilt", "indicesComputed", "done"}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Stage) UnmarshalText(b []byte) error {
	i, err := parseName(stageNames, b)
	*s = Stage(i)
	return err
}

func parseName(names []string, b []byte) (int, error) {
	for i, n := range names {
		if n == string(b) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown name '%s'", string(b))
}

// Raw three-band region sums of a single pixel, before raster-wide normalization
type RegionAreas struct {
	CrArea [2]float64 `json:"crArea"` // Car/Cab and Cab: sum of (ln(1/r)-ln(1/h))/ln(1/r)
	Ones   [2]float64 `json:"ones"`   // Car/Cab and Cab: number of bands summed
	Absorb float64    `json:"absorb"` // H2O: sum of ln(1/r)-ln(1/h)
	Hull   float64    `json:"hull"`   // H2O: sum of ln(1/h) up to the fixed end anchor
}

// Per-region normalization constants, the maxima of RegionAreas across a raster
type RegionNorm struct {
	Ones [2]float64 `json:"ones"`
	Hull float64    `json:"hull"`
}

// Returns the normalization constants for a single pixel
func NormOf(a RegionAreas) RegionNorm {
	var n RegionNorm
	n.Update(a)
	return n
}

// Raises the constants to include the given areas. NaN values are ignored
func (n *RegionNorm) Update(a RegionAreas) {
	for i := 0; i < 2; i++ {
		if a.Ones[i] > n.Ones[i] {
			n.Ones[i] = a.Ones[i]
		}
	}
	if a.Hull > n.Hull {
		n.Hull = a.Hull
	}
}

// Normalizes region areas into the Car/Cab, Cab and H2O indices. Infinite
// constants count as zero. Negative results are clamped to 0, non-finite
// results are replaced by noData.
func (a RegionAreas) Normalize(n RegionNorm, noData float64) [3]float64 {
	res := a.ratios(n)
	for i, v := range res {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			res[i] = noData
		}
	}
	return res
}

// Returns the normalized indices, which may be non-finite
func (a RegionAreas) ratios(n RegionNorm) (res [3]float64) {
	ones, hullMax := n.Ones, n.Hull
	for i := range ones {
		if math.IsInf(ones[i], 0) {
			ones[i] = 0
		}
	}
	if math.IsInf(hullMax, 0) {
		hullMax = 0
	}
	for i := 0; i < 2; i++ {
		cr := a.CrArea[i]
		if cr <= 0 {
			cr = 0
		}
		res[i] = cr / ones[i]
	}
	res[2] = a.Absorb / hullMax
	for i, v := range res {
		if v < 0 {
			res[i] = 0
		}
	}
	return res
}

// Per-pixel result of the continuum removal pipeline
type Result struct {
	Status    Status          `json:"status" msgpack:"status"`
	Stage     Stage           `json:"stage" msgpack:"stage"`
	Index     float64         `json:"index" msgpack:"index"`     // absorption integral, standard mode
	Areas     RegionAreas     `json:"areas" msgpack:"areas"`     // raw region sums, three-band mode
	Regions   [3]float64      `json:"regions" msgpack:"regions"` // Car/Cab, Cab, H2O normalized against this pixel only
	Removed   []float64       `json:"removed,omitempty" msgpack:"removed,omitempty"`
	Continuum []float64       `json:"continuum,omitempty" msgpack:"continuum,omitempty"`
	Maxima    []peak.Extremum `json:"maxima,omitempty" msgpack:"maxima,omitempty"`
	Segments  []hull.Segment  `json:"segments,omitempty" msgpack:"segments,omitempty"`
	Vertices  []int           `json:"vertices,omitempty" msgpack:"vertices,omitempty"`
	Anchors   [5]int          `json:"anchors" msgpack:"anchors"` // three-band anchors, window indices
	Err       string          `json:"err,omitempty" msgpack:"err,omitempty"`
}

// Returns true if the scalar results of an OK pixel are all finite
func (r *Result) Finite() bool {
	if r.Status != StatusOK {
		return true
	}
	if math.IsNaN(r.Index) || math.IsInf(r.Index, 0) {
		return false
	}
	for _, v := range r.Regions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Replaces every NaN or infinite value in the result by noData, so it can
// be encoded as JSON. Modifies the spectra in place.
func (r *Result) Sanitize(noData float64) {
	fix := func(v *float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = noData
		}
	}
	fix(&r.Index)
	for i := range r.Areas.CrArea {
		fix(&r.Areas.CrArea[i])
		fix(&r.Areas.Ones[i])
	}
	fix(&r.Areas.Absorb)
	fix(&r.Areas.Hull)
	for i := range r.Regions {
		fix(&r.Regions[i])
	}
	for i := range r.Removed {
		fix(&r.Removed[i])
	}
	for i := range r.Continuum {
		fix(&r.Continuum[i])
	}
	for i := range r.Maxima {
		fix(&r.Maxima[i].Value)
	}
}

// Aggregate pixel counts of a run, for diagnostics
type Counts struct {
	OK        int `json:"ok"`
	NoData    int `json:"noData"`
	BadPixel  int `json:"badPixel"`
	Invalid   int `json:"invalid"`
	NonFinite int `json:"nonFinite"`
}

// Adds a result to the counts
func (c *Counts) Add(r *Result) {
	switch r.Status {
	case StatusOK:
		c.OK++
		if !r.Finite() {
			c.NonFinite++
		}
	case StatusNoData:
		c.NoData++
	case StatusBadPixel:
		c.BadPixel++
	default:
		c.Invalid++
	}
}

// Adds other counts to these
func (c *Counts) Merge(o Counts) {
	c.OK += o.OK
	c.NoData += o.NoData
	c.BadPixel += o.BadPixel
	c.Invalid += o.Invalid
	c.NonFinite += o.NonFinite
}

// Accumulates the counts of several runs. Safe for concurrent use
type Tally struct {
	mutex  sync.Mutex
	counts Counts
}

func (t *Tally) Merge(c Counts) {
	t.mutex.Lock()
	t.counts.Merge(c)
	t.mutex.Unlock()
}

// Returns the counts merged so far
func (t *Tally) Counts() Counts {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.counts
}

// Total number of pixels counted
func (c Counts) Total() int {
	return c.OK + c.NoData + c.BadPixel + c.Invalid
}

func (c Counts) String() string {
	return fmt.Sprintf("%d pixels: %d ok, %d no data, %d bad, %d invalid, %d non-finite",
		c.Total(), c.OK, c.NoData, c.BadPixel, c.Invalid, c.NonFinite)
}
