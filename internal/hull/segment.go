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

package hull

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// A contiguous range of band indices [Start, End], both inclusive.
// Consecutive segments share their boundary band.
type Segment struct {
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end"   msgpack:"end"`
}

var errBoundaries = errors.New("segment boundaries must end at the last band")

// Returns the segment boundaries for a spectrum of n bands: the given peak
// indices, followed by the last band index as terminal sentinel. Indices
// outside [0, n-1) or not increasing are dropped.
func Boundaries(peaks []int, n int) []int {
	if n <= 0 {
		return nil
	}
	res := make([]int, 0, len(peaks)+1)
	for _, p := range peaks {
		if p < 0 || p >= n-1 {
			continue
		}
		if len(res) > 0 && p <= res[len(res)-1] {
			continue
		}
		res = append(res, p)
	}
	return append(res, n-1)
}

// Splits [0, last boundary] into segments between consecutive boundaries.
// A boundary at index 0 does not produce an empty segment.
func Split(boundaries []int) []Segment {
	if len(boundaries) == 0 {
		return nil
	}
	segs := make([]Segment, 0, len(boundaries))
	start := 0
	for _, b := range boundaries {
		if b > start {
			segs = append(segs, Segment{start, b})
			start = b
		}
	}
	if len(segs) == 0 {
		segs = append(segs, Segment{0, boundaries[len(boundaries)-1]})
	}
	return segs
}

// An Assembler builds continuum lines from per-segment upper hulls.
// It owns scratch buffers, so each goroutine needs its own instance.
type Assembler struct {
	points   []Point
	hull     []Point
	vertices []int
	xs, ys   []float64
}

// Assembles the continuum line of the spectrum (wl, refl) segmented at the
// given boundaries into dst, which must have the same length as refl.
// Wavelengths must be strictly increasing. Returns the merged hull vertex
// indices and the segments.
func (a *Assembler) Assemble(wl, refl []float64, boundaries []int, dst []float64) (vertices []int, segs []Segment, err error) {
	n := len(refl)
	if n == 0 || len(wl) != n || len(dst) != n {
		return nil, nil, fmt.Errorf("length mismatch: %d wavelengths, %d values, %d outputs", len(wl), n, len(dst))
	}
	if len(boundaries) == 0 || boundaries[len(boundaries)-1] != n-1 {
		return nil, nil, errBoundaries
	}

	segs = Split(boundaries)
	a.vertices = a.vertices[:0]
	for _, s := range segs {
		a.points = a.points[:0]
		for i := s.Start; i <= s.End; i++ {
			a.points = append(a.points, Point{wl[i], refl[i]})
		}
		a.hull = AppendUpper(a.hull[:0], a.points)
		for _, h := range a.hull {
			a.vertices = append(a.vertices, sort.SearchFloat64s(wl, h.X))
		}
	}

	// merge hull x coordinates across segments
	sort.Ints(a.vertices)
	o := 0
	for i, v := range a.vertices {
		if i == 0 || v != a.vertices[o-1] {
			a.vertices[o] = v
			o++
		}
	}
	a.vertices = a.vertices[:o]

	if len(a.vertices) == 1 {
		for i := range dst {
			dst[i] = refl[a.vertices[0]]
		}
		return append([]int(nil), a.vertices...), segs, nil
	}

	a.xs, a.ys = a.xs[:0], a.ys[:0]
	for _, v := range a.vertices {
		a.xs = append(a.xs, wl[v])
		a.ys = append(a.ys, refl[v])
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(a.xs, a.ys); err != nil {
		return nil, nil, err
	}
	for i, x := range wl {
		dst[i] = pl.Predict(x)
	}
	return append([]int(nil), a.vertices...), segs, nil
}

// Assembles a continuum line with a temporary Assembler. See Assembler.Assemble
func Assemble(wl, refl []float64, boundaries []int, dst []float64) (vertices []int, segs []Segment, err error) {
	var a Assembler
	return a.Assemble(wl, refl, boundaries, dst)
}
