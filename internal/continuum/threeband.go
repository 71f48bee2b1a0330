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
	"math"

	"github.com/mlnoga/asi/internal/hull"
	"github.com/mlnoga/asi/internal/peak"
)

// Per-pixel anchor state of the three-band variant. Starts as a copy of the
// engine's anchor table, so overrides never leak into other pixels.
type threeBandState struct {
	anchors [5]int // Car/Cab end, Cab start, Cab end, H2O start, H2O end
	green   bool   // anchor 1 was set from a green reflectance peak
	nirPeak bool   // anchor 3 was set from a NIR shoulder peak
}

// Returns the segment boundaries for the three-band variant, with the
// green and red shoulder rules applied to the detected maxima.
func (e *Engine) threeBandBoundaries(maxima []peak.Extremum) ([]int, threeBandState) {
	st := threeBandState{anchors: e.anchors}
	wl, n := e.window, len(e.window)
	green := e.anchors[1] // nearest 554 nm

	// without peaks, force boundaries at the green and NIR anchors
	if len(maxima) == 0 {
		return hull.Boundaries([]int{green, e.anchors[3]}, n), st
	}

	b := peak.Indices(maxima)

	// NIR shoulder: the highest peak in [850, 970) nm, if not below 900 nm
	nir := -1
	for _, i := range b {
		if wl[i] >= 850 && wl[i] < 970 {
			nir = i
		}
	}
	if nir >= 0 && wl[nir] >= 900 {
		st.anchors[3], st.nirPeak = nir, true
	}

	// first peak beyond 600 nm: no green peak, anchor at 554 nm
	if wl[b[0]] > 600 {
		b = append([]int{green}, b...)
		st.anchors[1], st.green = green, false
	}
	// second boundary between 600 and 700 nm is a red shoulder artifact
	if len(b) > 1 && wl[b[1]] > 600 && wl[b[1]] < 700 {
		b = append(b[:1], b[2:]...)
		st.green = false
	} else if wl[b[0]] > 545 && wl[b[0]] < 600 {
		st.anchors[1], st.green = b[0], true
	}
	return hull.Boundaries(b, n), st
}

// Overrides anchors with hull intercepts, i.e. bands where the continuum
// touches the reflectance, in region-specific wavelength intervals.
func (e *Engine) applyIntercepts(refl, cont []float64, st *threeBandState, s *scratch) {
	wl := e.window
	s.indices = s.indices[:0]
	for i := range refl {
		if cont[i] == refl[i] {
			s.indices = append(s.indices, i)
		}
	}
	idx := s.indices
	if len(idx) == 0 {
		return
	}

	first := func(order func(k int) int, in func(w float64) bool) int {
		for k := range idx {
			if i := order(k); in(wl[i]) {
				return i
			}
		}
		return -1
	}
	forward := func(k int) int { return idx[k] }
	// first intercept, then all others from the end
	backward := func(k int) int {
		if k == 0 {
			return idx[0]
		}
		return idx[len(idx)-k]
	}

	if i := first(forward, func(w float64) bool { return w > 500 && w <= 550 }); i >= 0 {
		st.anchors[0] = i
	}
	if i := first(forward, func(w float64) bool { return w > 550 && w <= 700 }); i >= 0 && !st.green {
		st.anchors[1] = i
	}
	if i := first(forward, func(w float64) bool { return w > 700 && w < 800 }); i >= 0 {
		st.anchors[2] = i
	}
	if i := first(backward, func(w float64) bool { return w > 890 && w < 950 }); i >= 0 && !st.nirPeak {
		st.anchors[3] = i
	}
	if i := first(forward, func(w float64) bool { return w > 970 && w <= 1105 }); i >= 0 {
		st.anchors[4] = i
	}
}

// Sums the three-band region areas for the given anchors. Car/Cab covers
// [0, a0), Cab [a1, a2), and H2O [a3, a4) with its hull area over
// [a3, fixed end). Empty ranges sum to zero.
func (e *Engine) regionAreas(refl, cont []float64, a [5]int) RegionAreas {
	var res RegionAreas
	res.CrArea[0], res.Ones[0] = crArea(refl, cont, 0, a[0])
	res.CrArea[1], res.Ones[1] = crArea(refl, cont, a[1], a[2])
	for i := a[3]; i < a[4]; i++ {
		if v := math.Log(1/refl[i]) - math.Log(1/cont[i]); !math.IsNaN(v) {
			res.Absorb += v
		}
	}
	for i := a[3]; i < e.fixedEnd; i++ {
		if v := math.Log(1 / cont[i]); !math.IsNaN(v) {
			res.Hull += v
		}
	}
	return res
}

// Sums (ln(1/r)-ln(1/h))/ln(1/r) over [from, to), skipping NaN terms,
// and returns the sum with the number of bands in the range
func crArea(refl, cont []float64, from, to int) (sum, ones float64) {
	for i := from; i < to; i++ {
		lr := math.Log(1 / refl[i])
		if v := (lr - math.Log(1/cont[i])) / lr; !math.IsNaN(v) {
			sum += v
		}
		ones++
	}
	return sum, ones
}
