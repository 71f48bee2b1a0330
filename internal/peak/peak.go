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

// Package peak finds local extrema in sampled 1-D sequences such as
// reflectance spectra. It is shared by the continuum removal engine and any
// other spectral feature detector that needs lookahead peak picking.
package peak

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParameter is returned for malformed detection parameters.
var ErrInvalidParameter = errors.New("invalid parameter")

// An extremum in a sequence, identified by its index and value
type Extremum struct {
	Index int     `json:"index" msgpack:"index"`
	Value float64 `json:"value" msgpack:"value"`
}

// Detects local maxima and minima in y with the lookahead algorithm.
//
// A running maximum is confirmed as a peak once the sequence has dropped more
// than delta below it, and none of the next lookahead samples reach it again.
// Minima are confirmed symmetrically. Detection alternates between the two,
// and the first confirmed extremum is discarded because it only reflects the
// initial state of the scan. The last lookahead samples are never candidates,
// so sequences not longer than lookahead yield no extrema.
func Detect(y []float64, lookahead int, delta float64) (maxima, minima []Extremum, err error) {
	if lookahead < 1 {
		return nil, nil, fmt.Errorf("%w: lookahead %d must be at least 1", ErrInvalidParameter, lookahead)
	}
	if delta < 0 || math.IsNaN(delta) {
		return nil, nil, fmt.Errorf("%w: delta %g must be non-negative", ErrInvalidParameter, delta)
	}

	mn, mx := math.Inf(1), math.Inf(-1)
	mnPos, mxPos := -1, -1
	firstIsMax, found := false, false

	for i := 0; i < len(y)-lookahead; i++ {
		v := y[i]
		if v > mx {
			mx, mxPos = v, i
		}
		if v < mn {
			mn, mnPos = v, i
		}

		// look for a maximum
		if v < mx-delta && !math.IsInf(mx, 1) {
			if windowMax(y[i:i+lookahead]) < mx {
				maxima = append(maxima, Extremum{mxPos, mx})
				if !found {
					firstIsMax, found = true, true
				}
				mx, mn = math.Inf(1), math.Inf(1)
				continue
			}
		}

		// look for a minimum
		if v > mn+delta && !math.IsInf(mn, -1) {
			if windowMin(y[i:i+lookahead]) > mn {
				minima = append(minima, Extremum{mnPos, mn})
				if !found {
					firstIsMax, found = false, true
				}
				mn, mx = math.Inf(-1), math.Inf(-1)
			}
		}
	}

	// the first extremum is a false hit on the initial value
	if found {
		if firstIsMax {
			maxima = maxima[1:]
		} else {
			minima = minima[1:]
		}
	}
	if len(maxima) == 0 {
		maxima = nil
	}
	if len(minima) == 0 {
		minima = nil
	}
	return maxima, minima, nil
}

func windowMax(w []float64) float64 {
	m := math.Inf(-1)
	for _, v := range w {
		if v > m {
			m = v
		}
	}
	return m
}

func windowMin(w []float64) float64 {
	m := math.Inf(1)
	for _, v := range w {
		if v < m {
			m = v
		}
	}
	return m
}

// Detector adapts Detect to an interface value, so callers can substitute
// their own peak finder.
type Detector struct{}

func (Detector) Detect(y []float64, lookahead int, delta float64) (maxima, minima []Extremum, err error) {
	return Detect(y, lookahead, delta)
}

// Returns the indices of the given extrema
func Indices(es []Extremum) []int {
	if len(es) == 0 {
		return nil
	}
	res := make([]int, len(es))
	for i, e := range es {
		res[i] = e.Index
	}
	return res
}
