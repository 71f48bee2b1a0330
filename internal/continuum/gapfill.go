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
	"errors"

	"gonum.org/v1/gonum/interp"
)

var errTooFewValid = errors.New("fewer than 2 valid bands for gap filling")

// Fills excluded bands by linear interpolation over the valid bands.
// Holds scratch buffers, so each worker needs its own instance.
type gapFiller struct {
	xs, ys []float64
}

// Replaces y[i] for all excluded i with a linear interpolation in x across the
// nearest valid bands. Values outside the valid range are linearly extrapolated
// from the two outermost valid bands. Negative results are clamped to 0.
func (g *gapFiller) fill(x, y []float64, excluded []bool) error {
	g.xs, g.ys = g.xs[:0], g.ys[:0]
	for i, ex := range excluded {
		if !ex {
			g.xs = append(g.xs, x[i])
			g.ys = append(g.ys, y[i])
		}
	}
	if len(g.xs) < 2 {
		return errTooFewValid
	}

	var pl interp.PiecewiseLinear
	if err := pl.Fit(g.xs, g.ys); err != nil {
		return err
	}
	n := len(g.xs)
	for i, ex := range excluded {
		if !ex {
			continue
		}
		var v float64
		switch {
		case x[i] < g.xs[0]:
			v = extrapolate(g.xs[0], g.ys[0], g.xs[1], g.ys[1], x[i])
		case x[i] > g.xs[n-1]:
			v = extrapolate(g.xs[n-2], g.ys[n-2], g.xs[n-1], g.ys[n-1], x[i])
		default:
			v = pl.Predict(x[i])
		}
		if v < 0 {
			v = 0
		}
		y[i] = v
	}
	return nil
}

func extrapolate(x0, y0, x1, y1, x float64) float64 {
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}
