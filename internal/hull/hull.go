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

// Package hull builds upper convex hulls of spectra, and assembles continuum
// lines from the hulls of spectral segments.
package hull

import (
	"sort"
)

// A point in the plane, typically (wavelength, reflectance)
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Cross product of the vectors o->a and o->b. Positive for a counter-clockwise turn
func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func less(a, b Point) bool {
	return a.X < b.X || (a.X == b.X && a.Y < b.Y)
}

// Returns the upper convex hull of the given points, left to right.
// Duplicates are removed. Inputs with less than two unique points
// are returned as is. The input slice is not modified.
func Upper(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	ps := append([]Point(nil), points...)
	return AppendUpper(nil, ps)
}

// Appends the upper convex hull of points to dst and returns the extended slice.
// Sorts and deduplicates points in place, so the caller can reuse both
// buffers across calls. Points must be finite.
func AppendUpper(dst, points []Point) []Point {
	if !sort.SliceIsSorted(points, func(i, j int) bool { return less(points[i], points[j]) }) {
		sort.Slice(points, func(i, j int) bool { return less(points[i], points[j]) })
	}
	points = dedupe(points)
	if len(points) <= 1 {
		return append(dst, points...)
	}

	// Andrew's monotone chain, upper half only: keep clockwise turns
	base := len(dst)
	for _, p := range points {
		for len(dst)-base >= 2 && cross(dst[len(dst)-2], dst[len(dst)-1], p) >= 0 {
			dst = dst[:len(dst)-1]
		}
		dst = append(dst, p)
	}
	return dst
}

// Removes consecutive duplicates from a sorted slice, in place
func dedupe(points []Point) []Point {
	if len(points) < 2 {
		return points
	}
	o := 1
	for i := 1; i < len(points); i++ {
		if points[i] != points[o-1] {
			points[o] = points[i]
			o++
		}
	}
	return points[:o]
}
