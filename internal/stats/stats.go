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

// Package stats summarizes index rasters and continuum removed cubes.
package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/stat"
)

// Basic statistics on data arrays, skipping no-data values
type Stats struct {
	Count  int     // Number of valid values
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)
	Median float32 // Median, estimated from a random sample for large arrays
	P02    float32 // 2nd percentile, for quicklook scaling
	P98    float32 // 98th percentile, for quicklook scaling
}

// Pretty print basic stats to string
func (s *Stats) String() string {
	return fmt.Sprintf("Count %d Min %.6g Max %.6g Mean %.6g StdDev %.6g Median %.6g P02 %.6g P98 %.6g",
		s.Count, s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.P02, s.P98)
}

// Pretty print basic stats to CSV header
func (s *Stats) ToCSVHeader() string {
	return "Count,Min,Max,Mean,StdDev,Median,P02,P98"
}

// Pretty print basic stats to CSV line item
func (s *Stats) ToCSVLine() string {
	return fmt.Sprintf("%d,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g,%.6g",
		s.Count, s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.P02, s.P98)
}

// Number of samples for quantile estimation
const NumSamples = 64 * 1024

// Returns true if v is a valid value, i.e. neither NaN nor the no-data sentinel
func Valid(v, noData float32) bool {
	return v == v && v != noData
}

// Calculate basic statistics for a data array, skipping NaN and noData values.
// Quantiles are exact for arrays up to NumSamples values, and estimated from
// a random sample otherwise.
func Calc(data []float32, noData float32) *Stats {
	s := &Stats{}
	valid := make([]float64, 0, minInt(len(data), NumSamples))
	min, max := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	sum, sumSq := 0.0, 0.0
	for _, d := range data {
		if !Valid(d, noData) {
			continue
		}
		s.Count++
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
		sum += float64(d)
		sumSq += float64(d) * float64(d)
		if len(valid) < cap(valid) {
			valid = append(valid, float64(d))
		}
	}
	if s.Count == 0 {
		return s
	}
	s.Min, s.Max = min, max
	mean := sum / float64(s.Count)
	s.Mean = float32(mean)
	s.StdDev = float32(math.Sqrt(math.Max(0, sumSq/float64(s.Count)-mean*mean)))

	if s.Count > len(valid) {
		valid = Sample(data, noData, valid[:0:cap(valid)])
	}
	sort.Float64s(valid)
	s.Median = float32(stat.Quantile(0.5, stat.Empirical, valid, nil))
	s.P02 = float32(stat.Quantile(0.02, stat.Empirical, valid, nil))
	s.P98 = float32(stat.Quantile(0.98, stat.Empirical, valid, nil))
	return s
}

// Fills samples up to its capacity with randomly chosen valid values of data.
// Returns fewer samples if the random draws hit too many invalid values.
func Sample(data []float32, noData float32, samples []float64) []float64 {
	samples = samples[:0]
	if len(data) == 0 {
		return samples
	}
	n := uint32(len(data))
	for tries := 0; len(samples) < cap(samples) && tries < 4*cap(samples); tries++ {
		d := data[fastrand.Uint32n(n)]
		if Valid(d, noData) {
			samples = append(samples, float64(d))
		}
	}
	return samples
}

// Mean and unbiased standard deviation of a float64 array
func MeanStdDev(xs []float64) (mean, stdDev float64) {
	return stat.MeanStdDev(xs, nil)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
