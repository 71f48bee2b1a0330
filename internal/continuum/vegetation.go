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

// Thresholds for a dense, healthy vegetation pixel
const (
	MinNIR  = 0.4  // minimum reflectance near 827 nm
	MinNDVI = 0.85 // minimum normalized difference vegetation index
)

// Returns the normalized difference vegetation index and the near infrared
// reflectance of a raw spectrum, scaled by the division factor
func (e *Engine) NDVI(spectrum []float64) (ndvi, nir float64) {
	div := e.cfg.DivisionFactor
	red, nir := spectrum[e.red]/div, spectrum[e.nir]/div
	return (nir - red) / (nir + red), nir
}

// Returns true if the raw spectrum looks like dense vegetation: valid data,
// reflectance near 827 nm above 0.4 and an NDVI above 0.85
func (e *Engine) IsVegetation(spectrum []float64) bool {
	if len(spectrum) != len(e.wl) {
		return false
	}
	for _, v := range spectrum {
		if isNoData(v, e.noData) {
			return false
		}
	}
	ndvi, nir := e.NDVI(spectrum)
	return nir > MinNIR && ndvi > MinNDVI
}

// Returns the row-major index of the first vegetation pixel among spectra,
// or -1 if there is none
func (e *Engine) FindVegetation(spectra [][]float64) int {
	for i, s := range spectra {
		if e.IsVegetation(s) {
			return i
		}
	}
	return -1
}
