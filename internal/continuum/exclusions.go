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

// Wavelength ranges of strong atmospheric water vapour absorption, in nm,
// excluded by default from spectra with more than 2000 bands
var WaterVapour = []Range{{1333, 1479}, {1780, 2000}, {2400, 2501}}

// Number of bands of an EnMAP L2A product, and the zero-based range of its
// VNIR bands overlapping the SWIR detector
const (
	EnMAPBands        = 242
	enmapOverlapStart = 78
	enmapOverlapEnd   = 87
)

// Returns the default exclusion mask for the given band wavelengths: the
// water vapour windows for densely sampled spectra, and the VNIR/SWIR
// detector overlap for EnMAP products. Returns nil if nothing is excluded.
func DefaultExclusions(wl []float64) []bool {
	var mask []bool
	set := func(i int) {
		if mask == nil {
			mask = make([]bool, len(wl))
		}
		mask[i] = true
	}
	if len(wl) > 2000 {
		for i, w := range wl {
			for _, r := range WaterVapour {
				if w >= r.Low && w <= r.High {
					set(i)
				}
			}
		}
	}
	if len(wl) == EnMAPBands {
		for i := enmapOverlapStart; i <= enmapOverlapEnd; i++ {
			set(i)
		}
	}
	return mask
}
