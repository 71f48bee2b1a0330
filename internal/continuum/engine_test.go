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
	"math"
	"testing"
)

var scenarioWl = []float64{550, 600, 650, 700, 750, 800}
var scenarioRefl = []float64{0.10, 0.15, 0.25, 0.20, 0.12, 0.08}

// Returns an engine over the given wavelengths, with lookahead 1 so short
// synthetic spectra produce peaks
func newTestEngine(t *testing.T, wl []float64, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Lookahead = 1
	cfg.Threads = 3
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := Configure(Manifest{Wavelengths: wl, NoData: -999, Width: 1, Height: 1}, cfg)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return e
}

func TestConfigureErrors(t *testing.T) {
	tcs := []struct {
		Name   string
		M      Manifest
		Mutate func(*Config)
	}{
		{"one band", Manifest{Wavelengths: []float64{550}}, nil},
		{"not increasing", Manifest{Wavelengths: []float64{550, 600, 600, 700}}, nil},
		{"nan wavelength", Manifest{Wavelengths: []float64{550, math.NaN(), 700}}, nil},
		{"mask length", Manifest{Wavelengths: scenarioWl, Excluded: []bool{true}}, nil},
		{"negative dims", Manifest{Wavelengths: scenarioWl, Width: -1}, nil},
		{"lookahead", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Lookahead = 0 }},
		{"delta", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Delta = -0.1 }},
		{"mode", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Mode = Mode(7) }},
		{"division", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.DivisionFactor = -1 }},
		{"window order", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Low, c.High = 800, 550 }},
		{"window width", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Low, c.High = 600, 610 }},
		{"exclusion range", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Exclude = []Range{{700, 600}} }},
		{"all excluded", Manifest{Wavelengths: scenarioWl}, func(c *Config) { c.Exclude = []Range{{0, 1000}} }},
	}
	for _, tc := range tcs {
		cfg := DefaultConfig()
		if tc.Mutate != nil {
			tc.Mutate(&cfg)
		}
		_, err := Configure(tc.M, cfg)
		if !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%s: err=%v; want ErrInvalidParameter", tc.Name, err)
		}
	}
}

func TestConfigureWindow(t *testing.T) {
	wl := []float64{400, 500, 540, 610, 700, 790, 900}
	e := newTestEngine(t, wl, nil)
	lo, hi := e.BandRange()
	if lo != 2 || hi != 5 {
		t.Errorf("band range=%d-%d; want 2-5", lo, hi)
	}
	if low, high := e.Window(); low != 540 || high != 790 {
		t.Errorf("window=%g-%g; want 540-790", low, high)
	}
	if e.WindowBands() != 4 || e.NumBands() != 7 {
		t.Errorf("window bands=%d bands=%d; want 4 and 7", e.WindowBands(), e.NumBands())
	}
	if e.Config().DivisionFactor != 1 {
		t.Errorf("division factor=%g; want 1", e.Config().DivisionFactor)
	}
}

func TestConfigureThreeBandDefaults(t *testing.T) {
	wl := make([]float64, 0, 80)
	for w := 400.0; w <= 1200; w += 10 {
		wl = append(wl, w)
	}
	e := newTestEngine(t, wl, func(c *Config) { c.Mode, c.Low, c.High = ThreeBand, 0, 0 })
	if low, high := e.Window(); low != 460 || high != 1100 {
		t.Errorf("window=%g-%g; want 460-1100", low, high)
	}
	want := [5]int{9, 9, 33, 44, 64}
	if got := e.Anchors(); got != want {
		t.Errorf("anchors=%v; want %v", got, want)
	}
}

func TestNearest(t *testing.T) {
	xs := []float64{10, 20, 30}
	tcs := []struct {
		X    float64
		Want int
	}{
		{0, 0}, {14, 0}, {15, 0}, {16, 1}, {29, 2}, {100, 2},
	}
	for _, tc := range tcs {
		if got := Nearest(xs, tc.X); got != tc.Want {
			t.Errorf("x=%g nearest=%d; want %d", tc.X, got, tc.Want)
		}
	}
	if got := Nearest(nil, 1); got != -1 {
		t.Errorf("empty nearest=%d; want -1", got)
	}
}

func TestDefaultExclusions(t *testing.T) {
	if m := DefaultExclusions(scenarioWl); m != nil {
		t.Errorf("short spectrum mask=%v; want nil", m)
	}

	enmap := make([]float64, EnMAPBands)
	for i := range enmap {
		enmap[i] = 420 + float64(i)*8.5
	}
	m := DefaultExclusions(enmap)
	for i, ex := range m {
		want := i >= 78 && i <= 87
		if ex != want {
			t.Errorf("enmap band %d excluded=%v; want %v", i, ex, want)
		}
	}

	asd := make([]float64, 2151)
	for i := range asd {
		asd[i] = 350 + float64(i)
	}
	m = DefaultExclusions(asd)
	for _, tc := range []struct {
		Wl   float64
		Want bool
	}{{1000, false}, {1333, true}, {1400, true}, {1500, false}, {1900, true}, {2450, true}, {2300, false}} {
		if got := m[int(tc.Wl)-350]; got != tc.Want {
			t.Errorf("asd %g nm excluded=%v; want %v", tc.Wl, got, tc.Want)
		}
	}
}

func TestIsVegetation(t *testing.T) {
	wl := []float64{550, 668, 700, 827}
	e := newTestEngine(t, wl, func(c *Config) { c.DivisionFactor = 10000 })
	tcs := []struct {
		Spectrum []float64
		Want     bool
	}{
		{[]float64{800, 400, 2000, 6000}, true},
		{[]float64{800, 500, 2000, 6000}, false}, // ndvi 0.846
		{[]float64{800, 100, 2000, 3000}, false}, // nir too low
		{[]float64{-999, 400, 2000, 6000}, false},
		{[]float64{400, 6000}, false},
	}
	for _, tc := range tcs {
		if got := e.IsVegetation(tc.Spectrum); got != tc.Want {
			t.Errorf("spectrum=%v vegetation=%v; want %v", tc.Spectrum, got, tc.Want)
		}
	}
	spectra := [][]float64{tcs[1].Spectrum, tcs[2].Spectrum, tcs[0].Spectrum, tcs[0].Spectrum}
	if got := e.FindVegetation(spectra); got != 2 {
		t.Errorf("first vegetation pixel=%d; want 2", got)
	}
	if got := e.FindVegetation(spectra[:2]); got != -1 {
		t.Errorf("first vegetation pixel=%d; want -1", got)
	}
}
