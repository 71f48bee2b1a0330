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
	"math/rand"
	"testing"

	"github.com/mlnoga/asi/internal/hull"
	"github.com/mlnoga/asi/internal/peak"
)

// Counts detector invocations
type spyFinder struct {
	calls int
}

func (s *spyFinder) Detect(y []float64, lookahead int, delta float64) ([]peak.Extremum, []peak.Extremum, error) {
	s.calls++
	return peak.Detect(y, lookahead, delta)
}

func TestProcessPixelScenario(t *testing.T) {
	e := newTestEngine(t, scenarioWl, nil)
	r := e.ProcessPixel(scenarioRefl)
	if r.Status != StatusOK || r.Stage != StageDone {
		t.Fatalf("status=%v stage=%v err=%q; want ok done", r.Status, r.Stage, r.Err)
	}
	if len(r.Maxima) != 1 || r.Maxima[0].Index != 2 {
		t.Errorf("maxima=%v; want one at index 2", r.Maxima)
	}
	wantSegs := []hull.Segment{{Start: 0, End: 2}, {Start: 2, End: 5}}
	if len(r.Segments) != len(wantSegs) || r.Segments[0] != wantSegs[0] || r.Segments[1] != wantSegs[1] {
		t.Errorf("segments=%v; want %v", r.Segments, wantSegs)
	}
	if got, want := r.Removed[1], 1-0.15/0.175; math.Abs(got-want) > 1e-9 {
		t.Errorf("cr(600)=%f; want %f", got, want)
	}
	if math.Abs(r.Removed[1]-0.143) > 1e-3 {
		t.Errorf("cr(600)=%f; want 0.143", r.Removed[1])
	}
	for i, c := range r.Removed {
		if c < 0 || c > 1 {
			t.Errorf("cr[%d]=%f; want within [0,1]", i, c)
		}
		if r.Continuum[i] < scenarioRefl[i]-1e-12 {
			t.Errorf("continuum[%d]=%f; want >= %f", i, r.Continuum[i], scenarioRefl[i])
		}
	}
	if !(r.Index > 0 && r.Index < 1) {
		t.Errorf("index=%f; want within (0,1)", r.Index)
	}
}

func TestProcessPixelConstant(t *testing.T) {
	e := newTestEngine(t, scenarioWl, nil)
	r := e.ProcessPixel([]float64{0.3, 0.3, 0.3, 0.3, 0.3, 0.3})
	if r.Status != StatusOK {
		t.Fatalf("status=%v; want ok", r.Status)
	}
	for i, c := range r.Removed {
		if c != 0 {
			t.Errorf("cr[%d]=%f; want 0", i, c)
		}
	}
	if r.Index != 0 {
		t.Errorf("index=%f; want 0", r.Index)
	}
	if len(r.Segments) != 1 {
		t.Errorf("segments=%v; want one", r.Segments)
	}
}

func TestProcessPixelBadPixel(t *testing.T) {
	e := newTestEngine(t, scenarioWl, nil)
	r := e.ProcessPixel([]float64{0.1, 0.2, 1.5, 0.2, 0.1, 0.05})
	if r.Status != StatusBadPixel {
		t.Fatalf("status=%v; want badPixel", r.Status)
	}
	if r.Index != 0 {
		t.Errorf("index=%f; want 0", r.Index)
	}
	if r.Stage != StageIndicesComputed {
		t.Errorf("stage=%v; want indicesComputed", r.Stage)
	}
}

func TestProcessPixelNoDataSkipsDetector(t *testing.T) {
	e := newTestEngine(t, scenarioWl, nil)
	spy := &spyFinder{}
	e.detector = spy

	r := e.ProcessPixel([]float64{-999, -999, -999, -999, -999, -999})
	if r.Status != StatusNoData || r.Stage != StageInit {
		t.Errorf("status=%v stage=%v; want noData init", r.Status, r.Stage)
	}
	if spy.calls != 0 {
		t.Errorf("detector calls=%d; want 0", spy.calls)
	}

	e.ProcessPixel(scenarioRefl)
	if spy.calls != 1 {
		t.Errorf("detector calls=%d; want 1", spy.calls)
	}
}

func TestProcessPixelNaNNoData(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lookahead = 1
	e, err := Configure(Manifest{Wavelengths: scenarioWl, NoData: math.NaN()}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	r := e.ProcessPixel([]float64{0.1, math.NaN(), 0.2, 0.2, 0.1, 0.1})
	if r.Status != StatusNoData {
		t.Errorf("status=%v; want noData", r.Status)
	}
}

func TestProcessPixelInvalid(t *testing.T) {
	e := newTestEngine(t, scenarioWl, nil)
	tcs := []struct {
		Name     string
		Spectrum []float64
		Stage    Stage
	}{
		{"short", []float64{0.1, 0.2}, StageInit},
		{"infinite", []float64{0.1, math.Inf(1), 0.2, 0.2, 0.1, 0.1}, StageInit},
	}
	for _, tc := range tcs {
		r := e.ProcessPixel(tc.Spectrum)
		if r.Status != StatusInvalid || r.Stage != tc.Stage || r.Err == "" {
			t.Errorf("%s: status=%v stage=%v err=%q; want invalid at %v", tc.Name, r.Status, r.Stage, r.Err, tc.Stage)
		}
	}
}

func TestProcessPixelDivisionFactor(t *testing.T) {
	e := newTestEngine(t, scenarioWl, func(c *Config) { c.DivisionFactor = 10000 })
	raw := make([]float64, len(scenarioRefl))
	for i, v := range scenarioRefl {
		raw[i] = v * 10000
	}
	r := e.ProcessPixel(raw)
	want := newTestEngine(t, scenarioWl, nil).ProcessPixel(scenarioRefl)
	if r.Status != StatusOK || math.Abs(r.Index-want.Index) > 1e-9 {
		t.Errorf("status=%v index=%f; want ok %f", r.Status, r.Index, want.Index)
	}
}

func TestProcessPixelGapFill(t *testing.T) {
	e := newTestEngine(t, scenarioWl, func(c *Config) { c.Exclude = []Range{{640, 660}} })
	spectrum := append([]float64(nil), scenarioRefl...)
	spectrum[2] = 5 // garbage in the excluded band
	r := e.ProcessPixel(spectrum)
	if r.Status != StatusOK {
		t.Fatalf("status=%v err=%q; want ok", r.Status, r.Err)
	}
	// 650 nm is filled with 0.175 and lies on the 600-700 nm hull edge
	if math.Abs(r.Continuum[2]-0.175) > 1e-9 {
		t.Errorf("continuum(650)=%f; want 0.175", r.Continuum[2])
	}
}

func TestGapFiller(t *testing.T) {
	tcs := []struct {
		X, Y     []float64
		Excluded []bool
		Want     []float64
	}{
		{[]float64{1, 2, 3, 4}, []float64{1, 9, 3, 9}, []bool{false, true, false, true}, []float64{1, 2, 3, 4}},
		{[]float64{1, 2, 3, 4}, []float64{9, 2, 3, 9}, []bool{true, false, false, true}, []float64{1, 2, 3, 4}},
		{[]float64{1, 2, 3}, []float64{3, 1, 9}, []bool{false, false, true}, []float64{3, 1, 0}},
	}
	var g gapFiller
	for _, tc := range tcs {
		y := append([]float64(nil), tc.Y...)
		if err := g.fill(tc.X, y, tc.Excluded); err != nil {
			t.Errorf("y=%v err=%v", tc.Y, err)
			continue
		}
		for i := range y {
			if math.Abs(y[i]-tc.Want[i]) > 1e-12 {
				t.Errorf("y=%v filled[%d]=%f; want %f", tc.Y, i, y[i], tc.Want[i])
			}
		}
	}
	if err := g.fill([]float64{1, 2}, []float64{1, 2}, []bool{true, false}); err != errTooFewValid {
		t.Errorf("err=%v; want %v", err, errTooFewValid)
	}
}

func TestAbsorptionIndex(t *testing.T) {
	if got := absorptionIndex([]float64{0.5, 0.5}, []float64{0.5, 0.5}); got != 0 {
		t.Errorf("index=%f; want 0", got)
	}
	got := absorptionIndex([]float64{0.25, 0.5}, []float64{0.5, 0.5})
	want := (2*math.Log(2) + math.Log(2) - 2*math.Log(2)) / (3 * math.Log(2))
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("index=%f; want %f", got, want)
	}
}

// Random spectra must yield continua dominating the reflectance, and
// continuum removed values within [0, 1]
func TestProcessPixelProperties(t *testing.T) {
	wl := make([]float64, 60)
	for i := range wl {
		wl[i] = 500 + 5*float64(i)
	}
	e := newTestEngine(t, wl, func(c *Config) { c.Low, c.High, c.Lookahead = 500, 800, 3 })
	rng := rand.New(rand.NewSource(11))
	spectrum := make([]float64, len(wl))
	for n := 0; n < 200; n++ {
		for i := range spectrum {
			spectrum[i] = 0.05 + 0.9*rng.Float64()
		}
		r := e.ProcessPixel(spectrum)
		if r.Status != StatusOK {
			t.Fatalf("status=%v err=%q; want ok", r.Status, r.Err)
		}
		for i := range r.Continuum {
			if r.Continuum[i] < spectrum[i]-1e-12 {
				t.Fatalf("continuum[%d]=%f below reflectance %f", i, r.Continuum[i], spectrum[i])
			}
			if r.Removed[i] < 0 || r.Removed[i] > 1 {
				t.Fatalf("cr[%d]=%f; want within [0,1]", i, r.Removed[i])
			}
		}
		for k := 1; k < len(r.Segments); k++ {
			if r.Segments[k].Start != r.Segments[k-1].End {
				t.Fatalf("segments=%v not contiguous", r.Segments)
			}
		}
	}
}
