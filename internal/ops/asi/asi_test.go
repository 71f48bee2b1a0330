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

package asi

import (
	"bytes"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/asi/internal/continuum"
	"github.com/mlnoga/asi/internal/fits"
	"github.com/mlnoga/asi/internal/ops"
)

var (
	testWl   = []float64{550, 600, 650, 700, 750, 800}
	testRefl = []float64{.10, .15, .25, .20, .12, .08}
)

// Builds a cube from per-pixel spectra in row-major order
func cubeOf(width, height int, wl []float64, spectra [][]float64) *fits.Cube {
	c := fits.NewCubeFromDims(width, height, len(wl), nil)
	c.Wavelengths = append([]float64(nil), wl...)
	for p, s := range spectra {
		for b, v := range s {
			c.Data[b*c.Pixels+p] = float32(v)
		}
	}
	return c
}

func testContext(log *bytes.Buffer) *ops.Context {
	return &ops.Context{Log: log, MaxThreads: 2, BlockMemoryMB: 1, AllowAbsPaths: true}
}

func TestOpASIStandard(t *testing.T) {
	noData := []float64{-1, -1, -1, -1, -1, -1}
	f := cubeOf(2, 2, testWl, [][]float64{testRefl, testRefl, noData, testRefl})
	f.NoData = -1
	f.FileName = "scene.fits"
	f.ID = 7

	var log bytes.Buffer
	op := NewOpASIDefault()
	op.BlockRows = 1
	res, err := op.Apply(f, testContext(&log))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if res.Bands != 1 || res.Width != 2 || res.Height != 2 {
		t.Fatalf("got %s with %d bands; want 2x2 with 1 band", res.DimensionsToString(), res.Bands)
	}
	if want := "Spectral Integral: [550 nm - 800 nm]"; res.BandName(0) != want {
		t.Errorf("band name %q; want %q", res.BandName(0), want)
	}
	if res.FileName != "scene_asi.fits" || res.ID != 7 {
		t.Errorf("file %s id %d; want scene_asi.fits id 7", res.FileName, res.ID)
	}

	e, err := continuum.Configure(continuum.Manifest{Wavelengths: testWl, NoData: -1, Width: 1, Height: 1}, ResolveConfig(op.Config, f, testContext(&log)))
	if err != nil {
		t.Fatal(err)
	}
	r := e.ProcessPixel(testRefl)
	for _, p := range []int{0, 1, 3} {
		if got := res.Data[p]; math.Abs(float64(got)-r.Index) > 1e-6 {
			t.Errorf("pixel %d index %f; want %f", p, got, r.Index)
		}
	}
	if res.Data[2] != -999 || res.NoData != -999 {
		t.Errorf("no-data pixel %f sentinel %f; want -999", res.Data[2], res.NoData)
	}
	if !strings.Contains(log.String(), "3 ok, 1 no data") {
		t.Errorf("log lacks counts:\n%s", log.String())
	}
}

func TestOpASIThreeBand(t *testing.T) {
	var wl, refl []float64
	for w := 400.0; w <= 1200; w += 10 {
		wl = append(wl, w)
		refl = append(refl, .2+.0002*(w-400))
	}
	var log bytes.Buffer
	c := testContext(&log)
	c.Tally = &continuum.Tally{}
	c.Monitor = &continuum.CancelFlag{}

	op := NewOpASIDefault()
	op.Mode = continuum.ThreeBand
	for id := 1; id <= 2; id++ {
		f := cubeOf(2, 1, wl, [][]float64{refl, refl})
		f.FileName, f.ID = "scene.fits", id
		res, err := op.Apply(f, c)
		if err != nil {
			t.Fatalf("apply %d: %v", id, err)
		}
		if res.Bands != 3 || res.FileName != "scene_3band_car_cab_h2o.fits" {
			t.Fatalf("got %s with %d bands; want 3 bands", res.FileName, res.Bands)
		}
		for b, name := range continuum.RegionNames {
			if res.BandName(b) != name {
				t.Errorf("band %d name %q; want %q", b, res.BandName(b), name)
			}
		}
	}
	out := log.String()
	if !strings.Contains(out, "Normalization maxima Ones") {
		t.Errorf("log lacks normalization:\n%s", out)
	}
	if n := strings.Count(out, "Processed 2 of 2 pixels (100%)"); n != 2 {
		t.Errorf("%d completed progress lines; want one per cube:\n%s", n, out)
	}
	if total := c.Tally.Counts(); total.Total() != 4 {
		t.Errorf("tally %v; want 4 pixels", total)
	}
}

func TestOpASISavesRemovedCube(t *testing.T) {
	dir := t.TempDir()
	f := cubeOf(1, 1, testWl, [][]float64{testRefl})
	f.FileName = filepath.Join(dir, "pixel.fits")

	var log bytes.Buffer
	op := NewOpASIDefault()
	op.CRSPattern = "%auto"
	if _, err := op.Apply(f, testContext(&log)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	crs, err := fits.NewCubeFromFile(filepath.Join(dir, "pixel_crs.fits"), 0, &log)
	if err != nil {
		t.Fatalf("reading removed cube: %v", err)
	}
	if crs.Bands != len(testWl) || len(crs.Wavelengths) != len(testWl) {
		t.Fatalf("removed cube has %d bands, %d wavelengths; want %d", crs.Bands, len(crs.Wavelengths), len(testWl))
	}
	want := 1 - .15/.175
	if got := float64(crs.Data[1]); math.Abs(got-want) > 1e-5 {
		t.Errorf("cr(600)=%f; want %f", got, want)
	}
	for b, v := range crs.Data {
		if v < 0 || v > 1 {
			t.Errorf("cr band %d = %f outside [0,1]", b, v)
		}
	}
}

func TestOpASINoWavelengths(t *testing.T) {
	f := fits.NewCubeFromDims(1, 1, 3, nil)
	var log bytes.Buffer
	if _, err := NewOpASIDefault().Apply(f, testContext(&log)); err == nil {
		t.Errorf("expected error for cube without wavelengths")
	}
}

func TestResolveConfig(t *testing.T) {
	var log bytes.Buffer
	c := testContext(&log)
	tests := []struct {
		name   string
		bitpix int32
		mode   continuum.Mode
		div    float64
		low    float64
		high   float64
		wantDv float64
		wantLo float64
		wantHi float64
	}{
		{"float standard", -32, continuum.Standard, 0, 0, 0, 1, 550, 800},
		{"int standard", 16, continuum.Standard, 0, 0, 0, IntegerDivisionFactor, 550, 800},
		{"int explicit", 16, continuum.Standard, 100, 500, 900, 100, 500, 900},
		{"three band", -32, continuum.ThreeBand, 0, 0, 0, 1, continuum.ThreeBandLow, continuum.ThreeBandHigh},
	}
	for _, tc := range tests {
		f := fits.NewCubeFromDims(1, 1, 1, nil)
		f.Bitpix = tc.bitpix
		cfg := continuum.DefaultConfig()
		cfg.Mode, cfg.DivisionFactor, cfg.Low, cfg.High = tc.mode, tc.div, tc.low, tc.high
		got := ResolveConfig(cfg, f, c)
		if got.DivisionFactor != tc.wantDv || got.Low != tc.wantLo || got.High != tc.wantHi || got.Threads != 2 {
			t.Errorf("%s: got div %g window %g-%g threads %d; want div %g window %g-%g threads 2",
				tc.name, got.DivisionFactor, got.Low, got.High, got.Threads, tc.wantDv, tc.wantLo, tc.wantHi)
		}
	}
}

func TestProductFileName(t *testing.T) {
	tests := []struct {
		in      string
		mode    continuum.Mode
		product string
		want    string
	}{
		{"a/scene.fits", continuum.Standard, "", "a/scene_asi.fits"},
		{"scene.fits.gz", continuum.ThreeBand, "", "scene_3band_car_cab_h2o.fits"},
		{"scene.fits", continuum.Standard, "crs", "scene_crs.fits"},
		{"scene", continuum.Standard, "", "scene_asi.fits"},
	}
	for _, tc := range tests {
		if got := ProductFileName(tc.in, tc.mode, tc.product); got != tc.want {
			t.Errorf("ProductFileName(%q)=%q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestBlockRowsFor(t *testing.T) {
	f := fits.NewCubeFromDims(1000, 5000, 200, []float32{})
	// 1000*200*8*3 bytes per row = 4.8 MB
	if got := BlockRowsFor(f, 48); got != 10 {
		t.Errorf("rows=%d; want 10", got)
	}
	if got := BlockRowsFor(f, 1); got != 1 {
		t.Errorf("rows=%d; want 1", got)
	}
	if got := BlockRowsFor(f, 1<<20); got != 5000 {
		t.Errorf("rows=%d; want 5000", got)
	}
}

func TestOpASIUnmarshal(t *testing.T) {
	op, err := ops.UnmarshalOperator([]byte(`{"type":"asi","active":true,"mode":"3band","lookahead":5,"crs":"%auto","excludeDefaults":true}`))
	if err != nil {
		t.Fatal(err)
	}
	a, ok := op.(*OpASI)
	if !ok {
		t.Fatalf("got %T; want *OpASI", op)
	}
	if a.Mode != continuum.ThreeBand || a.Lookahead != 5 || a.CRSPattern != "%auto" || !a.ExcludeDefaults {
		t.Errorf("decoded %+v", a)
	}
	if a.NoData != -999 || a.DivisionFactor != 0 {
		t.Errorf("defaults not kept: noData %g division %g", a.NoData, a.DivisionFactor)
	}
	bs, err := json.Marshal(a)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(bs), `"mode":"threeBand"`) {
		t.Errorf("marshalled %s", bs)
	}
}
