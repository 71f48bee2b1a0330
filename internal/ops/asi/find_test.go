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
	"strings"
	"testing"

	"github.com/mlnoga/asi/internal/fits"
)

// 500-900 nm at 10 nm, a flat soil pixel and a vegetation pixel with a red edge
func vegetationCube() *fits.Cube {
	var wl []float64
	for w := 500.0; w <= 900; w += 10 {
		wl = append(wl, w)
	}
	soil, veg := make([]float64, len(wl)), make([]float64, len(wl))
	for i, w := range wl {
		soil[i] = .2
		switch {
		case w < 700:
			veg[i] = .03
		case w < 720:
			veg[i] = .25
		default:
			veg[i] = .5
		}
	}
	return cubeOf(2, 2, wl, [][]float64{soil, soil, soil, veg})
}

func TestFindVegetation(t *testing.T) {
	f := vegetationCube()
	var log bytes.Buffer
	op := NewOpFindDefault()
	if _, err := op.Apply(f, testContext(&log)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	out := log.String()
	for _, want := range []string{"Found vegetation pixel at x=1 y=1", "Status ok", "Absorption index", "reflectance"} {
		if !strings.Contains(out, want) {
			t.Errorf("log lacks %q:\n%s", want, out)
		}
	}
}

func TestFindExplicitPixel(t *testing.T) {
	f := vegetationCube()
	var log bytes.Buffer
	op := NewOpFindDefault()
	op.X, op.Y = 0, 1
	if _, err := op.Apply(f, testContext(&log)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if strings.Contains(log.String(), "Found vegetation") {
		t.Errorf("searched despite explicit pixel")
	}
	op.X, op.Y = 2, 0
	if _, err := op.Apply(f, testContext(&log)); err == nil {
		t.Errorf("expected error for pixel outside the cube")
	}
}

func TestFindNoVegetation(t *testing.T) {
	f := vegetationCube()
	for b := 0; b < f.Bands; b++ {
		f.Plane(b)[3] = .2
	}
	var log bytes.Buffer
	if _, err := NewOpFindDefault().Apply(f, testContext(&log)); err == nil {
		t.Errorf("expected error without vegetation pixel")
	}
}
