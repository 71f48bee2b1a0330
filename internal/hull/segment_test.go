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

package hull

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func TestBoundaries(t *testing.T) {
	tcs := []struct {
		Peaks []int
		N     int
		Want  []int
	}{
		{nil, 6, []int{5}},
		{[]int{2}, 6, []int{2, 5}},
		{[]int{2, 2, 1, 4}, 6, []int{2, 4, 5}},
		{[]int{-1, 5, 7}, 6, []int{5}},
		{[]int{0, 3}, 6, []int{0, 3, 5}},
		{nil, 1, []int{0}},
		{[]int{1}, 0, nil},
	}
	for _, tc := range tcs {
		got := Boundaries(tc.Peaks, tc.N)
		if !equalInts(got, tc.Want) {
			t.Errorf("peaks=%v n=%d boundaries=%v; want %v", tc.Peaks, tc.N, got, tc.Want)
		}
	}
}

func TestSplit(t *testing.T) {
	tcs := []struct {
		Boundaries []int
		Want       []Segment
	}{
		{nil, nil},
		{[]int{5}, []Segment{{0, 5}}},
		{[]int{2, 5}, []Segment{{0, 2}, {2, 5}}},
		{[]int{0, 3, 5}, []Segment{{0, 3}, {3, 5}}},
		{[]int{0}, []Segment{{0, 0}}},
	}
	for _, tc := range tcs {
		got := Split(tc.Boundaries)
		if len(got) != len(tc.Want) {
			t.Errorf("boundaries=%v segments=%v; want %v", tc.Boundaries, got, tc.Want)
			continue
		}
		for i := range got {
			if got[i] != tc.Want[i] {
				t.Errorf("boundaries=%v segment %d=%v; want %v", tc.Boundaries, i, got[i], tc.Want[i])
			}
		}
	}
}

func TestAssembleSinglePeak(t *testing.T) {
	wl := []float64{550, 600, 650, 700, 750, 800}
	refl := []float64{0.10, 0.15, 0.25, 0.20, 0.12, 0.08}
	cont := make([]float64, len(refl))

	vertices, segs, err := Assemble(wl, refl, Boundaries([]int{2}, len(refl)), cont)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(segs) != 2 || segs[0] != (Segment{0, 2}) || segs[1] != (Segment{2, 5}) {
		t.Errorf("segments=%v; want [{0 2} {2 5}]", segs)
	}
	if !equalInts(vertices, []int{0, 2, 3, 5}) {
		t.Errorf("vertices=%v; want [0 2 3 5]", vertices)
	}
	want := []float64{0.10, 0.175, 0.25, 0.20, 0.14, 0.08}
	for i := range want {
		if math.Abs(cont[i]-want[i]) > 1e-12 {
			t.Errorf("continuum[%d]=%f; want %f", i, cont[i], want[i])
		}
	}
	cr := (cont[1] - refl[1]) / cont[1]
	if math.Abs(cr-0.142857) > 1e-5 {
		t.Errorf("cr(600)=%f; want 0.142857", cr)
	}
}

func TestAssembleMonotonicIsOneSegment(t *testing.T) {
	wl := []float64{400, 410, 420, 430, 440}
	refl := []float64{0.1, 0.2, 0.25, 0.28, 0.4}
	cont := make([]float64, len(refl))
	_, segs, err := Assemble(wl, refl, Boundaries(nil, len(refl)), cont)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(segs) != 1 || segs[0] != (Segment{0, 4}) {
		t.Errorf("segments=%v; want [{0 4}]", segs)
	}
}

func TestAssembleSingleBand(t *testing.T) {
	cont := make([]float64, 1)
	vertices, segs, err := Assemble([]float64{500}, []float64{0.3}, []int{0}, cont)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if cont[0] != 0.3 || len(vertices) != 1 || len(segs) != 1 {
		t.Errorf("continuum=%v vertices=%v segments=%v", cont, vertices, segs)
	}
}

func TestAssembleErrors(t *testing.T) {
	wl := []float64{1, 2, 3}
	refl := []float64{1, 2, 3}
	if _, _, err := Assemble(wl, refl, []int{2}, make([]float64, 2)); err == nil {
		t.Errorf("length mismatch accepted")
	}
	if _, _, err := Assemble(wl, refl, []int{1}, make([]float64, 3)); !errors.Is(err, errBoundaries) {
		t.Errorf("err=%v; want errBoundaries", err)
	}
}

func TestAssembleDominance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var a Assembler
	for trial := 0; trial < 100; trial++ {
		n := 2 + rng.Intn(80)
		wl := make([]float64, n)
		refl := make([]float64, n)
		x := 400.0
		for i := range wl {
			x += 1 + 9*rng.Float64()
			wl[i] = x
			refl[i] = rng.Float64()
		}
		var peaks []int
		for i := 1; i < n-1; i++ {
			if rng.Intn(10) == 0 {
				peaks = append(peaks, i)
			}
		}
		cont := make([]float64, n)
		vertices, segs, err := a.Assemble(wl, refl, Boundaries(peaks, n), cont)
		if err != nil {
			t.Fatalf("trial %d: err=%v", trial, err)
		}
		if vertices[0] != 0 || vertices[len(vertices)-1] != n-1 {
			t.Errorf("trial %d: vertices %v do not span the spectrum", trial, vertices)
		}
		if segs[0].Start != 0 || segs[len(segs)-1].End != n-1 {
			t.Errorf("trial %d: segments %v do not span the spectrum", trial, segs)
		}
		for i := range cont {
			if cont[i] < refl[i]-1e-12 {
				t.Errorf("trial %d: continuum[%d]=%f below reflectance %f", trial, i, cont[i], refl[i])
			}
		}
		for _, v := range vertices {
			if cont[v] != refl[v] {
				t.Errorf("trial %d: continuum at vertex %d is %f; want %f", trial, v, cont[v], refl[v])
			}
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
