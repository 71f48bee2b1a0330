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

package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/mlnoga/asi/internal/continuum"
)

func TestParseRanges(t *testing.T) {
	rs, err := parseRanges("1333-1479, 1780-2000,,2400-2501")
	if err != nil {
		t.Fatal(err)
	}
	want := []continuum.Range{{Low: 1333, High: 1479}, {Low: 1780, High: 2000}, {Low: 2400, High: 2501}}
	if len(rs) != len(want) {
		t.Fatalf("got %v; want %v", rs, want)
	}
	for i := range rs {
		if rs[i] != want[i] {
			t.Errorf("range %d=%v; want %v", i, rs[i], want[i])
		}
	}
	for _, bad := range []string{"1333", "a-b", "2000-1780"} {
		if _, err := parseRanges(bad); err == nil {
			t.Errorf("parseRanges(%q) accepted", bad)
		}
	}
}

func TestAutoNames(t *testing.T) {
	tests := []struct {
		name, out, suffix string
		wantLog           string
		wantQuicklook     string
	}{
		{"%auto", "result.fits", ".log", "result.log", "result.log"},
		{"%auto", "%auto", ".jpg", "", "%auto.jpg"},
		{"%auto", "out%d.fits", ".jpg", "", "%auto.jpg"},
		{"custom.jpg", "result.fits", ".jpg", "custom.jpg", "custom.jpg"},
		{"%auto", "", ".jpg", "", ""},
	}
	for _, tc := range tests {
		if got := autoName(tc.name, tc.out, tc.suffix); got != tc.wantLog {
			t.Errorf("autoName(%q,%q)=%q; want %q", tc.name, tc.out, got, tc.wantLog)
		}
		if got := quicklookPattern(tc.name, tc.out, tc.suffix); got != tc.wantQuicklook {
			t.Errorf("quicklookPattern(%q,%q)=%q; want %q", tc.name, tc.out, got, tc.wantQuicklook)
		}
	}
}

func TestBuildPipeline(t *testing.T) {
	*mode, *exclude, *crs = "threeBand", "none", "%auto"
	defer func() { *mode, *exclude, *crs = "standard", "", "" }()

	seq, err := buildPipeline("run", []string{"scene.fits"})
	if err != nil {
		t.Fatal(err)
	}
	bs, err := json.Marshal(seq)
	if err != nil {
		t.Fatal(err)
	}
	s := string(bs)
	for _, want := range []string{`"type":"loadMany"`, `"type":"forEach"`, `"type":"asi"`, `"mode":"threeBand"`, `"crs":"%auto"`, `"filePattern":"%auto.jpg"`} {
		if !strings.Contains(s, want) {
			t.Errorf("pipeline lacks %s:\n%s", want, s)
		}
	}

	if _, err := buildPipeline("run", nil); err == nil {
		t.Errorf("expected error without input files")
	}
	if _, err := buildPipeline("dance", []string{"x.fits"}); err == nil {
		t.Errorf("expected error for unknown command")
	}
	*mode = "fancy"
	if _, err := buildPipeline("find", []string{"x.fits"}); err == nil {
		t.Errorf("expected error for unknown mode")
	}
}
