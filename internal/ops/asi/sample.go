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
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/mlnoga/asi/internal/fits"
	"github.com/mlnoga/asi/internal/ops"
	"github.com/mlnoga/asi/internal/stats"
)

// Summarizes each band of a cube: full statistics, the mean and standard
// deviation of a random pixel sample, and the histogram mode. Optionally
// appends one CSV line per band to a file. Takes one input, produces the
// unchanged input.
type OpSample struct {
	ops.OpUnaryBase
	Samples  int    `json:"samples"`  // random pixels per band
	Bins     int    `json:"bins"`     // histogram bins for the mode estimate
	FileName string `json:"fileName"` // CSV output, empty to skip

	mutex         sync.Mutex `json:"-"`
	headerWritten bool       `json:"-"`
}

var _ ops.Operator = (*OpSample)(nil) // this type is an Operator

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpSampleDefault() }) } // register the operator for JSON decoding

func NewOpSampleDefault() *OpSample { return NewOpSample(4096, 256, "") }

func NewOpSample(samples, bins int, fileName string) *OpSample {
	op := OpSample{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "sample", Active: samples > 0}},
		Samples:     samples,
		Bins:        bins,
		FileName:    fileName,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSample) UnmarshalJSON(data []byte) error {
	type defaults struct {
		ops.OpUnaryBase
		Samples  int    `json:"samples"`
		Bins     int    `json:"bins"`
		FileName string `json:"fileName"`
	}
	d := NewOpSampleDefault()
	def := defaults{OpUnaryBase: d.OpUnaryBase, Samples: d.Samples, Bins: d.Bins, FileName: d.FileName}
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	op.OpUnaryBase, op.Samples, op.Bins, op.FileName = def.OpUnaryBase, def.Samples, def.Bins, def.FileName
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

// Summary of a single band
type BandSummary struct {
	Band       string
	Stats      *stats.Stats
	SampleMean float64
	SampleStd  float64
	Mode       float32
	ModeStd    float32
}

// Summarizes band b of the cube
func Summarize(f *fits.Cube, b, samples, bins int) BandSummary {
	plane := f.Plane(b)
	s := BandSummary{Band: f.BandName(b), Stats: stats.Calc(plane, f.NoData)}
	if samples > 0 {
		xs := stats.Sample(plane, f.NoData, make([]float64, 0, samples))
		if len(xs) > 1 {
			s.SampleMean, s.SampleStd = stats.MeanStdDev(xs)
		}
	}
	s.Mode, s.ModeStd = s.Stats.Median, 0
	if bins >= 2 && s.Stats.P98 > s.Stats.P02 {
		hist := make([]int32, bins)
		if stats.Histogram(plane, f.NoData, s.Stats.P02, s.Stats.P98, hist) > 0 {
			if mode, std, err := stats.GetModeStdDevFromHistogram(hist, s.Stats.P02, s.Stats.P98); err == nil {
				s.Mode, s.ModeStd = mode, std
			}
		}
	}
	return s
}

func (op *OpSample) Apply(f *fits.Cube, c *ops.Context) (result *fits.Cube, err error) {
	if !op.Active {
		return f, nil
	}
	summaries := make([]BandSummary, f.Bands)
	for b := range summaries {
		s := Summarize(f, b, op.Samples, op.Bins)
		summaries[b] = s
		fmt.Fprintf(c.Log, "%d: %s: %s\n", f.ID, s.Band, s.Stats)
		fmt.Fprintf(c.Log, "%d: %s: sample mean %.6g stddev %.6g, mode %.6g stddev %.6g\n",
			f.ID, s.Band, s.SampleMean, s.SampleStd, s.Mode, s.ModeStd)
	}
	if op.FileName != "" {
		if err = op.writeCSV(f, summaries, c); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Appends the summaries to the CSV file, writing the header with the first cube
func (op *OpSample) writeCSV(f *fits.Cube, summaries []BandSummary, c *ops.Context) (err error) {
	op.mutex.Lock() // lock so a single thread is active
	defer op.mutex.Unlock()

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if !op.headerWritten {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	file, err := os.OpenFile(op.FileName, flags, 0644)
	if err != nil {
		return fmt.Errorf("error creating file %s: %w", op.FileName, err)
	}
	w := bufio.NewWriter(file)
	if !op.headerWritten {
		fmt.Fprintf(w, "ID,File,Band,%s,SampleMean,SampleStdDev,Mode,ModeStdDev\n", (&stats.Stats{}).ToCSVHeader())
		op.headerWritten = true
	}
	fmt.Fprintf(c.Log, "%d: Writing statistics to file %s ...\n", f.ID, op.FileName)
	for _, s := range summaries {
		fmt.Fprintf(w, "%d,%q,%q,%s,%.6g,%.6g,%.6g,%.6g\n",
			f.ID, f.FileName, s.Band, s.Stats.ToCSVLine(), s.SampleMean, s.SampleStd, s.Mode, s.ModeStd)
	}
	if err = w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
