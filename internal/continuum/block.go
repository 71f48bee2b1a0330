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
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Monitors a long-running computation. Implementations must be safe
// for concurrent use.
type Monitor interface {
	ShouldCancel() bool             // checked once per block
	ReportProgress(done, total int) // pixels done so far
}

// A Monitor with a cancellation flag, reporting progress to an optional
// writer in steps of 10%.
type CancelFlag struct {
	cancelled atomic.Bool
	lastTenth atomic.Int32
	Log       io.Writer
}

// Requests cancellation at the next block boundary
func (c *CancelFlag) Cancel() { c.cancelled.Store(true) }

func (c *CancelFlag) ShouldCancel() bool { return c.cancelled.Load() }

func (c *CancelFlag) ReportProgress(done, total int) {
	if c.Log == nil || total <= 0 {
		return
	}
	tenth := int32(done * 10 / total)
	if last := c.lastTenth.Load(); tenth > last && c.lastTenth.CompareAndSwap(last, tenth) {
		fmt.Fprintf(c.Log, "Processed %d of %d pixels (%d%%)\n", done, total, tenth*10)
	}
}

// Per-run progress reporting on top of a shared parent monitor. Cancellation
// is delegated to the parent, progress steps are tracked per instance, so
// one parent can serve many rasters in sequence or in parallel.
type Progress struct {
	parent Monitor
	steps  CancelFlag
}

func NewProgress(parent Monitor, log io.Writer) *Progress {
	p := &Progress{parent: parent}
	p.steps.Log = log
	return p
}

func (p *Progress) ShouldCancel() bool {
	return p.parent != nil && p.parent.ShouldCancel()
}

func (p *Progress) ReportProgress(done, total int) { p.steps.ReportProgress(done, total) }

// Processes a block of spectra in parallel. Results are in input order.
// The monitor, if any, is asked for cancellation once before the block
// and notified of completion after it. Per-pixel failures are reported
// in the results, never as error.
func (e *Engine) ProcessBlock(spectra [][]float64, mon Monitor) ([]Result, error) {
	if mon != nil && mon.ShouldCancel() {
		return nil, ErrCancelled
	}
	results := make([]Result, len(spectra))
	e.processInto(spectra, results, true)
	if mon != nil {
		mon.ReportProgress(len(spectra), len(spectra))
	}
	return results, nil
}

// Processes spectra into results at the same offsets, using up to
// cfg.Threads workers on contiguous chunks. If keep is set, each result
// gets its continuum and removed spectrum from block-wide backing arrays.
func (e *Engine) processInto(spectra [][]float64, results []Result, keep bool) {
	n := len(spectra)
	if n == 0 {
		return
	}
	bands := len(e.window)
	var contBacking, removedBacking []float64
	if keep {
		contBacking = make([]float64, n*bands)
		removedBacking = make([]float64, n*bands)
	}

	threads := e.cfg.Threads
	if threads > n {
		threads = n
	}
	chunk := (n + threads - 1) / threads

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			s := e.newScratch()
			for i := start; i < end; i++ {
				r := &results[i]
				*r = Result{}
				if keep {
					r.Continuum = contBacking[i*bands : (i+1)*bands : (i+1)*bands]
					r.Removed = removedBacking[i*bands : (i+1)*bands : (i+1)*bands]
				}
				e.process(spectra[i], s, r)
			}
		}(start, end)
	}
	wg.Wait()
}
