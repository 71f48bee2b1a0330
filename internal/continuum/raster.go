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
)

// Supplies spectra from a raster, row block by row block
type BlockSource interface {
	Dims() (width, height int)
	// Fills dst with the spectra of rows [y0, y0+rows) in row-major order.
	// Each dst entry is pre-allocated with one value per manifest band.
	ReadRows(y0, rows int, dst [][]float64) error
}

// Accepts per-pixel results of row blocks, called in row order
type BlockSink interface {
	WriteRows(y0, rows int, results []Result) error
}

// Options for raster processing
type RasterOptions struct {
	BlockRows   int  // rows per block, clamped to [1, height]
	KeepSpectra bool // keep continuum and removed spectra in the results passed to the sink
}

type rasterBlock struct {
	y0, rows int
	spectra  [][]float64
	err      error
}

// Processes a whole raster block by block. A reader goroutine loads the next
// block while the workers compute the current one. Blocks are written to dst
// in row order; the monitor is asked for cancellation once per block, and
// blocks written before a cancellation are kept.
func (e *Engine) ProcessRaster(src BlockSource, dst BlockSink, opts RasterOptions, mon Monitor) (counts Counts, err error) {
	width, height := src.Dims()
	if width <= 0 || height <= 0 {
		return counts, nil
	}
	rows := opts.BlockRows
	if rows < 1 {
		rows = 1
	}
	if rows > height {
		rows = height
	}
	bands := len(e.wl)

	newBlock := func() *rasterBlock {
		backing := make([]float64, rows*width*bands)
		spectra := make([][]float64, rows*width)
		for i := range spectra {
			spectra[i] = backing[i*bands : (i+1)*bands : (i+1)*bands]
		}
		return &rasterBlock{spectra: spectra}
	}

	// double buffering: two blocks alternate between reader and workers
	free := make(chan *rasterBlock, 2)
	free <- newBlock()
	free <- newBlock()
	full := make(chan *rasterBlock, 1)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		defer close(full)
		for y0 := 0; y0 < height; y0 += rows {
			var b *rasterBlock
			select {
			case b = <-free:
			case <-quit:
				return
			}
			b.y0, b.rows = y0, rows
			if y0+rows > height {
				b.rows = height - y0
			}
			b.err = src.ReadRows(b.y0, b.rows, b.spectra[:b.rows*width])
			select {
			case full <- b:
			case <-quit:
				return
			}
			if b.err != nil {
				return
			}
		}
	}()

	results := make([]Result, rows*width)
	total, done := width*height, 0
	for b := range full {
		if b.err != nil {
			return counts, fmt.Errorf("reading rows %d-%d: %w", b.y0, b.y0+b.rows-1, b.err)
		}
		if mon != nil && mon.ShouldCancel() {
			return counts, ErrCancelled
		}
		n := b.rows * width
		e.processInto(b.spectra[:n], results[:n], opts.KeepSpectra)
		for i := range results[:n] {
			counts.Add(&results[i])
		}
		if err := dst.WriteRows(b.y0, b.rows, results[:n]); err != nil {
			return counts, fmt.Errorf("writing rows %d-%d: %w", b.y0, b.y0+b.rows-1, err)
		}
		free <- b
		done += n
		if mon != nil {
			mon.ReportProgress(done, total)
		}
	}
	return counts, nil
}
