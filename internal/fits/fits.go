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

package fits

import (
	"fmt"
	"math"
	"strings"
)

// A FITS spectral cube. The primary data unit holds NAXIS1 columns, NAXIS2
// rows and NAXIS3 bands, stored band-sequentially.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Cube struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the file. Positive values are integral, negative floating
	Bzero  float64 // Zero offset. True pixel value is Bzero + Bscale * raw
	Bscale float64 // Value scaler. True pixel value is Bzero + Bscale * raw
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y,band)

	Width  int // Columns
	Height int // Rows
	Bands  int // Spectral bands
	Pixels int // Pixels per band, Width*Height

	Data []float32 // The cube data, Data[b*Pixels+y*Width+x]

	Wavelengths []float64 // Band centers in nm. Nil if the file carries none
	BandNames   []string  // Optional band names
	NoData      float32   // No-data sentinel. NaN if none is declared
}

// Creates a cube initialized with empty header
func NewCube() *Cube {
	return &Cube{
		Header: NewHeader(),
		Bscale: 1,
		NoData: float32(math.NaN()),
	}
}

// Creates a cube with given dimensions. Data is not copied, allocated if nil
func NewCubeFromDims(width, height, bands int, data []float32) *Cube {
	if data == nil {
		data = make([]float32, width*height*bands)
	}
	return &Cube{
		Header: NewHeader(),
		Bitpix: -32,
		Bscale: 1,
		Naxisn: []int32{int32(width), int32(height), int32(bands)},
		Width:  width,
		Height: height,
		Bands:  bands,
		Pixels: width * height,
		Data:   data,
		NoData: float32(math.NaN()),
	}
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float64
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32

	lastString string // key of the last string value, for CONTINUE lines
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float64),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

func (c *Cube) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range c.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Returns the data of band b
func (c *Cube) Plane(b int) []float32 {
	return c.Data[b*c.Pixels : (b+1)*c.Pixels]
}

// Returns the spectrum of pixel (x,y) into dst, which is allocated if nil
func (c *Cube) Spectrum(x, y int, dst []float64) []float64 {
	if dst == nil {
		dst = make([]float64, c.Bands)
	}
	p := y*c.Width + x
	for b := range dst {
		dst[b] = float64(c.Data[b*c.Pixels+p])
	}
	return dst
}

// Returns the cube dimensions in pixels
func (c *Cube) Dims() (width, height int) { return c.Width, c.Height }

// Gathers the spectra of rows [y0, y0+rows) into dst in row-major order
func (c *Cube) ReadRows(y0, rows int, dst [][]float64) error {
	if y0 < 0 || rows < 0 || y0+rows > c.Height {
		return fmt.Errorf("%d: rows %d-%d out of bounds for height %d", c.ID, y0, y0+rows-1, c.Height)
	}
	if len(dst) != rows*c.Width {
		return fmt.Errorf("%d: %d spectra for %d rows of width %d", c.ID, len(dst), rows, c.Width)
	}
	offset := y0 * c.Width
	for b := 0; b < c.Bands; b++ {
		src := c.Data[b*c.Pixels+offset : b*c.Pixels+offset+len(dst)]
		for i, v := range src {
			dst[i][b] = float64(v)
		}
	}
	return nil
}

// Returns the name of band b, derived from its wavelength if unnamed
func (c *Cube) BandName(b int) string {
	if b < len(c.BandNames) && c.BandNames[b] != "" {
		return c.BandNames[b]
	}
	if b < len(c.Wavelengths) {
		return fmt.Sprintf("%g nm", c.Wavelengths[b])
	}
	return fmt.Sprintf("Band %d", b+1)
}
