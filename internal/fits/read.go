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
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

func NewCubeFromFile(fileName string, id int, logWriter io.Writer) (c *Cube, err error) {
	c = NewCube()
	c.ID = id
	return c, c.ReadFile(fileName, true, logWriter)
}

// Read FITS data from the file with the given name. Decompresses gzip if .gz or gzip suffix is present.
// Reads metadata only (fast) if readData is false.
func (c *Cube) ReadFile(fileName string, readData bool, logWriter io.Writer) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)

	c.FileName = fileName
	lExt := strings.ToLower(path.Ext(fileName))
	if lExt == ".gz" || lExt == ".gzip" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}

	return c.Read(r, readData, logWriter)
}

func (c *Cube) PopHeaderInt32(key string) (res int32, err error) {
	if val, ok := c.Header.Ints[key]; ok {
		delete(c.Header.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", c.ID, key)
}

func (c *Cube) PopHeaderInt32OrFloat(key string) (res float64, err error) {
	if val, ok := c.Header.Ints[key]; ok {
		delete(c.Header.Ints, key)
		return float64(val), nil
	} else if val, ok := c.Header.Floats[key]; ok {
		delete(c.Header.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("%d: FITS header does not contain key %s", c.ID, key)
}

func (c *Cube) PopHeaderString(key string) (res string, ok bool) {
	if val, ok := c.Header.Strings[key]; ok {
		delete(c.Header.Strings, key)
		return strings.TrimSpace(val), true
	}
	return "", false
}

func (c *Cube) Read(f io.Reader, readData bool, logWriter io.Writer) (err error) {
	err = c.Header.read(f, c.ID, logWriter)
	if err != nil {
		return err
	}

	// check mandatory fields as per standard
	if !c.Header.Bools["SIMPLE"] {
		return fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", c.ID)
	}
	delete(c.Header.Bools, "SIMPLE")

	if c.Bitpix, err = c.PopHeaderInt32("BITPIX"); err != nil {
		return err
	}
	var naxis int32
	if naxis, err = c.PopHeaderInt32("NAXIS"); err != nil {
		return err
	}
	if naxis < 1 || naxis > 3 {
		return fmt.Errorf("%d: Unsupported NAXIS=%d, want 1 to 3 axes", c.ID, naxis)
	}
	c.Naxisn = make([]int32, naxis)
	for i := int32(1); i <= naxis; i++ {
		name := "NAXIS" + strconv.FormatInt(int64(i), 10)
		var nai int32
		if nai, err = c.PopHeaderInt32(name); err != nil {
			return err
		}
		if nai < 1 {
			return fmt.Errorf("%d: Invalid %s=%d", c.ID, name, nai)
		}
		c.Naxisn[i-1] = nai
	}

	// NAXIS=3 is a cube, NAXIS=2 a table of spectra with one spectrum per row,
	// NAXIS=1 a single spectrum. The latter two are mapped onto a single-row cube.
	spectralAxis := 3
	switch naxis {
	case 3:
		c.Width, c.Height, c.Bands = int(c.Naxisn[0]), int(c.Naxisn[1]), int(c.Naxisn[2])
	case 2:
		c.Width, c.Height, c.Bands = int(c.Naxisn[1]), 1, int(c.Naxisn[0])
		spectralAxis = 1
	default:
		c.Width, c.Height, c.Bands = 1, 1, int(c.Naxisn[0])
		spectralAxis = 1
	}
	c.Pixels = c.Width * c.Height

	if c.Bzero, err = c.PopHeaderInt32OrFloat("BZERO"); err != nil {
		c.Bzero = 0
	}
	if c.Bscale, err = c.PopHeaderInt32OrFloat("BSCALE"); err != nil {
		c.Bscale = 1
	}
	if blank, err := c.PopHeaderInt32OrFloat("BLANK"); err == nil {
		c.NoData = float32(blank*c.Bscale + c.Bzero)
	} else if noData, err := c.PopHeaderInt32OrFloat("NODATA"); err == nil {
		c.NoData = float32(noData)
	}

	if err = c.readWavelengths(spectralAxis); err != nil {
		return err
	}
	c.readBandNames()

	if !readData {
		return nil
	}
	if err = c.readData(f, logWriter); err != nil {
		return err
	}
	if naxis == 2 {
		c.transposeTable()
	}
	return nil
}

// Reads band wavelengths from WAVEnnnn keys, or from the linear world
// coordinates of the spectral axis. Converts micrometers to nanometers.
func (c *Cube) readWavelengths(axis int) error {
	wl := make([]float64, c.Bands)
	found := 0
	for b := range wl {
		if v, err := c.PopHeaderInt32OrFloat(fmt.Sprintf("WAVE%04d", b+1)); err == nil {
			wl[b] = v
			found++
		}
	}
	unit, _ := c.PopHeaderString("WAVEUNIT")
	if found == 0 {
		suffix := strconv.Itoa(axis)
		crval, err := c.PopHeaderInt32OrFloat("CRVAL" + suffix)
		if err != nil {
			return nil // no wavelength information
		}
		cdelt, err := c.PopHeaderInt32OrFloat("CDELT" + suffix)
		if err != nil {
			return fmt.Errorf("%d: CRVAL%s without CDELT%s", c.ID, suffix, suffix)
		}
		crpix, err := c.PopHeaderInt32OrFloat("CRPIX" + suffix)
		if err != nil {
			crpix = 1
		}
		for b := range wl {
			wl[b] = crval + (float64(b+1)-crpix)*cdelt
		}
		if u, ok := c.PopHeaderString("CUNIT" + suffix); ok {
			unit = u
		}
	} else if found != c.Bands {
		return fmt.Errorf("%d: Found %d WAVEnnnn keys for %d bands", c.ID, found, c.Bands)
	}

	switch strings.ToLower(unit) {
	case "", "nm", "nanometers":
	case "um", "micrometers", "µm", "micron":
		for b := range wl {
			wl[b] *= 1000
		}
	default:
		return fmt.Errorf("%d: Unknown wavelength unit '%s'", c.ID, unit)
	}
	c.Wavelengths = wl
	return nil
}

// Reads optional BANDnnnn names
func (c *Cube) readBandNames() {
	var names []string
	for b := 0; b < c.Bands; b++ {
		if v, ok := c.PopHeaderString(fmt.Sprintf("BAND%04d", b+1)); ok {
			if names == nil {
				names = make([]string, c.Bands)
			}
			names[b] = v
		}
	}
	c.BandNames = names
}

// Converts a table of spectra, one per row, into band-sequential order
func (c *Cube) transposeTable() {
	data := make([]float32, len(c.Data))
	for p := 0; p < c.Width; p++ {
		for b := 0; b < c.Bands; b++ {
			data[b*c.Pixels+p] = c.Data[p*c.Bands+b]
		}
	}
	c.Data = data
}

const bufLen int = 16 * 1024 // input buffer length for reading from file

// Returns the size in bytes and a big-endian decoder for the given BITPIX
func decoderFor(bitpix int32) (size int, decode func(b []byte) float64, err error) {
	switch bitpix {
	case 8:
		return 1, func(b []byte) float64 { return float64(b[0]) }, nil
	case 16:
		return 2, func(b []byte) float64 { return float64(int16(binary.BigEndian.Uint16(b))) }, nil
	case 32:
		return 4, func(b []byte) float64 { return float64(int32(binary.BigEndian.Uint32(b))) }, nil
	case 64:
		return 8, func(b []byte) float64 { return float64(int64(binary.BigEndian.Uint64(b))) }, nil
	case -32:
		return 4, func(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) }, nil
	case -64:
		return 8, func(b []byte) float64 { return math.Float64frombits(binary.BigEndian.Uint64(b)) }, nil
	}
	return 0, nil, fmt.Errorf("Unknown BITPIX value %d", bitpix)
}

// Read cube data from file, convert to float32 data type, apply BZERO and BSCALE and reset them afterwards.
func (c *Cube) readData(r io.Reader, logWriter io.Writer) error {
	size, decode, err := decoderFor(c.Bitpix)
	if err != nil {
		return fmt.Errorf("%d: %s", c.ID, err.Error())
	}
	if size == 8 {
		fmt.Fprintf(logWriter, "%d: Warning: loss of precision converting %d-bit values to float32\n", c.ID, size*8)
	}

	n := c.Pixels * c.Bands
	c.Data = make([]float32, n)
	buf := make([]byte, bufLen)
	perBuf := bufLen / size
	for dataIndex := 0; dataIndex < n; {
		count := n - dataIndex
		if count > perBuf {
			count = perBuf
		}
		if _, err := io.ReadFull(r, buf[:count*size]); err != nil {
			return fmt.Errorf("%d: reading data: %s", c.ID, err.Error())
		}
		for i := 0; i < count; i++ {
			c.Data[dataIndex+i] = float32(decode(buf[i*size:])*c.Bscale + c.Bzero)
		}
		dataIndex += count
	}
	c.Bzero, c.Bscale = 0, 1 // reflect that data values incorporate these now
	return nil
}

func (h *Header) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		bytesRead, err := io.ReadFull(r, buf)
		if err != nil {
			return fmt.Errorf("%d: reading header: %s", id, err.Error())
		}
		h.Length += int32(bytesRead)

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/HeaderLineSize && !h.End; lineNo++ {
			line := buf[lineNo*HeaderLineSize : (lineNo+1)*HeaderLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning:Cannot parse '%s', ignoring\n", id, string(line))
			} else {
				subNames := reParser.SubexpNames()
				h.readLine(subNames, subValues, id, lineNo, logWriter)
			}
		}
	}
	return nil
}

func (h *Header) readLine(subNames []string, subValues [][]byte, id, lineNo int, logWriter io.Writer) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] != nil && len(subNames[i]) == 1 {
			switch c := subNames[i][0]; c {
			case byte('E'): // end line
				h.End = true
			case byte('H'): // history line
				h.History = append(h.History, string(subValues[i]))
			case byte('C'): // comment line
				h.Comments = append(h.Comments, string(subValues[i]))
			case byte('k'): // key
				key = string(subValues[i])
			case byte('b'): // boolean
				if len(subValues[i]) > 0 {
					v := subValues[i][0]
					h.Bools[key] = v == byte('t') || v == byte('T')
				}
			case byte('i'): // int
				val, err := strconv.ParseInt(string(subValues[i]), 10, 64)
				if err == nil {
					h.Ints[key] = int32(val)
				}
			case byte('f'): // float
				val, err := strconv.ParseFloat(strings.Replace(string(subValues[i]), "D", "E", 1), 64)
				if err == nil {
					h.Floats[key] = val
				}
			case byte('s'): // string
				h.Strings[key] = strings.ReplaceAll(string(subValues[i]), "''", "'")
				h.lastString = key
			case byte('n'): // string continuation
				if prev, ok := h.Strings[h.lastString]; ok && strings.HasSuffix(prev, "&") {
					h.Strings[h.lastString] = prev[:len(prev)-1] + strings.ReplaceAll(string(subValues[i]), "''", "'")
				}
			case byte('d'): // date
				h.Dates[key] = string(subValues[i])
			case byte('c'): // comment
				// ignore value comments
			default:
				fmt.Fprintf(logWriter, "%d:%d:Warning:Unknown token '%s'\n", id, lineNo, string(c))
			}
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	contKey := "CONTINUE"
	contLine := contKey + whiteOpt + "'(?P<n>(?:[^']|'')*)'" + whiteOpt + "(?:/" + rest + ")?"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?(?:[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?|[0-9]+[ED][-+]?[0-9]+))"
	stri := "'(?P<s>(?:[^']|'')*)'"
	date := "(?P<d>[0-9]{1,4}-?[012][0-9]-?[0123][0-9]T[012][0-9]:?[0-5][0-9]:?[0-5][0-9].?[0-9]*)"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + "|" + date + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + contLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}
