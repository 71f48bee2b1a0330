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
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

// Writes an in-memory FITS cube to a file with given filename.
// Creates/overwrites the file if necessary
func (c *Cube) WriteFile(fileName string) error {
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err = c.Write(w); err != nil {
		f.Close()
		return err
	}
	if err = w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Writes an in-memory FITS cube to an io.Writer, as 32-bit floats
// with wavelengths and band names in the header.
func (c *Cube) Write(f io.Writer) error {
	naxisn := []int32{int32(c.Width), int32(c.Height), int32(c.Bands)}
	if len(c.Data) != c.Pixels*c.Bands {
		return fmt.Errorf("%d: data has %d values for %s", c.ID, len(c.Data), c.DimensionsToString())
	}

	// Build header in string buffer
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt32(&sb, "BITPIX", -32, "32-bit floating point")
	writeInt32(&sb, "NAXIS", int32(len(naxisn)), "[1] Number of axis")
	for i := 0; i < len(naxisn); i++ {
		writeInt32(&sb, fmt.Sprintf("NAXIS%d", i+1), naxisn[i], "[1] Axis size")
	}
	if !math.IsNaN(float64(c.NoData)) {
		writeFloat64(&sb, "NODATA", float64(c.NoData), "No-data value")
	}
	if c.Wavelengths != nil {
		writeString(&sb, "WAVEUNIT", "nm", "Unit of the band wavelengths")
		for b, wl := range c.Wavelengths {
			writeFloat64(&sb, fmt.Sprintf("WAVE%04d", b+1), wl, fmt.Sprintf("Center wavelength of band %d", b+1))
		}
	}
	for b, name := range c.BandNames {
		if name != "" {
			writeString(&sb, fmt.Sprintf("BAND%04d", b+1), name, fmt.Sprintf("Name of band %d", b+1))
		}
	}
	for _, h := range c.Header.History {
		writeHistory(&sb, h)
	}
	writeEnd(&sb)

	// Pad current header block with spaces if necessary
	bytesInHeaderBlock := (sb.Len() % fitsBlockSize)
	if bytesInHeaderBlock > 0 {
		for i := bytesInHeaderBlock; i < fitsBlockSize; i++ {
			sb.WriteRune(' ')
		}
	}

	// Write header block(s)
	_, err := f.Write([]byte(sb.String()))
	if err != nil {
		return err
	}

	// Write payload data, and pad the last data block with zeros
	if err = writeFloat32Array(f, c.Data); err != nil {
		return err
	}
	if rest := (len(c.Data) * 4) % fitsBlockSize; rest > 0 {
		_, err = f.Write(make([]byte, fitsBlockSize-rest))
	}
	return err
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8s= %20s / %-47s", key, v, comment)
}

// Writes a FITS header int32 value
func writeInt32(w io.Writer, key string, value int32, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20d / %-47s", key, value, comment)
}

// Writes a FITS header float64 value. Always carries a decimal point and
// exponent, so readers do not mistake it for an integer
func writeFloat64(w io.Writer, key string, value float64, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}
	fmt.Fprintf(w, "%-8s= %20.12E / %-47s", key, value, comment)
}

// Writes a FITS header string value, with escaping and continuations if necessary.
func writeString(w io.Writer, key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	if len(comment) > 47 {
		comment = comment[0:47]
	}

	// escape ' characters, never splitting an escaped pair
	value = strings.ReplaceAll(value, "'", "''")
	split := func(n int) (head, tail string) {
		if n >= len(value) {
			return value, ""
		}
		if strings.Count(value[:n], "'")%2 == 1 {
			n--
		}
		return value[:n], value[n:]
	}

	if len(value) <= 18 {
		fmt.Fprintf(w, "%-8s= '%s'%s / %-47s", key, value, strings.Repeat(" ", 18-len(value)), comment)
		return
	}
	head, tail := split(17)
	fmt.Fprintf(w, "%-8s= '%s&'%s / %-47s", key, head, strings.Repeat(" ", 17-len(head)), comment)
	value = tail
	for len(value) > 66 {
		head, tail = split(66)
		fmt.Fprintf(w, "CONTINUE  '%s&'%s", head, strings.Repeat(" ", 67-len(head)))
		value = tail
	}
	fmt.Fprintf(w, "CONTINUE  '%s'%s", value, strings.Repeat(" ", 68-len(value)))
}

// Writes a FITS history line
func writeHistory(w io.Writer, text string) {
	if len(text) > 72 {
		text = text[:72]
	}
	fmt.Fprintf(w, "HISTORY %-72s", text)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", 80-3))
}

// Writes FITS binary body data in network byte order.
func writeFloat32Array(w io.Writer, data []float32) error {
	buf := make([]byte, bufLen)

	for block := 0; block < len(data); block += (bufLen >> 2) {
		size := len(data) - block
		if size > (bufLen >> 2) {
			size = (bufLen >> 2)
		}

		for offset := 0; offset < size; offset++ {
			binary.BigEndian.PutUint32(buf[offset<<2:], math.Float32bits(data[block+offset]))
		}
		_, err := w.Write(buf[:(size << 2)])
		if err != nil {
			return err
		}
	}
	return nil
}
