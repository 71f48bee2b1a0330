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
	"image"
	"image/color"
	"io"

	"golang.org/x/image/tiff"
)

// Write a single band of the cube to a 16-bit grayscale TIFF, using the given min, max and gamma.
func (c *Cube) WriteMonoTIFF16ToFile(fileName string, band int, min, max, gamma float32) error {
	return createBuffered(fileName, func(w io.Writer) error { return c.WriteMonoTIFF16(w, band, min, max, gamma) })
}

// Write a single band of the cube to a 16-bit grayscale TIFF, using the given min, max and gamma.
// No-data pixels are black.
func (c *Cube) WriteMonoTIFF16(writer io.Writer, band int, min, max, gamma float32) error {
	width, height := c.Width, c.Height
	data := c.Plane(band)
	img := image.NewGray16(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray, _ := c.normalize(data[yoffset+x], min, scale, gammaInv)
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// Write three bands of the cube to a 16-bit RGB TIFF, using the given min, max and gamma.
func (c *Cube) WriteTIFF16ToFile(fileName string, bands [3]int, min, max, gamma float32) error {
	return createBuffered(fileName, func(w io.Writer) error { return c.WriteTIFF16(w, bands, min, max, gamma) })
}

// Write three bands of the cube to a 16-bit RGB TIFF, using the given min, max and gamma.
func (c *Cube) WriteTIFF16(writer io.Writer, bands [3]int, min, max, gamma float32) error {
	width, height := c.Width, c.Height
	rs, gs, bs := c.Plane(bands[0]), c.Plane(bands[1]), c.Plane(bands[2])
	img := image.NewRGBA64(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r, _ := c.normalize(rs[yoffset+x], min, scale, gammaInv)
			g, _ := c.normalize(gs[yoffset+x], min, scale, gammaInv)
			b, _ := c.normalize(bs[yoffset+x], min, scale, gammaInv)
			img.SetRGBA64(x, y, color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535})
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
