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
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Colour stops of the index ramp, from low to high values
var rampStops = []colorful.Color{
	{R: 0.05, G: 0.05, B: 0.30},
	{R: 0.00, G: 0.45, B: 0.60},
	{R: 0.30, G: 0.75, B: 0.20},
	{R: 1.00, G: 0.90, B: 0.20},
	{R: 0.80, G: 0.10, B: 0.10},
}

// Maps t in [0,1] onto the colour ramp, blending stops in HCL space
func Ramp(t float64) colorful.Color {
	if math.IsNaN(t) || t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	pos := t * float64(len(rampStops)-1)
	i := int(pos)
	if i >= len(rampStops)-1 {
		return rampStops[len(rampStops)-1]
	}
	return rampStops[i].BlendHcl(rampStops[i+1], pos-float64(i)).Clamped()
}

// Normalizes v to [0,1] with the given min and max and gamma. Returns false for no-data and NaN values
func (c *Cube) normalize(v, min, scale float32, gammaInv float64) (float32, bool) {
	if v == c.NoData || math.IsNaN(float64(v)) {
		return 0, false
	}
	v = (v - min) * scale
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if gammaInv != 1.0 {
		v = float32(math.Pow(float64(v), gammaInv))
	}
	return v, true
}

func createBuffered(fileName string, write func(w io.Writer) error) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	writer := bufio.NewWriter(file)
	if err = write(writer); err != nil {
		file.Close()
		return err
	}
	if err = writer.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Write a single band of the cube to a colorized JPG, using the given min and max.
func (c *Cube) WriteColorJPGToFile(fileName string, band int, min, max float32, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error { return c.WriteColorJPG(w, band, min, max, quality) })
}

// Write a single band of the cube to a colorized JPG, using the given min and max.
// No-data pixels are black.
func (c *Cube) WriteColorJPG(writer io.Writer, band int, min, max float32, quality int) error {
	width, height := c.Width, c.Height
	data := c.Plane(band)
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			v, ok := c.normalize(data[yoffset+x], min, scale, 1)
			if !ok {
				img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
				continue
			}
			r, g, b := Ramp(float64(v)).RGB255()
			img.SetRGBA(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// Write three bands of the cube to an RGB JPG, using the given min, max and gamma.
func (c *Cube) WriteRGBJPGToFile(fileName string, bands [3]int, min, max, gamma float32, quality int) error {
	return createBuffered(fileName, func(w io.Writer) error { return c.WriteRGBJPG(w, bands, min, max, gamma, quality) })
}

// Write three bands of the cube to an RGB JPG, using the given min, max and gamma.
func (c *Cube) WriteRGBJPG(writer io.Writer, bands [3]int, min, max, gamma float32, quality int) error {
	width, height := c.Width, c.Height
	rs, gs, bs := c.Plane(bands[0]), c.Plane(bands[1]), c.Plane(bands[2])
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	scale := 1.0 / (max - min)
	gammaInv := float64(1.0 / gamma)
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r, _ := c.normalize(rs[yoffset+x], min, scale, gammaInv)
			g, _ := c.normalize(gs[yoffset+x], min, scale, gammaInv)
			b, _ := c.normalize(bs[yoffset+x], min, scale, gammaInv)
			img.SetRGBA(x, y, color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}
