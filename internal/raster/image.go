package raster

import (
	"fmt"
	"image"
	"image/color"
)

// Channels is the number of bands kept by the loader.
const Channels = 3

// Image is an 8-bit RGB pixel array in height-width-channel order.
// Pixel (x, y) channel c lives at Pix[(y*Width+x)*Channels+c].
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// NewImage allocates a zeroed RGB image.
func NewImage(width, height int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: Channels,
		Pix:      make([]uint8, width*height*Channels),
	}
}

// Shape returns (height, width, channels).
func (m *Image) Shape() (int, int, int) {
	return m.Height, m.Width, m.Channels
}

// RGB returns the pixel at (x, y).
func (m *Image) RGB(x, y int) (r, g, b uint8) {
	i := (y*m.Width + x) * m.Channels
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// SetRGB sets the pixel at (x, y).
func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	i := (y*m.Width + x) * m.Channels
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// Crop copies the rectangle [x, x+w) x [y, y+h) into a new image.
func (m *Image) Crop(x, y, w, h int) (*Image, error) {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > m.Width || y+h > m.Height {
		return nil, fmt.Errorf("crop %dx%d at (%d,%d) outside %dx%d image", w, h, x, y, m.Width, m.Height)
	}

	out := NewImage(w, h)
	rowBytes := w * m.Channels
	for row := range h {
		src := ((y+row)*m.Width + x) * m.Channels
		copy(out.Pix[row*rowBytes:(row+1)*rowBytes], m.Pix[src:src+rowBytes])
	}
	return out, nil
}

// ToRGBA converts the image to an opaque *image.RGBA for encoding,
// resizing and drawing.
func (m *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, j := 0, 0; i < len(m.Pix); i, j = i+m.Channels, j+4 {
		out.Pix[j] = m.Pix[i]
		out.Pix[j+1] = m.Pix[i+1]
		out.Pix[j+2] = m.Pix[i+2]
		out.Pix[j+3] = 0xff
	}
	return out
}

// FromImage converts any image.Image to an RGB Image, dropping alpha.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := NewImage(b.Dx(), b.Dy())

	switch s := src.(type) {
	case *image.RGBA:
		copyFourChannel(out, s.Pix, s.Stride, 1)
	case *image.NRGBA:
		copyFourChannel(out, s.Pix, s.Stride, 1)
	case *image.RGBA64:
		copyFourChannel(out, s.Pix, s.Stride, 2)
	case *image.NRGBA64:
		copyFourChannel(out, s.Pix, s.Stride, 2)
	default:
		for y := range out.Height {
			for x := range out.Width {
				c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				out.SetRGB(x, y, c.R, c.G, c.B)
			}
		}
	}
	return out
}

// copyFourChannel copies the first three channels of a 4-channel buffer.
// Samples are stored raw; for 16-bit buffers (bytesPerSample 2, big-endian)
// the high byte is kept.
func copyFourChannel(dst *Image, pix []uint8, stride, bytesPerSample int) {
	pixelBytes := 4 * bytesPerSample
	for y := range dst.Height {
		row := pix[y*stride:]
		for x := range dst.Width {
			p := row[x*pixelBytes:]
			dst.SetRGB(x, y, p[0], p[bytesPerSample], p[2*bytesPerSample])
		}
	}
}
