package raster

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int) *Image {
	img := NewImage(w, h)
	for y := range h {
		for x := range w {
			img.SetRGB(x, y, uint8(x), uint8(y), uint8(x+y))
		}
	}
	return img
}

func TestCrop(t *testing.T) {
	img := gradient(10, 8)

	crop, err := img.Crop(2, 3, 4, 5)
	require.NoError(t, err)
	assert.Equal(t, 4, crop.Width)
	assert.Equal(t, 5, crop.Height)

	r, g, b := crop.RGB(0, 0)
	assert.Equal(t, []uint8{2, 3, 5}, []uint8{r, g, b})
	r, g, b = crop.RGB(3, 4)
	assert.Equal(t, []uint8{5, 7, 12}, []uint8{r, g, b})

	_, err = img.Crop(8, 0, 4, 4)
	require.Error(t, err)
	_, err = img.Crop(0, 0, 0, 4)
	require.Error(t, err)
}

func TestRGBAConversionRoundTrip(t *testing.T) {
	img := gradient(6, 4)

	rgba := img.ToRGBA()
	assert.Equal(t, color.RGBA{R: 5, G: 3, B: 8, A: 255}, rgba.RGBAAt(5, 3))

	back := FromImage(rgba)
	assert.Equal(t, img.Pix, back.Pix)
}

func TestFromImageGeneric(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(1, 1, color.Gray{Y: 200})

	img := FromImage(src)
	r, g, b := img.RGB(1, 1)
	assert.Equal(t, []uint8{200, 200, 200}, []uint8{r, g, b})
}

func TestUndoHorizontalPredictor8Bit(t *testing.T) {
	// two RGB pixels, second stored as difference from the first
	block := []byte{10, 20, 30, 1, 2, 3}
	undoHorizontalPredictor(block, 1, 6, 3, 1, nil)
	assert.Equal(t, []byte{10, 20, 30, 11, 22, 33}, block)
}
