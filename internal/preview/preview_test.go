package preview

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofo-tools/treecrown/internal/detection"
	"github.com/ofo-tools/treecrown/internal/raster"
)

func TestRenderOutlinesBoxes(t *testing.T) {
	img := raster.NewImage(100, 100)
	table := &detection.Table{Detections: []detection.Detection{
		{XMin: 10, YMin: 10, XMax: 40, YMax: 40, Score: 0.9, Label: "Tree"},
		{XMin: 90, YMin: 90, XMax: 150, YMax: 150, Score: 0.5, Label: "Tree"},
	}}

	canvas := Render(img, table)

	outlined := false
	for x := 8; x <= 12; x++ {
		if r, _, _, _ := canvas.At(x, 25).RGBA(); r == 0xffff {
			outlined = true
		}
	}
	assert.True(t, outlined, "left edge is outlined")

	r, g, b, _ := canvas.At(25, 25).RGBA()
	assert.Equal(t, [3]uint32{0, 0, 0}, [3]uint32{r, g, b}, "interior is untouched")

	assert.Equal(t, 100, canvas.Bounds().Dx(), "boxes past the edge are clipped")
}

func TestRenderNilTable(t *testing.T) {
	canvas := Render(raster.NewImage(8, 4), nil)
	assert.Equal(t, 8, canvas.Bounds().Dx())
	assert.Equal(t, 4, canvas.Bounds().Dy())
}

func TestWriteCreatesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "preview.png")
	table := &detection.Table{Detections: []detection.Detection{{XMin: 1, YMin: 1, XMax: 5, YMax: 5, Label: "Tree"}}}

	require.NoError(t, Write(path, raster.NewImage(16, 12), table))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
	assert.Equal(t, 12, decoded.Bounds().Dy())
}

func TestWriteRequiresImage(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "p.png"), nil, nil)
	assert.Error(t, err)
}

func TestLineThickness(t *testing.T) {
	assert.Equal(t, 1, lineThickness(raster.NewImage(100, 100).ToRGBA().Bounds()))
	assert.Equal(t, 4, lineThickness(raster.NewImage(2000, 3000).ToRGBA().Bounds()))
}
