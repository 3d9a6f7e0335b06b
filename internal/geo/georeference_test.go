package geo

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofo-tools/treecrown/internal/detection"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/raster/rastertest"
)

func tableFor(path string, boxes ...[4]float64) *detection.Table {
	t := &detection.Table{}
	for _, b := range boxes {
		t.Detections = append(t.Detections, detection.Detection{
			XMin: b[0], YMin: b[1], XMax: b[2], YMax: b[3],
			Score: 0.8, Label: "Tree",
		})
	}
	t.TagImagePath(path)
	return t
}

func TestBoxesToLayerProjected(t *testing.T) {
	path := rastertest.MustWrite(t, "ortho.tif", rastertest.Options{
		Width: 100, Height: 80, EPSG: 32610,
		Origin: [2]float64{500000, 4200000}, PixelSize: 0.5,
	})

	layer, err := NewGeoreferencer("").BoxesToLayer(tableFor(path, [4]float64{10, 20, 30, 60}), "", true)
	require.NoError(t, err)

	assert.Equal(t, DefaultLayerName, layer.Name)
	assert.Equal(t, 32610, layer.EPSG())
	require.Equal(t, 1, layer.Len())

	f := layer.Features[0]
	assert.InDelta(t, 500005.0, f.XMin, 1e-6)
	assert.InDelta(t, 500015.0, f.XMax, 1e-6)
	assert.InDelta(t, 4199970.0, f.YMin, 1e-6)
	assert.InDelta(t, 4199990.0, f.YMax, 1e-6)
	assert.Equal(t, path, f.ImagePath)
	assert.Equal(t, "Tree", f.Label)

	require.NotNil(t, f.Polygon)
	assert.Equal(t, 32610, f.Polygon.SRID())
	ring := f.Polygon.LinearRing(0)
	require.Equal(t, 5, ring.NumCoords())
	assert.Equal(t, ring.Coord(0), ring.Coord(4), "ring is closed")
	assert.InDelta(t, 10.0*20.0, math.Abs(f.Polygon.Area()), 1e-6)
}

func TestPolygonsInsideRasterBounds(t *testing.T) {
	path := rastertest.MustWrite(t, "ortho.tif", rastertest.Options{
		Width: 50, Height: 50, Origin: [2]float64{1000, 2000}, PixelSize: 2,
	})

	layer, err := NewGeoreferencer("crowns").BoxesToLayer(
		tableFor(path, [4]float64{0, 0, 50, 50}, [4]float64{12.5, 3, 40, 49.5}), "", true)
	require.NoError(t, err)

	b := layer.Bounds()
	assert.GreaterOrEqual(t, b.Min(0), 1000.0)
	assert.LessOrEqual(t, b.Max(0), 1100.0)
	assert.GreaterOrEqual(t, b.Min(1), 1900.0)
	assert.LessOrEqual(t, b.Max(1), 2000.0)
}

func TestBoxesToLayerUnprojected(t *testing.T) {
	table := tableFor("does/not/exist.tif", [4]float64{1, 2, 3, 4})

	layer, err := NewGeoreferencer("").BoxesToLayer(table, "", false)
	require.NoError(t, err)

	assert.Zero(t, layer.EPSG())
	assert.False(t, layer.Projected)
	require.Equal(t, 1, layer.Len())
	f := layer.Features[0]
	assert.Equal(t, [4]float64{1, 2, 3, 4}, [4]float64{f.XMin, f.YMin, f.XMax, f.YMax})
	assert.InDelta(t, 4.0, math.Abs(f.Polygon.Area()), 1e-9)
}

func TestRootDirResolution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, rastertest.Write(filepath.Join(dir, "tiles", "a.tif"), rastertest.Options{Width: 10, Height: 10}))

	layer, err := NewGeoreferencer("").BoxesToLayer(tableFor("tiles/a.tif", [4]float64{0, 0, 5, 5}), dir, true)
	require.NoError(t, err)
	assert.Equal(t, "tiles/a.tif", layer.Features[0].ImagePath)
}

func TestGeoreferenceErrors(t *testing.T) {
	t.Run("missing raster", func(t *testing.T) {
		_, err := NewGeoreferencer("").BoxesToLayer(tableFor(filepath.Join(t.TempDir(), "gone.tif"), [4]float64{0, 0, 1, 1}), "", true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryGeoreference))
	})

	t.Run("raster without crs", func(t *testing.T) {
		path := rastertest.MustWrite(t, "plain.tif", rastertest.Options{Width: 4, Height: 4, EPSG: -1})
		_, err := NewGeoreferencer("").BoxesToLayer(tableFor(path, [4]float64{0, 0, 1, 1}), "", true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryGeoreference))
	})

	t.Run("untagged rows", func(t *testing.T) {
		table := &detection.Table{Detections: []detection.Detection{{XMax: 1, YMax: 1}}}
		_, err := NewGeoreferencer("").BoxesToLayer(table, "", true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryGeoreference))
	})

	t.Run("mixed crs", func(t *testing.T) {
		a := rastertest.MustWrite(t, "a.tif", rastertest.Options{Width: 4, Height: 4, EPSG: 32610})
		b := rastertest.MustWrite(t, "b.tif", rastertest.Options{Width: 4, Height: 4, EPSG: 32611})

		table := tableFor(a, [4]float64{0, 0, 1, 1})
		other := tableFor(b, [4]float64{0, 0, 1, 1})
		table.Detections = append(table.Detections, other.Detections...)

		_, err := NewGeoreferencer("").BoxesToLayer(table, "", true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryGeoreference))
	})
}

func TestMetadataIsCachedPerPath(t *testing.T) {
	path := rastertest.MustWrite(t, "ortho.tif", rastertest.Options{Width: 10, Height: 10})
	g := NewGeoreferencer("")

	_, err := g.BoxesToLayer(tableFor(path, [4]float64{0, 0, 1, 1}), "", true)
	require.NoError(t, err)

	// cached metadata survives the raster disappearing
	require.NoError(t, os.Remove(path))
	_, err = g.BoxesToLayer(tableFor(path, [4]float64{0, 0, 1, 1}), "", true)
	require.NoError(t, err)

	_, err = NewGeoreferencer("").BoxesToLayer(tableFor(path, [4]float64{0, 0, 1, 1}), "", true)
	require.Error(t, err, "a new georeferencer starts with an empty cache")
}

func TestEmptyTable(t *testing.T) {
	layer, err := NewGeoreferencer("").BoxesToLayer(&detection.Table{}, "", true)
	require.NoError(t, err)
	assert.Zero(t, layer.Len())
	assert.True(t, layer.Bounds().IsEmpty())

	layer, err = NewGeoreferencer("").BoxesToLayer(nil, "", true)
	require.NoError(t, err)
	assert.Zero(t, layer.Len())
}

func TestEmptyTableKeepsSourceCRS(t *testing.T) {
	path := rastertest.MustWrite(t, "ortho.tif", rastertest.Options{Width: 10, Height: 10, EPSG: 32610})

	layer, err := NewGeoreferencer("").BoxesToLayer(tableFor(path), "", true)
	require.NoError(t, err)
	assert.Zero(t, layer.Len())
	assert.Equal(t, 32610, layer.EPSG())

	t.Run("source without crs", func(t *testing.T) {
		plain := rastertest.MustWrite(t, "plain.tif", rastertest.Options{Width: 4, Height: 4, EPSG: -1})
		_, err := NewGeoreferencer("").BoxesToLayer(tableFor(plain), "", true)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryGeoreference))
	})

	t.Run("unprojected skips the source", func(t *testing.T) {
		layer, err := NewGeoreferencer("").BoxesToLayer(tableFor("does/not/exist.tif"), "", false)
		require.NoError(t, err)
		assert.Zero(t, layer.EPSG())
	})
}
