package vector

import (
	"context"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/geo"
	"github.com/ofo-tools/treecrown/internal/raster"
)

func rect(xmin, ymin, xmax, ymax float64, srid int) *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{xmin, ymax}, {xmax, ymax}, {xmax, ymin}, {xmin, ymin}, {xmin, ymax},
	}}).SetSRID(srid)
}

func testLayer() *geo.Layer {
	layer := &geo.Layer{
		Name:      "predictions",
		CRS:       raster.CRS{EPSG: 32610},
		Projected: true,
	}
	for i, b := range [][4]float64{
		{500005, 4199970, 500015, 4199990},
		{500020, 4199950, 500030, 4199960},
	} {
		layer.Features = append(layer.Features, geo.Feature{
			Polygon:   rect(b[0], b[1], b[2], b[3], 32610),
			XMin:      b[0],
			YMin:      b[1],
			XMax:      b[2],
			YMax:      b[3],
			Score:     []float32{0.9, 0.4}[i],
			Label:     "Tree",
			ImagePath: "ortho.tif",
		})
	}
	return layer
}

func openGeoPackage(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gorm_logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestWriteGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.gpkg")
	require.NoError(t, Write(context.Background(), path, testLayer()))

	db := openGeoPackage(t, path)

	var appID, userVersion int64
	require.NoError(t, db.Raw("PRAGMA application_id").Row().Scan(&appID))
	require.NoError(t, db.Raw("PRAGMA user_version").Row().Scan(&userVersion))
	assert.Equal(t, int64(gpkgApplicationID), appID)
	assert.Equal(t, int64(gpkgUserVersion), userVersion)

	var count int64
	require.NoError(t, db.Table("predictions").Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var srsID int
	require.NoError(t, db.Raw("SELECT srs_id FROM gpkg_geometry_columns WHERE table_name = ?", "predictions").Row().Scan(&srsID))
	assert.Equal(t, 32610, srsID)

	var org string
	require.NoError(t, db.Raw("SELECT organization FROM gpkg_spatial_ref_sys WHERE srs_id = ?", 32610).Row().Scan(&org))
	assert.Equal(t, "EPSG", org)

	var minX, maxY float64
	require.NoError(t, db.Raw("SELECT min_x, max_y FROM gpkg_contents WHERE table_name = ?", "predictions").Row().Scan(&minX, &maxY))
	assert.InDelta(t, 500005.0, minX, 1e-9)
	assert.InDelta(t, 4199990.0, maxY, 1e-9)

	var (
		blob      []byte
		score     float64
		label     string
		imagePath string
	)
	require.NoError(t, db.Raw("SELECT geom, score, label, image_path FROM predictions ORDER BY fid LIMIT 1").
		Row().Scan(&blob, &score, &label, &imagePath))
	assert.Equal(t, "GP", string(blob[:2]))
	assert.InDelta(t, 0.9, score, 1e-12)
	assert.Equal(t, "Tree", label)
	assert.Equal(t, "ortho.tif", imagePath)
}

func TestWriteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.gpkg")
	layer := testLayer()

	require.NoError(t, Write(context.Background(), path, layer))
	require.NoError(t, Write(context.Background(), path, layer))

	var count int64
	require.NoError(t, openGeoPackage(t, path).Table("predictions").Count(&count).Error)
	assert.Equal(t, int64(len(layer.Features)), count, "rewrite replaces rather than appends")
}

func TestWriteCreatesMissingDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "out.geojson")
	require.NoError(t, Write(context.Background(), path, testLayer()))
	assert.FileExists(t, path)
}

func TestWriteRejectsUnknownExtension(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	err := Write(context.Background(), filepath.Join(dir, "out.shp"), testLayer())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFormat))
	assert.NoDirExists(t, dir, "nothing is created for unsupported formats")
}

func TestFailedWriteKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.geojson")
	require.NoError(t, os.WriteFile(path, []byte("previous"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Write(ctx, path, testLayer())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is removed")
}

func TestWriteGeoJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.geojson")
	require.NoError(t, Write(context.Background(), path, testLayer()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Type string `json:"type"`
		Name string `json:"name"`
		CRS  struct {
			Properties struct {
				Name string `json:"name"`
			} `json:"properties"`
		} `json:"crs"`
		Features []struct {
			Geometry struct {
				Type        string        `json:"type"`
				Coordinates [][][]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "FeatureCollection", doc.Type)
	assert.Equal(t, "predictions", doc.Name)
	assert.Equal(t, "urn:ogc:def:crs:EPSG::32610", doc.CRS.Properties.Name)
	require.Len(t, doc.Features, 2)
	assert.Equal(t, "Polygon", doc.Features[0].Geometry.Type)
	assert.Len(t, doc.Features[0].Geometry.Coordinates[0], 5)
	assert.Equal(t, 0.9, doc.Features[0].Properties["score"])
	assert.Equal(t, "Tree", doc.Features[0].Properties["label"])
}

func TestGeoJSONOmitsCRSForPixelLayers(t *testing.T) {
	layer := testLayer()
	layer.Projected = false
	layer.CRS = raster.CRS{}

	data, err := encodeGeoJSON(context.Background(), layer)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.NotContains(t, doc, "crs")
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, Write(context.Background(), path, testLayer()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, append([]string{"geometry"}, attributeColumns...), records[0])
	assert.Contains(t, records[1][0], "POLYGON")
	assert.Equal(t, "500005", records[1][1])
	assert.Equal(t, "0.9", records[1][5])
}

func TestGeoPackageGeometryHeader(t *testing.T) {
	blob, err := gpkgGeometry(rect(1, 2, 3, 4, 32610), 32610)
	require.NoError(t, err)

	require.Greater(t, len(blob), 40)
	assert.Equal(t, []byte("GP"), blob[:2])
	assert.Equal(t, byte(0), blob[2], "version")
	assert.Equal(t, byte(0x03), blob[3], "little endian with xy envelope")
	assert.Equal(t, int32(32610), int32(binary.LittleEndian.Uint32(blob[4:8])))
	assert.Equal(t, byte(1), blob[40], "wkb is little endian")

	nilBlob, err := gpkgGeometry(nil, 0)
	require.NoError(t, err)
	assert.Nil(t, nilBlob)
}

func TestLayerSRS(t *testing.T) {
	pixel := &geo.Layer{}
	id, rows := layerSRS(pixel)
	assert.Equal(t, srsUndefinedCartesian, id)
	assert.Len(t, rows, 3)

	wgs := &geo.Layer{Projected: true, CRS: raster.CRS{EPSG: 4326, Geographic: true}}
	id, rows = layerSRS(wgs)
	assert.Equal(t, srsWGS84, id)
	assert.Len(t, rows, 3)

	utm := &geo.Layer{Projected: true, CRS: raster.CRS{EPSG: 32610}}
	id, rows = layerSRS(utm)
	assert.Equal(t, 32610, id)
	assert.Len(t, rows, 4)

	custom := &geo.Layer{Projected: true, CRS: raster.CRS{Citation: "local grid"}}
	id, _ = layerSRS(custom)
	assert.Equal(t, srsUndefinedCartesian, id)
}

func TestEmptyLayerWritesValidGeoPackage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gpkg")
	require.NoError(t, Write(context.Background(), path, &geo.Layer{Name: "predictions", Projected: true, CRS: raster.CRS{EPSG: 32610}}))

	var count int64
	require.NoError(t, openGeoPackage(t, path).Table("predictions").Count(&count).Error)
	assert.Zero(t, count)
}
