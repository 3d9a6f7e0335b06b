package geo

import (
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ofo-tools/treecrown/internal/detection"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/raster"
)

// DefaultLayerName names layers when none is configured.
const DefaultLayerName = "predictions"

const (
	georefCacheTTL     = 10 * time.Minute
	georefCacheCleanup = 20 * time.Minute
)

// Georeferencer maps detection tables onto vector layers. Raster metadata
// is cached per resolved path, so tables holding many rows of the same
// raster reopen it once.
type Georeferencer struct {
	layerName string
	cache     *cache.Cache
}

// NewGeoreferencer creates a georeferencer producing layers named layerName.
func NewGeoreferencer(layerName string) *Georeferencer {
	if layerName == "" {
		layerName = DefaultLayerName
	}
	return &Georeferencer{
		layerName: layerName,
		cache:     cache.New(georefCacheTTL, georefCacheCleanup),
	}
}

// BoxesToLayer converts every row of table into a rectangle polygon. Each
// row's ImagePath is resolved against rootDir (an empty rootDir leaves it
// relative to the working directory) and reopened to read its transform
// and CRS. With projected=false the polygons stay in pixel coordinates and
// no georeferencing is required. All rows must share one CRS, and the CRS
// of table.ImagePath when it is set.
func (g *Georeferencer) BoxesToLayer(table *detection.Table, rootDir string, projected bool) (*Layer, error) {
	layer := &Layer{Name: g.layerName, Projected: projected}
	if table == nil {
		return layer, nil
	}
	layer.Features = make([]Feature, 0, len(table.Detections))

	if !projected {
		for _, d := range table.Detections {
			layer.Features = append(layer.Features, pixelFeature(d))
		}
		return layer, nil
	}

	crsSource := ""
	if table.ImagePath != "" {
		// The source raster fixes the layer CRS even when nothing was detected.
		path := resolvePath(rootDir, table.ImagePath)
		ref, err := g.georef(path)
		if err != nil {
			return nil, err
		}
		layer.CRS = ref.CRS
		crsSource = path
	}
	for i, d := range table.Detections {
		if d.ImagePath == "" {
			return nil, errors.Newf("detection %d has no image path", i).
				Category(errors.CategoryGeoreference).
				Context("row", i).
				Build()
		}

		path := resolvePath(rootDir, d.ImagePath)
		ref, err := g.georef(path)
		if err != nil {
			return nil, err
		}

		if crsSource == "" {
			layer.CRS = ref.CRS
			crsSource = path
		} else if ref.CRS != layer.CRS {
			return nil, errors.Newf("rows reference rasters in different CRS: %s (%s) and %s (%s)",
				crsSource, layer.CRS, path, ref.CRS).
				Category(errors.CategoryGeoreference).
				Context("row", i).
				Build()
		}

		layer.Features = append(layer.Features, projectedFeature(d, ref))
	}

	GetLogger().Debug("detections georeferenced",
		logger.Int("features", len(layer.Features)),
		logger.String("crs", layer.CRS.String()))

	return layer, nil
}

// georef reads (or recalls) the transform and CRS of the raster at path.
func (g *Georeferencer) georef(path string) (raster.Georef, error) {
	if cached, found := g.cache.Get(path); found {
		return cached.(raster.Georef), nil
	}

	ds, err := raster.Open(path)
	if err != nil {
		return raster.Georef{}, errors.New(err).
			Category(errors.CategoryGeoreference).
			Context("path", path).
			Build()
	}
	ref, err := ds.Georef()
	if err != nil {
		return raster.Georef{}, err
	}

	g.cache.Set(path, ref, cache.DefaultExpiration)
	return ref, nil
}

func resolvePath(rootDir, imagePath string) string {
	if rootDir == "" || filepath.IsAbs(imagePath) {
		return imagePath
	}
	return filepath.Join(rootDir, imagePath)
}

func pixelFeature(d detection.Detection) Feature {
	return Feature{
		Polygon: boxPolygon([4][2]float64{
			{d.XMin, d.YMin},
			{d.XMax, d.YMin},
			{d.XMax, d.YMax},
			{d.XMin, d.YMax},
		}, 0),
		XMin:      d.XMin,
		YMin:      d.YMin,
		XMax:      d.XMax,
		YMax:      d.YMax,
		Score:     d.Score,
		Label:     d.Label,
		ImagePath: d.ImagePath,
	}
}

func projectedFeature(d detection.Detection, ref raster.Georef) Feature {
	var corners [4][2]float64
	for i, p := range [4][2]float64{
		{d.XMin, d.YMin},
		{d.XMax, d.YMin},
		{d.XMax, d.YMax},
		{d.XMin, d.YMax},
	} {
		corners[i][0], corners[i][1] = ref.PixelToWorld(p[0], p[1])
	}

	poly := boxPolygon(corners, ref.CRS.EPSG)
	b := poly.Bounds()
	return Feature{
		Polygon:   poly,
		XMin:      b.Min(0),
		YMin:      b.Min(1),
		XMax:      b.Max(0),
		YMax:      b.Max(1),
		Score:     d.Score,
		Label:     d.Label,
		ImagePath: d.ImagePath,
	}
}
