// Package geo converts pixel-space detections into a georeferenced vector
// layer using the source raster's affine transform and CRS.
package geo

import (
	"github.com/twpayne/go-geom"

	"github.com/ofo-tools/treecrown/internal/raster"
)

// Feature is one detection polygon with the attributes carried over from
// the detection record. In projected mode XMin..YMax hold the polygon's
// map-coordinate envelope, otherwise the original pixel coordinates.
type Feature struct {
	Polygon   *geom.Polygon
	XMin      float64
	YMin      float64
	XMax      float64
	YMax      float64
	Score     float32
	Label     string
	ImagePath string
}

// Layer is a named collection of polygon features in one CRS.
type Layer struct {
	Name      string
	CRS       raster.CRS // zero for pixel-space layers
	Projected bool
	Features  []Feature
}

// EPSG returns the layer's EPSG code, 0 when unknown or unprojected.
func (l *Layer) EPSG() int {
	return l.CRS.EPSG
}

// Len returns the number of features.
func (l *Layer) Len() int {
	return len(l.Features)
}

// Bounds returns the envelope of all feature geometries. An empty layer
// yields empty bounds.
func (l *Layer) Bounds() *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	for _, f := range l.Features {
		if f.Polygon != nil {
			b.Extend(f.Polygon)
		}
	}
	return b
}

// boxPolygon builds the closed ring of a rectangle from its four corners,
// listed clockwise from the upper-left pixel corner.
func boxPolygon(corners [4][2]float64, srid int) *geom.Polygon {
	ring := make([]geom.Coord, 0, 5)
	for _, c := range corners {
		ring = append(ring, geom.Coord{c[0], c[1]})
	}
	ring = append(ring, geom.Coord{corners[0][0], corners[0][1]})
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{ring}).SetSRID(srid)
}
