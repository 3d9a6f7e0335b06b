package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/ofo-tools/treecrown/internal/geo"
)

type geojsonDriver struct{}

func (geojsonDriver) write(ctx context.Context, path string, layer *geo.Layer) error {
	data, err := encodeGeoJSON(ctx, layer)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// encodeGeoJSON renders layer as a FeatureCollection carrying the layer name
// and, for EPSG layers, a named crs member.
func encodeGeoJSON(ctx context.Context, layer *geo.Layer) ([]byte, error) {
	fc := geojson.FeatureCollection{
		Features: make([]*geojson.Feature, 0, len(layer.Features)),
	}
	for i, f := range layer.Features {
		if i%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var g geom.T
		if f.Polygon != nil {
			g = f.Polygon
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   g,
			Properties: featureProperties(f),
		})
	}

	body, err := json.Marshal(&fc)
	if err != nil {
		return nil, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	name, err := json.Marshal(layer.Name)
	if err != nil {
		return nil, err
	}
	doc["name"] = name
	if epsg := layer.EPSG(); layer.Projected && epsg > 0 {
		crs, err := json.Marshal(map[string]any{
			"type": "name",
			"properties": map[string]string{
				"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", epsg),
			},
		})
		if err != nil {
			return nil, err
		}
		doc["crs"] = crs
	}
	return json.Marshal(doc)
}

func featureProperties(f geo.Feature) map[string]any {
	return map[string]any{
		"xmin":       f.XMin,
		"ymin":       f.YMin,
		"xmax":       f.XMax,
		"ymax":       f.YMax,
		"score":      scoreValue(f.Score),
		"label":      f.Label,
		"image_path": f.ImagePath,
	}
}
