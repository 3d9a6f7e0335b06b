package vector

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/ofo-tools/treecrown/internal/geo"
)

// csvDriver writes one row per feature with the geometry as WKT in the
// leading "geometry" column, the layout GDAL's CSV driver reads back.
type csvDriver struct{}

func (csvDriver) write(ctx context.Context, path string, layer *geo.Layer) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(file)
	if err := w.Write(append([]string{"geometry"}, attributeColumns...)); err != nil {
		return err
	}

	for i, f := range layer.Features {
		if i%1000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		geometry := ""
		if f.Polygon != nil {
			if geometry, err = wkt.Marshal(f.Polygon); err != nil {
				return err
			}
		}
		record := []string{
			geometry,
			formatFloat(f.XMin),
			formatFloat(f.YMin),
			formatFloat(f.XMax),
			formatFloat(f.YMax),
			strconv.FormatFloat(float64(f.Score), 'g', -1, 32),
			f.Label,
			f.ImagePath,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
