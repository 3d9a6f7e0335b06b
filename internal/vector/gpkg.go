package vector

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/geo"
	"github.com/ofo-tools/treecrown/internal/logger"
)

// GeoPackage 1.3 file identification.
const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300
)

const (
	gpkgGeometryColumn = "geom"
	gpkgInsertBatch    = 500
	gpkgSlowStatement  = 2 * time.Second
)

// Reserved spatial reference systems every GeoPackage must define.
const (
	srsUndefinedCartesian  = -1
	srsUndefinedGeographic = 0
	srsWGS84               = 4326
)

const wgs84Definition = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,` +
	`AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],` +
	`UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

var gpkgSchema = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
}

type spatialRefSys struct {
	SrsName                string  `gorm:"column:srs_name"`
	SrsID                  int     `gorm:"column:srs_id"`
	Organization           string  `gorm:"column:organization"`
	OrganizationCoordsysID int     `gorm:"column:organization_coordsys_id"`
	Definition             string  `gorm:"column:definition"`
	Description            *string `gorm:"column:description"`
}

func (spatialRefSys) TableName() string { return "gpkg_spatial_ref_sys" }

type contents struct {
	Table       string   `gorm:"column:table_name"`
	DataType    string   `gorm:"column:data_type"`
	Identifier  string   `gorm:"column:identifier"`
	Description string   `gorm:"column:description"`
	LastChange  string   `gorm:"column:last_change"`
	MinX        *float64 `gorm:"column:min_x"`
	MinY        *float64 `gorm:"column:min_y"`
	MaxX        *float64 `gorm:"column:max_x"`
	MaxY        *float64 `gorm:"column:max_y"`
	SrsID       int      `gorm:"column:srs_id"`
}

func (contents) TableName() string { return "gpkg_contents" }

type geometryColumn struct {
	Table            string `gorm:"column:table_name"`
	ColumnName       string `gorm:"column:column_name"`
	GeometryTypeName string `gorm:"column:geometry_type_name"`
	SrsID            int    `gorm:"column:srs_id"`
	Z                int    `gorm:"column:z"`
	M                int    `gorm:"column:m"`
}

func (geometryColumn) TableName() string { return "gpkg_geometry_columns" }

// featureRow is one row of the feature table; fid is assigned by SQLite.
type featureRow struct {
	Geom      []byte  `gorm:"column:geom"`
	XMin      float64 `gorm:"column:xmin"`
	YMin      float64 `gorm:"column:ymin"`
	XMax      float64 `gorm:"column:xmax"`
	YMax      float64 `gorm:"column:ymax"`
	Score     float64 `gorm:"column:score"`
	Label     string  `gorm:"column:label"`
	ImagePath string  `gorm:"column:image_path"`
}

type gpkgDriver struct{}

func (gpkgDriver) write(ctx context.Context, path string, layer *geo.Layer) (err error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 logger.NewGormLoggerAdapter(GetLogger(), gpkgSlowStatement),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryOutputWrite).
			Context("operation", "open_geopackage").
			Build()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryOutputWrite).
			Context("operation", "get_sql_db").
			Build()
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	db = db.WithContext(ctx)
	pragmas := []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
		"PRAGMA journal_mode = DELETE",
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return err
		}
	}

	srsID, srs := layerSRS(layer)
	table := layerTableName(layer.Name)

	return db.Transaction(func(tx *gorm.DB) error {
		for _, ddl := range gpkgSchema {
			if err := tx.Exec(ddl).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(srs).Error; err != nil {
			return err
		}

		if err := tx.Exec(featureTableDDL(table)).Error; err != nil {
			return err
		}

		c := contents{
			Table:      table,
			DataType:   "features",
			Identifier: table,
			LastChange: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			SrsID:      srsID,
		}
		if b := layer.Bounds(); !b.IsEmpty() {
			minX, minY, maxX, maxY := b.Min(0), b.Min(1), b.Max(0), b.Max(1)
			c.MinX, c.MinY, c.MaxX, c.MaxY = &minX, &minY, &maxX, &maxY
		}
		if err := tx.Create(&c).Error; err != nil {
			return err
		}
		if err := tx.Create(&geometryColumn{
			Table:            table,
			ColumnName:       gpkgGeometryColumn,
			GeometryTypeName: "POLYGON",
			SrsID:            srsID,
		}).Error; err != nil {
			return err
		}

		rows := make([]featureRow, 0, len(layer.Features))
		for i, f := range layer.Features {
			blob, err := gpkgGeometry(f.Polygon, srsID)
			if err != nil {
				return errors.New(err).
					Category(errors.CategoryOutputWrite).
					Context("operation", "encode_geometry").
					Context("feature", i).
					Build()
			}
			rows = append(rows, featureRow{
				Geom:      blob,
				XMin:      f.XMin,
				YMin:      f.YMin,
				XMax:      f.XMax,
				YMax:      f.YMax,
				Score:     scoreValue(f.Score),
				Label:     f.Label,
				ImagePath: f.ImagePath,
			})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Table(table).CreateInBatches(&rows, gpkgInsertBatch).Error
	})
}

// layerSRS returns the srs_id features are stored under and the
// gpkg_spatial_ref_sys rows to insert.
func layerSRS(layer *geo.Layer) (int, []spatialRefSys) {
	undefined := "undefined"
	rows := []spatialRefSys{
		{SrsName: "Undefined cartesian SRS", SrsID: srsUndefinedCartesian, Organization: "NONE",
			OrganizationCoordsysID: srsUndefinedCartesian, Definition: undefined},
		{SrsName: "Undefined geographic SRS", SrsID: srsUndefinedGeographic, Organization: "NONE",
			OrganizationCoordsysID: srsUndefinedGeographic, Definition: undefined},
		{SrsName: "WGS 84 geodetic", SrsID: srsWGS84, Organization: "EPSG",
			OrganizationCoordsysID: srsWGS84, Definition: wgs84Definition},
	}

	epsg := layer.EPSG()
	switch {
	case !layer.Projected:
		return srsUndefinedCartesian, rows
	case epsg == srsWGS84:
		return srsWGS84, rows
	case epsg > 0:
		// Readers resolve the definition from the EPSG registry.
		name := layer.CRS.Citation
		if name == "" {
			name = layer.CRS.String()
		}
		return epsg, append(rows, spatialRefSys{
			SrsName:                name,
			SrsID:                  epsg,
			Organization:           "EPSG",
			OrganizationCoordsysID: epsg,
			Definition:             undefined,
		})
	default:
		GetLogger().Warn("layer CRS has no EPSG code, storing as undefined cartesian",
			logger.String("crs", layer.CRS.String()))
		return srsUndefinedCartesian, rows
	}
}

func featureTableDDL(table string) string {
	cols := []string{
		"fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL",
		gpkgGeometryColumn + " POLYGON",
		"xmin DOUBLE",
		"ymin DOUBLE",
		"xmax DOUBLE",
		"ymax DOUBLE",
		"score DOUBLE",
		"label TEXT",
		"image_path TEXT",
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

// layerTableName maps a layer name onto a usable table name.
func layerTableName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return geo.DefaultLayerName
	}
	return name
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// gpkgGeometry encodes p as a GeoPackage geometry blob: the "GP" header
// with an XY envelope followed by little-endian WKB.
func gpkgGeometry(p *geom.Polygon, srsID int) ([]byte, error) {
	if p == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	buf.WriteString("GP")
	buf.WriteByte(0) // version 1

	if p.Empty() {
		buf.WriteByte(0x01 | 0x10) // little endian, empty, no envelope
		_ = binary.Write(&buf, binary.LittleEndian, int32(srsID))
	} else {
		b := p.Bounds()
		buf.WriteByte(0x01 | 0x02) // little endian, envelope [minx, maxx, miny, maxy]
		_ = binary.Write(&buf, binary.LittleEndian, int32(srsID))
		_ = binary.Write(&buf, binary.LittleEndian, []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)})
	}

	body, err := wkb.Marshal(p, binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	buf.Write(body)
	return buf.Bytes(), nil
}
