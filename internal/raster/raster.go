// Package raster opens GeoTIFF orthomosaics, reads their georeferencing
// metadata and loads the first three bands as an 8-bit RGB image.
package raster

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
)

// MinBands is the minimum band count accepted by ReadRGB.
const MinBands = 3

// Georef is the georeferencing of a raster: a GDAL-ordered affine
// transform (originX, pixelW, rowRot, originY, colRot, pixelH) and a CRS.
type Georef struct {
	Transform [6]float64
	CRS       CRS
}

// PixelToWorld maps pixel coordinates (col, row) to model coordinates.
func (g Georef) PixelToWorld(col, row float64) (x, y float64) {
	t := g.Transform
	return t[0] + col*t[1] + row*t[2], t[3] + col*t[4] + row*t[5]
}

// Dataset is an opened raster with its metadata. Pixels are only read by
// ReadRGB.
type Dataset struct {
	Path          string
	Width         int
	Height        int
	Bands         int
	BitsPerSample int
	BigTIFF       bool
	CRS           CRS
	Transform     [6]float64
	HasTransform  bool
	NoData        *float64

	size   int64
	layout *layout
	order  binary.ByteOrder
}

// Open reads the TIFF header and GeoTIFF tags of path.
func Open(path string) (*Dataset, error) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("cannot access raster %s: %w", path, err)).
			Component("raster").
			Category(errors.CategoryInputAccess).
			FileContext(path, 0).
			Build()
	}
	if info.IsDir() {
		return nil, errors.Newf("raster path %s is a directory", path).
			Component("raster").
			Category(errors.CategoryInputAccess).
			Build()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("cannot open raster %s: %w", path, err)).
			Component("raster").
			Category(errors.CategoryInputAccess).
			FileContext(path, info.Size()).
			Build()
	}
	defer f.Close()

	d, err := readIFD(f)
	if err != nil {
		return nil, formatError(path, info.Size(), err)
	}

	l, err := readLayout(d)
	if err != nil {
		return nil, formatError(path, info.Size(), err)
	}

	keys, err := parseGeoKeys(d)
	if err != nil {
		return nil, formatError(path, info.Size(), err)
	}
	gt, hasTransform, err := geoTransform(d, keys)
	if err != nil {
		return nil, formatError(path, info.Size(), err)
	}

	ds := &Dataset{
		Path:          path,
		Width:         l.width,
		Height:        l.height,
		Bands:         l.samples,
		BitsPerSample: l.bitsPerSample,
		BigTIFF:       d.bigTIFF,
		CRS:           keys.crs(),
		Transform:     gt,
		HasTransform:  hasTransform,
		NoData:        parseNoData(d.ascii(tagGDALNoData)),
		size:          info.Size(),
		layout:        l,
		order:         d.order,
	}

	GetLogger().Debug("raster opened",
		logger.String("path", path),
		logger.Int("width", ds.Width),
		logger.Int("height", ds.Height),
		logger.Int("bands", ds.Bands),
		logger.Int("bits_per_sample", ds.BitsPerSample),
		logger.String("crs", ds.CRS.String()),
		logger.Bool("has_transform", ds.HasTransform),
		logger.Duration("elapsed", time.Since(start)))

	return ds, nil
}

// ReadRGB reads bands 1-3 into an HWC image. Rasters with fewer than three
// bands are rejected before any pixel is read. Extra bands are ignored and
// band meaning is not verified.
func (ds *Dataset) ReadRGB() (*Image, error) {
	if ds.Bands < MinBands {
		return nil, errors.Newf("raster %s has %d band(s), at least %d required", ds.Path, ds.Bands, MinBands).
			Component("raster").
			Category(errors.CategoryBandCount).
			Context("bands", ds.Bands).
			Build()
	}
	if ds.Bands > MinBands {
		GetLogger().Debug("ignoring extra bands",
			logger.String("path", ds.Path),
			logger.Int("bands", ds.Bands),
			logger.Int("kept", MinBands))
	}

	start := time.Now()
	f, err := os.Open(ds.Path)
	if err != nil {
		return nil, errors.New(fmt.Errorf("cannot open raster %s: %w", ds.Path, err)).
			Component("raster").
			Category(errors.CategoryInputAccess).
			Build()
	}
	defer f.Close()

	var (
		img     *Image
		decoder string
	)
	if ds.layout.stdlibSupported(ds.BigTIFF) {
		decoder = "x/image/tiff"
		img, err = decodeStd(f, ds.size)
	} else {
		decoder = "native"
		img, err = decodeNative(f, ds.layout, ds.order)
	}
	if err != nil {
		return nil, formatError(ds.Path, ds.size, fmt.Errorf("decoding pixels: %w", err))
	}

	GetLogger().Debug("raster pixels decoded",
		logger.String("path", ds.Path),
		logger.String("decoder", decoder),
		logger.Duration("elapsed", time.Since(start)))

	return img, nil
}

// Georef returns the raster's transform and CRS. It fails when either is
// missing, since boxes cannot be placed on the map without both.
func (ds *Dataset) Georef() (Georef, error) {
	if !ds.HasTransform || ds.CRS.IsZero() {
		return Georef{}, errors.Newf("raster %s lacks georeferencing (transform: %t, crs: %s)",
			ds.Path, ds.HasTransform, ds.CRS).
			Component("raster").
			Category(errors.CategoryGeoreference).
			Build()
	}
	return Georef{Transform: ds.Transform, CRS: ds.CRS}, nil
}

// Load opens path and reads its RGB image.
func Load(path string) (*Image, error) {
	ds, err := Open(path)
	if err != nil {
		return nil, err
	}
	return ds.ReadRGB()
}

func formatError(path string, size int64, err error) error {
	return errors.New(fmt.Errorf("raster %s is not a readable GeoTIFF: %w", path, err)).
		Component("raster").
		Category(errors.CategoryFormat).
		FileContext(path, size).
		Build()
}

func parseNoData(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
