// Package vector writes georeferenced detection layers to disk. The output
// format is chosen from the file extension and every write replaces the
// destination atomically.
package vector

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/geo"
	"github.com/ofo-tools/treecrown/internal/logger"
)

// Output formats.
const (
	FormatGeoPackage = "GPKG"
	FormatGeoJSON    = "GeoJSON"
	FormatCSV        = "CSV"
)

// Attribute column names shared by all formats.
var attributeColumns = []string{"xmin", "ymin", "xmax", "ymax", "score", "label", "image_path"}

type driver interface {
	// write encodes layer into the file at path, which is created by the
	// caller and may be overwritten.
	write(ctx context.Context, path string, layer *geo.Layer) error
}

var drivers = map[string]driver{
	FormatGeoPackage: gpkgDriver{},
	FormatGeoJSON:    geojsonDriver{},
	FormatCSV:        csvDriver{},
}

var extensions = map[string]string{
	".gpkg":    FormatGeoPackage,
	".geojson": FormatGeoJSON,
	".json":    FormatGeoJSON,
	".csv":     FormatCSV,
}

// FormatFor returns the output format for path's extension.
func FormatFor(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := extensions[ext]; ok {
		return format, nil
	}
	return "", errors.Newf("unsupported vector file extension %q", ext).
		Category(errors.CategoryFormat).
		Context("path", path).
		Context("supported", strings.Join(SupportedExtensions(), ", ")).
		Build()
}

// SupportedExtensions lists the recognised output extensions.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Write stores layer at path. Missing parent directories are created.
// The layer is encoded into a temporary file next to path which is then
// renamed over the destination, so readers never observe a partial file
// and a failed write leaves any previous file untouched.
func Write(ctx context.Context, path string, layer *geo.Layer) error {
	start := time.Now()

	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	if layer == nil {
		return errors.Newf("nil layer").
			Category(errors.CategoryOutputWrite).
			Context("path", path).
			Build()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(err).
			Category(errors.CategoryOutputWrite).
			Context("operation", "create_directory").
			Context("directory", dir).
			Build()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return outputError(err, "create_temp", path)
	}
	tmpPath := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return outputError(err, "create_temp", path)
	}

	if err := drivers[format].write(ctx, tmpPath, layer); err != nil {
		removeTemp(tmpPath)
		if ctx.Err() != nil {
			return errors.New(err).
				Category(errors.CategoryCancellation).
				Context("path", path).
				Build()
		}
		if errors.IsCategory(err, errors.CategoryOutputWrite) {
			return err
		}
		return outputError(err, "encode", path)
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		removeTemp(tmpPath)
		return outputError(err, "chmod", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		removeTemp(tmpPath)
		return outputError(err, "rename", path)
	}

	GetLogger().Info("vector layer written",
		logger.String("path", path),
		logger.String("format", format),
		logger.String("layer", layer.Name),
		logger.Int("features", layer.Len()),
		logger.String("crs", layer.CRS.String()),
		logger.Duration("duration", time.Since(start)))

	return nil
}

func outputError(err error, operation, path string) error {
	return errors.New(err).
		Category(errors.CategoryOutputWrite).
		Context("operation", operation).
		Context("path", path).
		Build()
}

// removeTemp deletes a temporary output and any SQLite side files.
func removeTemp(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

// scoreValue widens a float32 score without exposing float32 rounding noise
// (0.8 stays 0.8 instead of 0.800000011920929).
func scoreValue(score float32) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(score), 'g', -1, 32), 64)
	return v
}
