// Package preview renders detection boxes on top of the analysed image.
package preview

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/up-zero/gotool/imageutil"

	"github.com/ofo-tools/treecrown/internal/detection"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/raster"
)

// palette cycles through colours per label, in sorted label order.
var palette = []color.Color{
	color.RGBA{R: 255, G: 0, B: 0, A: 255},
	color.RGBA{R: 255, G: 215, B: 0, A: 255},
	color.RGBA{R: 0, G: 191, B: 255, A: 255},
	color.RGBA{R: 255, G: 0, B: 255, A: 255},
	color.RGBA{R: 255, G: 255, B: 255, A: 255},
}

// Render draws every detection of table onto a copy of img.
func Render(img *raster.Image, table *detection.Table) *image.RGBA {
	canvas := img.ToRGBA()
	if table == nil {
		return canvas
	}

	colors := make(map[string]color.Color)
	for i, label := range table.Labels() {
		colors[label] = palette[i%len(palette)]
	}

	thickness := lineThickness(canvas.Bounds())
	for _, d := range table.Detections {
		rect := image.Rect(int(d.XMin), int(d.YMin), int(d.XMax), int(d.YMax)).Intersect(canvas.Bounds())
		if rect.Empty() {
			continue
		}
		imageutil.DrawThickRectOutline(canvas, rect, colors[d.Label], thickness)
	}
	return canvas
}

// Write renders the preview and stores it as a PNG at path, creating
// parent directories as needed.
func Write(path string, img *raster.Image, table *detection.Table) error {
	if img == nil {
		return errors.Newf("no image to render").
			Category(errors.CategoryOutputWrite).
			Context("path", path).
			Build()
	}

	canvas := Render(img, table)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return outputError(err, "create_directory", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return outputError(err, "create_temp", path)
	}
	if err := png.Encode(tmp, canvas); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return outputError(err, "encode_png", path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return outputError(err, "close", path)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return outputError(err, "rename", path)
	}

	GetLogger().Info("preview written",
		logger.String("path", path),
		logger.Int("boxes", table.Len()))
	return nil
}

// lineThickness keeps outlines visible on large orthomosaics.
func lineThickness(b image.Rectangle) int {
	side := min(b.Dx(), b.Dy())
	return max(1, side/500)
}

func outputError(err error, operation, path string) error {
	return errors.New(err).
		Category(errors.CategoryOutputWrite).
		Context("operation", operation).
		Context("path", path).
		Build()
}
