// Package detection holds the detection records produced by tiled
// prediction and consumed by georeferencing.
package detection

import (
	"maps"
	"slices"
	"time"

	"github.com/ofo-tools/treecrown/internal/detector"
)

// Detection is one predicted crown in full-image pixel coordinates.
type Detection struct {
	XMin      float64
	YMin      float64
	XMax      float64
	YMax      float64
	Score     float32
	Label     string
	ImagePath string
}

// FromBox converts a patch-space box into a detection shifted by (dx, dy).
func FromBox(b detector.Box, dx, dy float64) Detection {
	return Detection{
		XMin:  b.XMin + dx,
		YMin:  b.YMin + dy,
		XMax:  b.XMax + dx,
		YMax:  b.YMax + dy,
		Score: b.Score,
		Label: b.Label,
	}
}

// Area of the box, zero for degenerate boxes.
func (d Detection) Area() float64 {
	if d.XMax <= d.XMin || d.YMax <= d.YMin {
		return 0
	}
	return (d.XMax - d.XMin) * (d.YMax - d.YMin)
}

// Table is the ordered result of one tiled prediction.
type Table struct {
	Detections []Detection

	// ImagePath is the raster the table was predicted from. It lets an
	// empty table still be georeferenced.
	ImagePath string

	ImageWidth  int
	ImageHeight int
	PatchSize   int
	Overlap     float64
	Tiles       int
	Detector    string
	Duration    time.Duration
}

// Len returns the number of detections.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Detections)
}

// TagImagePath records the source raster path on every row. Georeferencing
// reopens the raster through this path, so it must be called after every
// prediction.
func (t *Table) TagImagePath(path string) {
	t.ImagePath = path
	for i := range t.Detections {
		t.Detections[i].ImagePath = path
	}
}

// LabelCounts returns the number of detections per label.
func (t *Table) LabelCounts() map[string]int {
	counts := make(map[string]int)
	for _, d := range t.Detections {
		counts[d.Label]++
	}
	return counts
}

// Labels returns the distinct labels in sorted order.
func (t *Table) Labels() []string {
	return slices.Sorted(maps.Keys(t.LabelCounts()))
}
