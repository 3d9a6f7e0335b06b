// Package tiling computes overlapping square windows that cover an image.
package tiling

import (
	"fmt"

	"github.com/ofo-tools/treecrown/internal/errors"
)

// Window is a rectangular region of the image in pixel coordinates.
type Window struct {
	X, Y          int
	Width, Height int
}

// String renders the window as "WxH+X+Y".
func (w Window) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", w.Width, w.Height, w.X, w.Y)
}

// Offsets returns the window start positions along one axis of length
// dim. The window side is min(patch, dim), the stride is
// int(side*(1-overlap)) and the last window is flush with the far edge.
func Offsets(dim, patch int, overlap float64) ([]int, error) {
	if patch <= 0 {
		return nil, errors.Newf("patch size must be positive, got %d", patch).
			Component("tiling").
			Category(errors.CategoryInference).
			Context("patch_size", patch).
			Build()
	}
	if overlap < 0 || overlap >= 1 {
		return nil, errors.Newf("patch overlap must be in [0, 1), got %g", overlap).
			Component("tiling").
			Category(errors.CategoryInference).
			Context("patch_overlap", overlap).
			Build()
	}
	if dim <= 0 {
		return nil, errors.Newf("image dimension must be positive, got %d", dim).
			Component("tiling").
			Category(errors.CategoryInference).
			Build()
	}

	side := min(patch, dim)
	step := max(int(float64(side)*(1-overlap)), 1)
	last := dim - side

	offsets := make([]int, 0, last/step+2)
	for off := 0; off <= last; off += step {
		offsets = append(offsets, off)
	}
	if offsets[len(offsets)-1] != last {
		offsets = append(offsets, last)
	}
	return offsets, nil
}

// Windows returns the row-major windows covering a width x height image.
func Windows(width, height, patch int, overlap float64) ([]Window, error) {
	xs, err := Offsets(width, patch, overlap)
	if err != nil {
		return nil, err
	}
	ys, err := Offsets(height, patch, overlap)
	if err != nil {
		return nil, err
	}

	w, h := min(patch, width), min(patch, height)
	windows := make([]Window, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			windows = append(windows, Window{X: x, Y: y, Width: w, Height: h})
		}
	}
	return windows, nil
}
