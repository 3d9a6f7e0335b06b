// Package detectortest provides deterministic detectors for tests.
package detectortest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ofo-tools/treecrown/internal/detector"
	"github.com/ofo-tools/treecrown/internal/raster"
)

// Fake returns canned boxes. With PredictFunc unset it reports one box per
// patch: a square of side Size centred in the patch, labelled "Tree".
type Fake struct {
	Size        float64
	Score       float32
	PredictFunc func(ctx context.Context, patch *raster.Image) ([]detector.Box, error)

	calls  atomic.Int64
	closed atomic.Bool
	mu     sync.Mutex
	shapes [][2]int
}

// NewFake returns a Fake that reports one centred box of side size.
func NewFake(size float64, score float32) *Fake {
	return &Fake{Size: size, Score: score}
}

// Predict implements detector.Detector.
func (f *Fake) Predict(ctx context.Context, patch *raster.Image) ([]detector.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.closed.Load() {
		return nil, fmt.Errorf("fake detector is closed")
	}
	f.calls.Add(1)

	f.mu.Lock()
	f.shapes = append(f.shapes, [2]int{patch.Width, patch.Height})
	f.mu.Unlock()

	if f.PredictFunc != nil {
		return f.PredictFunc(ctx, patch)
	}

	side := min(f.Size, float64(patch.Width), float64(patch.Height))
	cx, cy := float64(patch.Width)/2, float64(patch.Height)/2
	return []detector.Box{{
		XMin:  cx - side/2,
		YMin:  cy - side/2,
		XMax:  cx + side/2,
		YMax:  cy + side/2,
		Score: f.Score,
		Label: "Tree",
	}}, nil
}

// Name implements detector.Detector.
func (f *Fake) Name() string { return "fake" }

// Close implements detector.Detector.
func (f *Fake) Close() error {
	f.closed.Store(true)
	return nil
}

// Calls returns the number of Predict calls.
func (f *Fake) Calls() int { return int(f.calls.Load()) }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed.Load() }

// PatchShapes returns the (width, height) of every patch seen.
func (f *Fake) PatchShapes() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int(nil), f.shapes...)
}
