package analysis

import (
	"context"
	"time"

	"github.com/ofo-tools/treecrown/internal/detection"
	"github.com/ofo-tools/treecrown/internal/detector"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/observability/metrics"
	"github.com/ofo-tools/treecrown/internal/raster"
	"github.com/ofo-tools/treecrown/internal/tiling"
)

// Defaults of the tiled prediction.
const (
	DefaultPatchOverlap   = 0.3
	DefaultScoreThreshold = 0.1
	DefaultIoUThreshold   = 0.15
)

// PredictOptions tunes PredictTile.
type PredictOptions struct {
	ScoreThreshold float64
	IoUThreshold   float64

	// Progress is called after every tile with the number of finished tiles.
	Progress func(done, total int)

	// Recorder receives per-tile metrics, nil disables them.
	Recorder metrics.Recorder
}

// DefaultPredictOptions returns the thresholds used by the pretrained
// tree-crown model.
func DefaultPredictOptions() PredictOptions {
	return PredictOptions{
		ScoreThreshold: DefaultScoreThreshold,
		IoUThreshold:   DefaultIoUThreshold,
	}
}

// PredictTile slides a patchSize window with the given overlap across img,
// runs det on every window and merges the results into one table in
// full-image pixel coordinates. Boxes under the score threshold are dropped
// and overlapping boxes from neighbouring windows are merged by per-label
// non-max suppression.
func PredictTile(ctx context.Context, det detector.Detector, img *raster.Image, patchSize int, overlap float64, opts PredictOptions) (*DetectionTable, error) {
	start := time.Now()
	log := GetLogger().WithContext(ctx)

	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, errors.Newf("cannot predict on an empty image").
			Category(errors.CategoryInference).
			Build()
	}

	windows, err := tiling.Windows(img.Width, img.Height, patchSize, overlap)
	if err != nil {
		return nil, err
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NewNoOpRecorder()
	}

	log.Debug("starting tiled prediction",
		logger.Int("width", img.Width),
		logger.Int("height", img.Height),
		logger.Int("patch_size", patchSize),
		logger.Float64("overlap", overlap),
		logger.Int("tiles", len(windows)),
		logger.String("detector", det.Name()))

	var candidates []Detection
	for i, win := range windows {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryCancellation).
				Context("tiles_done", i).
				Context("tiles_total", len(windows)).
				Build()
		}

		boxes, err := predictWindow(ctx, det, img, win, recorder)
		if err != nil {
			return nil, err
		}

		for _, b := range boxes {
			d := clipToImage(detection.FromBox(b, float64(win.X), float64(win.Y)), img.Width, img.Height)
			if float64(d.Score) < opts.ScoreThreshold || d.Area() <= 0 {
				continue
			}
			candidates = append(candidates, d)
		}

		if opts.Progress != nil {
			opts.Progress(i+1, len(windows))
		}
	}

	kept := nms(candidates, opts.IoUThreshold)

	table := &DetectionTable{
		Detections:  kept,
		ImageWidth:  img.Width,
		ImageHeight: img.Height,
		PatchSize:   patchSize,
		Overlap:     overlap,
		Tiles:       len(windows),
		Detector:    det.Name(),
		Duration:    time.Since(start),
	}

	log.Info("tiled prediction completed",
		logger.Int("tiles", len(windows)),
		logger.Int("candidates", len(candidates)),
		logger.Int("detections", len(kept)),
		logger.Duration("duration", table.Duration))

	return table, nil
}

func predictWindow(ctx context.Context, det detector.Detector, img *raster.Image, win tiling.Window, recorder metrics.Recorder) ([]detector.Box, error) {
	tileStart := time.Now()

	patch, err := img.Crop(win.X, win.Y, win.Width, win.Height)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryInference).
			Context("window", win.String()).
			Build()
	}

	boxes, err := det.Predict(ctx, patch)
	if err != nil {
		recorder.RecordOperation("tile", metrics.StatusError)
		if ctx.Err() != nil {
			return nil, errors.New(err).
				Category(errors.CategoryCancellation).
				Context("window", win.String()).
				Build()
		}
		recorder.RecordError("tile", string(errors.CategoryInference))
		return nil, errors.New(err).
			Category(errors.CategoryInference).
			Context("window", win.String()).
			Context("detector", det.Name()).
			Build()
	}

	recorder.RecordOperation("tile", metrics.StatusSuccess)
	recorder.RecordDuration("tile", time.Since(tileStart).Seconds())
	return boxes, nil
}

func clipToImage(d Detection, width, height int) Detection {
	d.XMin = max(0, min(d.XMin, float64(width)))
	d.XMax = max(0, min(d.XMax, float64(width)))
	d.YMin = max(0, min(d.YMin, float64(height)))
	d.YMax = max(0, min(d.YMax, float64(height)))
	return d
}
