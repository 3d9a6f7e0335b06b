package analysis

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/cpuspec"
	"github.com/ofo-tools/treecrown/internal/detector"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/geo"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/notification"
	"github.com/ofo-tools/treecrown/internal/observability"
	"github.com/ofo-tools/treecrown/internal/vector"
)

// DetectorFactory builds one detector per batch worker.
type DetectorFactory func() (detector.Detector, error)

// BatchRequest processes every matching raster of InputDir into OutputDir.
type BatchRequest struct {
	InputDir  string
	PatchSize int
	OutputDir string
	Extension string   // output extension, e.g. ".gpkg"
	Globs     []string // input patterns relative to InputDir
	Workers   int      // 0 uses the logical core count
}

// BatchResult lists the completed runs in input order.
type BatchResult struct {
	Results  []*Result
	Duration time.Duration
}

// Detections returns the total number of detections.
func (b *BatchResult) Detections() int {
	total := 0
	for _, r := range b.Results {
		total += r.Detections
	}
	return total
}

// BatchInputs returns the sorted, de-duplicated rasters of dir matching globs.
func BatchInputs(dir string, globs []string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryInputAccess).
			Context("directory", dir).
			Build()
	}
	if !info.IsDir() {
		return nil, errors.Newf("%s is not a directory", dir).
			Category(errors.CategoryArgument).
			Context("directory", dir).
			Build()
	}

	var inputs []string
	for _, pattern := range globs {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("pattern", pattern).
				Build()
		}
		inputs = append(inputs, matches...)
	}
	slices.Sort(inputs)
	return slices.Compact(inputs), nil
}

// BatchOutputPath maps an input raster to its output file in outDir.
func BatchOutputPath(input, outDir, ext string) string {
	base := filepath.Base(input)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outDir, stem+ext)
}

// checkOutputCollisions rejects inputs that differ only in extension, such
// as a.tif and a.tiff, since they would write the same output file.
func checkOutputCollisions(inputs []string, outDir, ext string) error {
	seen := make(map[string]string, len(inputs))
	for _, input := range inputs {
		out := BatchOutputPath(input, outDir, ext)
		if prev, ok := seen[out]; ok {
			return errors.Newf("inputs %s and %s both map to output %s", prev, input, out).
				Category(errors.CategoryArgument).
				Context("output", out).
				Build()
		}
		seen[out] = input
	}
	return nil
}

// RunBatch runs the pipeline for every input with a bounded worker pool.
// Each worker owns a detector built by newDetector; the first failure
// cancels the remaining runs and is returned.
func RunBatch(ctx context.Context, settings *conf.Settings, req BatchRequest, newDetector DetectorFactory, opts ...Option) (*BatchResult, error) {
	start := time.Now()
	log := GetLogger().WithContext(ctx)

	ext := req.Extension
	if ext == "" {
		ext = settings.Batch.Extension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if _, err := vector.FormatFor("out" + ext); err != nil {
		return nil, err
	}

	globs := req.Globs
	if len(globs) == 0 {
		globs = settings.Batch.InputGlobs
	}
	inputs, err := BatchInputs(req.InputDir, globs)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		log.Warn("no input rasters found",
			logger.String("directory", req.InputDir),
			logger.String("patterns", strings.Join(globs, ",")))
		return &BatchResult{Duration: time.Since(start)}, nil
	}

	if err := checkOutputCollisions(inputs, req.OutputDir, ext); err != nil {
		return nil, err
	}

	workers := req.Workers
	if workers <= 0 {
		workers = cpuspec.ThreadCount(settings.Batch.Workers)
	}
	workers = min(workers, len(inputs))

	pool, err := newDetectorPool(workers, newDetector)
	if err != nil {
		return nil, err
	}
	defer pool.close()

	// One georeferencer shares the metadata cache across workers.
	opts = append([]Option{WithGeoreferencer(geo.NewGeoreferencer(settings.Output.LayerName))}, opts...)

	log.Info("starting batch",
		logger.Int("inputs", len(inputs)),
		logger.Int("workers", workers),
		logger.Int("patch_size", req.PatchSize),
		logger.String("output_dir", req.OutputDir))

	results := make([]*Result, len(inputs))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, input := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			det := pool.acquire()
			defer pool.release(det)

			p := NewPipeline(settings, det, opts...)
			result, err := p.Run(gctx, Request{
				InputPath:  input,
				PatchSize:  req.PatchSize,
				OutputPath: BatchOutputPath(input, req.OutputDir, ext),
			})
			if err != nil {
				return err
			}
			results[i] = result

			n := int(done.Add(1))
			log.Info("batch progress",
				logger.Int("done", n),
				logger.Int("total", len(inputs)),
				logger.String("eta", EstimateTimeRemaining(start, n, len(inputs))))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !errors.IsCategory(err, errors.CategoryCancellation) {
			return nil, errors.New(err).
				Category(errors.CategoryCancellation).
				Context("done", int(done.Load())).
				Context("total", len(inputs)).
				Build()
		}
		return nil, err
	}

	batch := &BatchResult{Results: results, Duration: time.Since(start)}
	log.Info("batch completed",
		logger.Int("inputs", len(inputs)),
		logger.Int("detections", batch.Detections()),
		logger.String("elapsed", FormatDuration(batch.Duration)))
	return batch, nil
}

// detectorPool hands out one detector per concurrently running worker.
type detectorPool struct {
	all  []detector.Detector
	free chan detector.Detector
}

func newDetectorPool(size int, newDetector DetectorFactory) (*detectorPool, error) {
	pool := &detectorPool{free: make(chan detector.Detector, size)}
	for range size {
		det, err := newDetector()
		if err != nil {
			pool.close()
			return nil, err
		}
		pool.all = append(pool.all, det)
		pool.free <- det
	}
	return pool, nil
}

func (p *detectorPool) acquire() detector.Detector { return <-p.free }

func (p *detectorPool) release(det detector.Detector) { p.free <- det }

func (p *detectorPool) close() {
	for _, det := range p.all {
		closeDetector(det)
	}
}

// DirectoryAnalysis builds detectors from settings and processes a
// directory of rasters.
func DirectoryAnalysis(ctx context.Context, settings *conf.Settings, req BatchRequest) (*BatchResult, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	notifier, err := notification.New(&settings.Notification)
	if err != nil {
		return nil, err
	}

	newDetector := func() (detector.Detector, error) {
		return detector.New(&settings.Detector)
	}
	result, runErr := RunBatch(ctx, settings, req, newDetector, WithMetrics(m), WithNotifier(notifier))

	writeMetrics(m, settings.Metrics.Textfile)
	return result, runErr
}
