package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/cpuspec"
	"github.com/ofo-tools/treecrown/internal/detector"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/geo"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/notification"
	"github.com/ofo-tools/treecrown/internal/observability"
	"github.com/ofo-tools/treecrown/internal/observability/metrics"
	"github.com/ofo-tools/treecrown/internal/preview"
	"github.com/ofo-tools/treecrown/internal/raster"
	"github.com/ofo-tools/treecrown/internal/vector"
)

// Stage names used in logs and metrics.
const (
	StageLoad         = "load"
	StagePredict      = "predict"
	StageGeoreference = "georeference"
	StageWrite        = "write"
	StagePreview      = "preview"
	StageRun          = "run"
)

// Request is one raster to process.
type Request struct {
	InputPath  string
	PatchSize  int
	OutputPath string
}

// Result describes a completed run.
type Result struct {
	RunID      string
	InputPath  string
	OutputPath string
	Detections int
	Labels     map[string]int
	Tiles      int
	Duration   time.Duration
}

// Pipeline runs load, predict, georeference and write for one raster at a
// time. A Pipeline owns no detector state of its own and is not safe for
// concurrent Run calls when its detector is not.
type Pipeline struct {
	settings *conf.Settings
	detector detector.Detector
	georef   *geo.Georeferencer
	metrics  *observability.Metrics
	notifier *notification.Notifier
	recorder metrics.Recorder
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics records stage results into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
		if m != nil {
			p.recorder = m.Pipeline
		}
	}
}

// WithNotifier sends a report after every run.
func WithNotifier(n *notification.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithGeoreferencer shares a georeferencer (and its metadata cache).
func WithGeoreferencer(g *geo.Georeferencer) Option {
	return func(p *Pipeline) { p.georef = g }
}

// NewPipeline creates a pipeline around det.
func NewPipeline(settings *conf.Settings, det detector.Detector, opts ...Option) *Pipeline {
	p := &Pipeline{
		settings: settings,
		detector: det,
		recorder: metrics.NewNoOpRecorder(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.georef == nil {
		p.georef = geo.NewGeoreferencer(settings.Output.LayerName)
	}
	return p
}

// Run processes req. The output file only appears once the whole layer
// has been assembled; any failure aborts the run without retries.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.NewString()
	ctx = logger.WithTraceID(ctx, runID)
	log := GetLogger().WithContext(ctx).With(
		logger.String("input", req.InputPath),
		logger.String("output", req.OutputPath))

	start := time.Now()
	result, err := p.run(ctx, req, log)
	elapsed := time.Since(start)

	p.recordStage(StageRun, elapsed, err)
	if p.metrics != nil {
		p.metrics.Pipeline.MarkRunCompleted()
	}

	report := &notification.Report{
		RunID:    runID,
		Input:    req.InputPath,
		Output:   req.OutputPath,
		Duration: elapsed,
		Err:      err,
	}
	if result != nil {
		result.RunID = runID
		result.Duration = elapsed
		report.Detections = result.Detections
	}
	if nerr := p.notifier.Notify(ctx, report); nerr != nil {
		log.Warn("run notification not delivered", logger.Error(nerr))
	}

	if err != nil {
		log.Error("run failed",
			logger.String("category", string(errors.CategoryOf(err))),
			logger.Duration("elapsed", elapsed),
			logger.Error(err))
		return nil, err
	}

	log.Info("run completed",
		logger.Int("detections", result.Detections),
		logger.Int("tiles", result.Tiles),
		logger.String("elapsed", FormatDuration(elapsed)))
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, log logger.Logger) (*Result, error) {
	stageStart := time.Now()
	img, err := loadImage(req.InputPath, log)
	p.recordStage(StageLoad, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	return p.predictAndWrite(ctx, req, img, p.settings.Detection, log)
}

// loadImage reads bands 1-3 of the raster at path. Band semantics are not
// checked; extra bands are ignored.
func loadImage(path string, log logger.Logger) (*raster.Image, error) {
	ds, err := raster.Open(path)
	if err != nil {
		return nil, err
	}
	if ds.Bands > raster.Channels {
		log.Debug("using bands 1-3 as RGB, ignoring extra bands", logger.Int("bands", ds.Bands))
	}
	return ds.ReadRGB()
}

func (p *Pipeline) predictAndWrite(ctx context.Context, req Request, img *raster.Image, det conf.DetectionSettings, log logger.Logger) (*Result, error) {
	if det.MemoryCheck {
		checkMemory(img, req.PatchSize, log)
	}

	stageStart := time.Now()
	opts := PredictOptions{
		ScoreThreshold: det.ScoreThreshold,
		IoUThreshold:   det.IoUThreshold,
		Recorder:       p.recorder,
		Progress: func(done, total int) {
			log.Trace("tile done", logger.Int("done", done), logger.Int("total", total))
		},
	}
	table, err := PredictTile(ctx, p.detector, img, req.PatchSize, det.PatchOverlap, opts)
	p.recordStage(StagePredict, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	table.TagImagePath(req.InputPath)

	counts := table.LabelCounts()
	for label, n := range counts {
		p.recorder.RecordDetections(label, n)
	}

	stageStart = time.Now()
	layer, err := p.georef.BoxesToLayer(table, "", p.settings.Output.Projected)
	p.recordStage(StageGeoreference, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}

	stageStart = time.Now()
	err = vector.Write(ctx, req.OutputPath, layer)
	p.recordStage(StageWrite, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}

	// The preview only accompanies a written layer.
	if path := p.settings.Output.Preview; path != "" {
		stageStart = time.Now()
		err := preview.Write(path, img, table)
		p.recordStage(StagePreview, time.Since(stageStart), err)
		if err != nil {
			return nil, err
		}
	}

	return &Result{
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		Detections: table.Len(),
		Labels:     counts,
		Tiles:      table.Tiles,
	}, nil
}

func (p *Pipeline) recordStage(stage string, elapsed time.Duration, err error) {
	if p.metrics != nil {
		p.metrics.Pipeline.RecordResult(stage, elapsed.Seconds(), err)
	}
}

// checkMemory warns when the image and patch tensors may not fit in the
// available memory. It never blocks the run.
func checkMemory(img *raster.Image, patchSize int, log logger.Logger) {
	est, err := cpuspec.EstimateInferenceMemory(img.Height, img.Width, patchSize, 1)
	if err != nil {
		log.Debug("memory probe unavailable", logger.Error(err))
		return
	}
	if est.Exceeds() {
		log.Warn("image may not fit in available memory",
			logger.Uint64("required_bytes", est.Required()),
			logger.Uint64("available_bytes", est.AvailableBytes))
	}
}

// FileAnalysis builds a detector from settings and runs the pipeline once.
// Metrics are written to the configured textfile whether or not the run
// succeeds.
func FileAnalysis(ctx context.Context, settings *conf.Settings, req Request) (*Result, error) {
	m, err := observability.NewMetrics()
	if err != nil {
		return nil, err
	}
	notifier, err := notification.New(&settings.Notification)
	if err != nil {
		return nil, err
	}

	det, err := detector.New(&settings.Detector)
	if err != nil {
		return nil, err
	}
	defer closeDetector(det)

	p := NewPipeline(settings, det, WithMetrics(m), WithNotifier(notifier))
	result, runErr := p.Run(ctx, req)

	writeMetrics(m, settings.Metrics.Textfile)
	return result, runErr
}

func writeMetrics(m *observability.Metrics, path string) {
	if path == "" || m == nil {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		GetLogger().Warn("metrics textfile not written", logger.String("path", path), logger.Error(err))
	}
}

func closeDetector(det detector.Detector) {
	if err := det.Close(); err != nil {
		GetLogger().Warn("detector close failed", logger.String("detector", det.Name()), logger.Error(err))
	}
}
