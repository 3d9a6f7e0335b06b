// Package detector runs the tree-crown object detection model on image
// patches. Two backends are available: an embedded TensorFlow Lite
// interpreter and a remote HTTP inference service.
package detector

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/up-zero/gotool/convertutil"

	"github.com/ofo-tools/treecrown/internal/conf"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/raster"
)

// Box is one detection in patch pixel coordinates.
type Box struct {
	XMin, YMin float64
	XMax, YMax float64
	Score      float32
	Label      string
}

// Width of the box in pixels.
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height of the box in pixels.
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Area of the box, zero for degenerate boxes.
func (b Box) Area() float64 {
	if b.XMax <= b.XMin || b.YMax <= b.YMin {
		return 0
	}
	return b.Width() * b.Height()
}

// Detector predicts boxes for a single patch. Implementations are not
// required to be safe for concurrent use; callers that need parallelism
// build one Detector per worker.
type Detector interface {
	Predict(ctx context.Context, patch *raster.Image) ([]Box, error)
	Name() string
	Close() error
}

// Config is the backend-independent detector configuration.
type Config struct {
	Backend    string
	ModelPath  string
	Labels     []string
	Threads    int
	InputSize  int
	UseXNNPACK bool
}

// RemoteConfig configures the HTTP backend.
type RemoteConfig struct {
	URL       string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	Labels    []string

	// Transport overrides the HTTP transport, nil uses the pooled default.
	Transport http.RoundTripper
}

// New builds the detector selected by settings.Backend.
func New(settings *conf.DetectorSettings) (Detector, error) {
	if settings == nil {
		return nil, errors.Newf("detector settings are nil").
			Category(errors.CategoryModelInit).
			Build()
	}

	cfg := new(Config)
	_ = convertutil.CopyProperties(*settings, cfg)

	switch cfg.Backend {
	case conf.BackendTFLite, "":
		return NewTFLite(*cfg)
	case conf.BackendRemote:
		rc := new(RemoteConfig)
		_ = convertutil.CopyProperties(settings.Remote, rc)
		rc.Labels = cfg.Labels
		return NewRemote(*rc)
	default:
		return nil, errors.Newf("unknown detector backend %q", cfg.Backend).
			Category(errors.CategoryModelInit).
			Context("backend", cfg.Backend).
			Build()
	}
}

// labelFor maps a class index to its label, falling back to the index.
func labelFor(labels []string, class int) string {
	if class >= 0 && class < len(labels) {
		return labels[class]
	}
	return strconv.Itoa(class)
}

// clampBox limits b to a w x h patch.
func clampBox(b Box, w, h int) Box {
	b.XMin = clamp(b.XMin, 0, float64(w))
	b.XMax = clamp(b.XMax, 0, float64(w))
	b.YMin = clamp(b.YMin, 0, float64(h))
	b.YMax = clamp(b.YMax, 0, float64(h))
	return b
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

func inferenceError(err error, backend string) *errors.EnhancedError {
	return errors.New(err).
		Category(errors.CategoryInference).
		Context("backend", backend).
		Build()
}

func checkPatch(patch *raster.Image) error {
	if patch == nil || patch.Width <= 0 || patch.Height <= 0 {
		return fmt.Errorf("empty patch")
	}
	if patch.Channels != raster.Channels {
		return fmt.Errorf("patch has %d channels, want %d", patch.Channels, raster.Channels)
	}
	return nil
}
