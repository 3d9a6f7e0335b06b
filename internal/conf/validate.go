// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/ofo-tools/treecrown/internal/errors"
)

// Detector backends
const (
	BackendTFLite = "tflite"
	BackendRemote = "remote"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %s", strings.Join(ve.Errors, "; "))
}

// ErrorCategory classifies invalid settings as configuration errors.
func (ve ValidationError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryConfiguration
}

// ValidateSettings validates the entire Settings struct and reports every
// problem at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	ve.Errors = append(ve.Errors, validateDetectorSettings(&settings.Detector)...)
	ve.Errors = append(ve.Errors, validateDetectionSettings(&settings.Detection)...)
	ve.Errors = append(ve.Errors, validateOutputSettings(&settings.Output)...)
	ve.Errors = append(ve.Errors, validateBatchSettings(&settings.Batch)...)
	ve.Errors = append(ve.Errors, validateSentrySettings(&settings.Sentry)...)

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Category(errors.CategoryConfiguration).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateDetectorSettings(s *DetectorSettings) []string {
	var errs []string

	switch s.Backend {
	case BackendTFLite:
		if s.ModelPath == "" {
			errs = append(errs, "detector.model_path is required for the tflite backend")
		}
	case BackendRemote:
		u, err := url.Parse(s.Remote.URL)
		if s.Remote.URL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, "detector.remote.url must be an http(s) URL for the remote backend")
		}
		if s.Remote.Timeout < 0 {
			errs = append(errs, "detector.remote.timeout must not be negative")
		}
		if s.Remote.RateLimit < 0 {
			errs = append(errs, "detector.remote.rate_limit must not be negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("detector.backend must be %q or %q, got %q", BackendTFLite, BackendRemote, s.Backend))
	}

	if s.Threads < 0 {
		errs = append(errs, "detector.threads must not be negative")
	}
	if s.InputSize < 0 {
		errs = append(errs, "detector.input_size must not be negative")
	}

	return errs
}

func validateDetectionSettings(s *DetectionSettings) []string {
	var errs []string

	if s.PatchOverlap < 0 || s.PatchOverlap >= 1 {
		errs = append(errs, fmt.Sprintf("detection.patch_overlap must be in [0, 1), got %g", s.PatchOverlap))
	}
	if s.ScoreThreshold < 0 || s.ScoreThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detection.score_threshold must be in [0, 1], got %g", s.ScoreThreshold))
	}
	if s.IoUThreshold < 0 || s.IoUThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detection.iou_threshold must be in [0, 1], got %g", s.IoUThreshold))
	}

	return errs
}

func validateOutputSettings(s *OutputSettings) []string {
	var errs []string

	if strings.TrimSpace(s.LayerName) == "" {
		errs = append(errs, "output.layer_name must not be empty")
	}
	if s.Preview != "" && !strings.EqualFold(filepath.Ext(s.Preview), ".png") {
		errs = append(errs, "output.preview must be a .png path")
	}

	return errs
}

func validateBatchSettings(s *BatchSettings) []string {
	var errs []string

	if s.Workers < 0 {
		errs = append(errs, "batch.workers must not be negative")
	}
	if !strings.HasPrefix(s.Extension, ".") {
		errs = append(errs, fmt.Sprintf("batch.extension must start with a dot, got %q", s.Extension))
	}
	for _, pattern := range s.InputGlobs {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Sprintf("batch.input_globs contains invalid pattern %q", pattern))
		}
	}

	return errs
}

func validateSentrySettings(s *SentrySettings) []string {
	var errs []string

	if s.Enabled && s.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	if s.SampleRate < 0 || s.SampleRate > 1 {
		errs = append(errs, "sentry.sample_rate must be in [0, 1]")
	}

	return errs
}
