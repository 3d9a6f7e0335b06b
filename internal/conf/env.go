// env.go - environment variable bindings for treecrown settings
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ofo-tools/treecrown/internal/errors"
)

// EnvPrefix is prepended to every bound environment variable.
const EnvPrefix = "TREECROWN_"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", EnvPrefix + "DEBUG", validateEnvBool},

		{"detector.backend", EnvPrefix + "DETECTOR_BACKEND", validateEnvBackend},
		{"detector.model_path", EnvPrefix + "DETECTOR_MODEL_PATH", nil},
		{"detector.threads", EnvPrefix + "DETECTOR_THREADS", validateEnvNonNegativeInt},
		{"detector.remote.url", EnvPrefix + "DETECTOR_REMOTE_URL", validateEnvURL},
		{"detector.remote.api_key", EnvPrefix + "DETECTOR_REMOTE_API_KEY", nil},
		{"detector.remote.timeout", EnvPrefix + "DETECTOR_REMOTE_TIMEOUT", validateEnvDuration},

		{"detection.patch_overlap", EnvPrefix + "PATCH_OVERLAP", validateEnvOverlap},
		{"detection.score_threshold", EnvPrefix + "SCORE_THRESHOLD", validateEnvUnitInterval},
		{"detection.iou_threshold", EnvPrefix + "IOU_THRESHOLD", validateEnvUnitInterval},

		{"batch.workers", EnvPrefix + "BATCH_WORKERS", validateEnvNonNegativeInt},
		{"metrics.textfile", EnvPrefix + "METRICS_TEXTFILE", nil},

		{"sentry.enabled", EnvPrefix + "SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", EnvPrefix + "SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every environment variable and validates the ones that
// are set. All problems are reported together.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return errors.Newf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - ")).
			Category(errors.CategoryConfiguration).
			Context("operation", "bind-env").
			Build()
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvBackend(value string) error {
	switch value {
	case BackendTFLite, BackendRemote:
		return nil
	default:
		return fmt.Errorf("must be one of: %s, %s", BackendTFLite, BackendRemote)
	}
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	return nil
}

func validateEnvOverlap(value string) error {
	overlap, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid overlap: %w", err)
	}
	if overlap < 0 || overlap >= 1 {
		return fmt.Errorf("overlap must be in [0, 1), got %g", overlap)
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if v < 0 || v > 1 {
		return fmt.Errorf("must be between 0.0 and 1.0, got %g", v)
	}
	return nil
}
