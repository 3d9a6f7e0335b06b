// Package conf loads treecrown settings from defaults, an optional YAML
// file, TREECROWN_* environment variables and command line flags.
package conf

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
)

// DetectorSettings selects and configures the detection backend.
type DetectorSettings struct {
	Backend    string         // "tflite" or "remote"
	ModelPath  string         `mapstructure:"model_path" yaml:"model_path"`   // path to the .tflite model
	Labels     []string       // class labels indexed by model class id
	Threads    int            // interpreter threads, 0 picks from CPU topology
	InputSize  int            `mapstructure:"input_size" yaml:"input_size"`   // square model input side, 0 reads it from the model
	UseXNNPACK bool           `mapstructure:"use_xnnpack" yaml:"use_xnnpack"` // run the tflite model through the XNNPACK delegate
	Remote     RemoteSettings // remote inference service
}

// RemoteSettings configures the HTTP inference backend.
type RemoteSettings struct {
	URL       string
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout   time.Duration // per request
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second, 0 disables throttling
	Burst     int
}

// DetectionSettings controls tiling and post-processing.
type DetectionSettings struct {
	PatchOverlap   float64 `mapstructure:"patch_overlap" yaml:"patch_overlap"`     // fraction of the window shared by neighbours
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold"` // boxes below are dropped
	IoUThreshold   float64 `mapstructure:"iou_threshold" yaml:"iou_threshold"`     // cross-tile NMS overlap
	MemoryCheck    bool    `mapstructure:"memory_check" yaml:"memory_check"`       // warn when the image may not fit in memory
}

// OutputSettings controls the vector output.
type OutputSettings struct {
	LayerName string `mapstructure:"layer_name" yaml:"layer_name"`
	Projected bool   // georeference boxes; false keeps pixel coordinates
	Preview   string // optional PNG path with boxes drawn on the image
}

// BatchSettings configures the batch subcommand.
type BatchSettings struct {
	Workers    int      // 0 uses the number of logical cores
	Extension  string   // output extension, e.g. ".gpkg"
	InputGlobs []string `mapstructure:"input_globs" yaml:"input_globs"`
}

// MetricsSettings configures Prometheus textfile output.
type MetricsSettings struct {
	Textfile string // written at the end of a run when set
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// NotificationSettings configures run completion messages.
type NotificationSettings struct {
	URLs      []string      // shoutrrr service URLs
	OnSuccess bool          `mapstructure:"on_success" yaml:"on_success"`
	OnFailure bool          `mapstructure:"on_failure" yaml:"on_failure"`
	Timeout   time.Duration // per send
}

// Settings is the root configuration.
type Settings struct {
	Debug        bool
	Logging      logger.LoggingConfig
	Detector     DetectorSettings
	Detection    DetectionSettings
	Output       OutputSettings
	Batch        BatchSettings
	Metrics      MetricsSettings
	Sentry       SentrySettings
	Notification NotificationSettings
}

// settingsMutex serializes Load, which drives the global viper instance.
var settingsMutex sync.Mutex

// Load reads configuration into a new Settings and validates it.
// configFile overrides the search path when set.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, err
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// initViper registers defaults, env bindings and the config file location.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("treecrown")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			GetLogger().Debug("no config file found, using defaults")
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Category(errors.CategoryConfiguration).
			FileContext(configFile, 0).
			Build()
	}

	GetLogger().Debug("config file loaded", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// YAML renders the settings as a YAML document with secrets masked.
func (s *Settings) YAML() ([]byte, error) {
	masked := *s
	if masked.Detector.Remote.APIKey != "" {
		masked.Detector.Remote.APIKey = maskedValue
	}
	if masked.Sentry.DSN != "" {
		masked.Sentry.DSN = maskedValue
	}
	if len(masked.Notification.URLs) > 0 {
		urls := make([]string, len(masked.Notification.URLs))
		for i := range urls {
			urls[i] = maskedValue
		}
		masked.Notification.URLs = urls
	}

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryConfiguration).Build()
	}
	return out, nil
}

const maskedValue = "********"
