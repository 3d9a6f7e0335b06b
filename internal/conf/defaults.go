// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default detection parameters. Overlap and thresholds follow the
// sliding-window prediction routine the models were trained with.
const (
	DefaultPatchOverlap   = 0.3
	DefaultScoreThreshold = 0.1
	DefaultIoUThreshold   = 0.15
	DefaultLayerName      = "predictions"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/treecrown.log")
	viper.SetDefault("logging.file_output.level", "debug")

	viper.SetDefault("detector.backend", "tflite")
	viper.SetDefault("detector.model_path", "model/deepforest.tflite")
	viper.SetDefault("detector.labels", []string{"Tree"})
	viper.SetDefault("detector.threads", 0)
	viper.SetDefault("detector.input_size", 0)
	viper.SetDefault("detector.use_xnnpack", false)
	viper.SetDefault("detector.remote.url", "")
	viper.SetDefault("detector.remote.api_key", "")
	viper.SetDefault("detector.remote.timeout", 30*time.Second)
	viper.SetDefault("detector.remote.rate_limit", 2.0)
	viper.SetDefault("detector.remote.burst", 2)

	viper.SetDefault("detection.patch_overlap", DefaultPatchOverlap)
	viper.SetDefault("detection.score_threshold", DefaultScoreThreshold)
	viper.SetDefault("detection.iou_threshold", DefaultIoUThreshold)
	viper.SetDefault("detection.memory_check", true)

	viper.SetDefault("output.layer_name", DefaultLayerName)
	viper.SetDefault("output.projected", true)
	viper.SetDefault("output.preview", "")

	viper.SetDefault("batch.workers", 0)
	viper.SetDefault("batch.extension", ".gpkg")
	viper.SetDefault("batch.input_globs", []string{"*.tif", "*.tiff"})

	viper.SetDefault("metrics.textfile", "")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.sample_rate", 1.0)

	viper.SetDefault("notification.urls", []string{})
	viper.SetDefault("notification.on_success", false)
	viper.SetDefault("notification.on_failure", true)
	viper.SetDefault("notification.timeout", 10*time.Second)
}
