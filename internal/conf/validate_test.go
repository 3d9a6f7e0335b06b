package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofo-tools/treecrown/internal/errors"
)

func validSettings() *Settings {
	return &Settings{
		Detector: DetectorSettings{
			Backend:   BackendTFLite,
			ModelPath: "model/deepforest.tflite",
		},
		Detection: DetectionSettings{
			PatchOverlap:   DefaultPatchOverlap,
			ScoreThreshold: DefaultScoreThreshold,
			IoUThreshold:   DefaultIoUThreshold,
		},
		Output: OutputSettings{LayerName: DefaultLayerName, Projected: true},
		Batch:  BatchSettings{Extension: ".gpkg", InputGlobs: []string{"*.tif"}},
		Sentry: SentrySettings{SampleRate: 1},
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid", func(s *Settings) {}, ""},
		{"unknown backend", func(s *Settings) { s.Detector.Backend = "onnx" }, "detector.backend"},
		{"missing model", func(s *Settings) { s.Detector.ModelPath = "" }, "detector.model_path"},
		{"remote without url", func(s *Settings) { s.Detector.Backend = BackendRemote }, "detector.remote.url"},
		{"remote with ftp url", func(s *Settings) {
			s.Detector.Backend = BackendRemote
			s.Detector.Remote.URL = "ftp://example.com"
		}, "detector.remote.url"},
		{"overlap one", func(s *Settings) { s.Detection.PatchOverlap = 1 }, "patch_overlap"},
		{"negative overlap", func(s *Settings) { s.Detection.PatchOverlap = -0.1 }, "patch_overlap"},
		{"score above one", func(s *Settings) { s.Detection.ScoreThreshold = 1.2 }, "score_threshold"},
		{"empty layer", func(s *Settings) { s.Output.LayerName = " " }, "layer_name"},
		{"preview not png", func(s *Settings) { s.Output.Preview = "out.jpg" }, "output.preview"},
		{"extension without dot", func(s *Settings) { s.Batch.Extension = "gpkg" }, "batch.extension"},
		{"bad glob", func(s *Settings) { s.Batch.InputGlobs = []string{"[a-"} }, "input_globs"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestValidateSettingsCollectsAllErrors(t *testing.T) {
	s := validSettings()
	s.Detector.Backend = "nope"
	s.Detection.IoUThreshold = 2
	s.Batch.Workers = -1

	err := ValidateSettings(s)
	require.Error(t, err)

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Errors, 3)
}
