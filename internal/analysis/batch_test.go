package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ofo-tools/treecrown/internal/detector"
	"github.com/ofo-tools/treecrown/internal/detector/detectortest"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/raster"
	"github.com/ofo-tools/treecrown/internal/raster/rastertest"
)

// verifyNoLeaks snapshots the running goroutines; the returned func fails
// the test if new ones outlive it.
func verifyNoLeaks(t *testing.T) func() {
	t.Helper()
	current := goleak.IgnoreCurrent()
	return func() {
		goleak.VerifyNone(t, current,
			goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
	}
}

// fakeFactory records every detector it builds.
type fakeFactory struct {
	mu    sync.Mutex
	fakes []*detectortest.Fake
	fail  error
}

func (f *fakeFactory) build() (detector.Detector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	fake := detectortest.NewFake(10, 0.8)
	f.fakes = append(f.fakes, fake)
	return fake, nil
}

func TestBatchOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "site_a.gpkg"), BatchOutputPath("/data/site_a.tif", "out", ".gpkg"))
	assert.Equal(t, filepath.Join("out", "ortho.v2.csv"), BatchOutputPath("ortho.v2.tiff", "out", ".csv"))
}

func TestBatchInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tif", "a.tif", "c.tiff", "notes.txt"} {
		require.NoError(t, rastertest.Write(filepath.Join(dir, name), rastertest.Options{Width: 4, Height: 4}))
	}

	inputs, err := BatchInputs(dir, []string{"*.tif", "*.tif*"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.tif"),
		filepath.Join(dir, "b.tif"),
		filepath.Join(dir, "c.tiff"),
	}, inputs)

	_, err = BatchInputs(filepath.Join(dir, "missing"), []string{"*.tif"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInputAccess))

	_, err = BatchInputs(filepath.Join(dir, "a.tif"), []string{"*.tif"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryArgument))

	_, err = BatchInputs(dir, []string{"[bad"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRunBatch(t *testing.T) {
	defer verifyNoLeaks(t)()

	in, out := t.TempDir(), filepath.Join(t.TempDir(), "boxes")
	for i := range 5 {
		writeOrtho(t, filepath.Join(in, fmt.Sprintf("tile_%d.tif", i)), 64, 3)
	}

	factory := &fakeFactory{}
	result, err := RunBatch(context.Background(), testSettings(), BatchRequest{
		InputDir:  in,
		PatchSize: 32,
		OutputDir: out,
		Extension: "geojson",
		Workers:   2,
	}, factory.build)
	require.NoError(t, err)

	require.Len(t, result.Results, 5)
	for i, r := range result.Results {
		assert.Equal(t, filepath.Join(in, fmt.Sprintf("tile_%d.tif", i)), r.InputPath)
		assert.Equal(t, filepath.Join(out, fmt.Sprintf("tile_%d.geojson", i)), r.OutputPath)
		assert.FileExists(t, r.OutputPath)
		assert.Equal(t, 9, r.Detections)
	}
	assert.Equal(t, 45, result.Detections())

	require.Len(t, factory.fakes, 2)
	calls := 0
	for _, f := range factory.fakes {
		assert.True(t, f.Closed(), "pool closes every detector")
		calls += f.Calls()
	}
	assert.Equal(t, 45, calls)
}

func TestRunBatchEmptyDirectory(t *testing.T) {
	factory := &fakeFactory{}
	result, err := RunBatch(context.Background(), testSettings(), BatchRequest{
		InputDir:  t.TempDir(),
		PatchSize: 32,
		OutputDir: t.TempDir(),
	}, factory.build)
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Empty(t, factory.fakes, "no detector is built without inputs")
}

func TestRunBatchFailures(t *testing.T) {
	in := t.TempDir()
	for i := range 3 {
		writeOrtho(t, filepath.Join(in, fmt.Sprintf("tile_%d.tif", i)), 32, 3)
	}

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := RunBatch(context.Background(), testSettings(), BatchRequest{
			InputDir: in, PatchSize: 32, OutputDir: t.TempDir(), Extension: ".shp",
		}, (&fakeFactory{}).build)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFormat))
	})

	t.Run("inputs sharing an output", func(t *testing.T) {
		dup := t.TempDir()
		writeOrtho(t, filepath.Join(dup, "site.tif"), 16, 3)
		writeOrtho(t, filepath.Join(dup, "site.tiff"), 16, 3)
		out := t.TempDir()

		factory := &fakeFactory{}
		_, err := RunBatch(context.Background(), testSettings(), BatchRequest{
			InputDir: dup, PatchSize: 16, OutputDir: out, Globs: []string{"*.tif", "*.tiff"},
		}, factory.build)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryArgument))
		assert.Contains(t, err.Error(), "site.gpkg")
		assert.Empty(t, factory.fakes, "rejected before any detector is built")
		assert.NoFileExists(t, filepath.Join(out, "site.gpkg"))
	})

	t.Run("factory error", func(t *testing.T) {
		factory := &fakeFactory{fail: errors.Newf("model missing").Category(errors.CategoryModelInit).Build()}
		_, err := RunBatch(context.Background(), testSettings(), BatchRequest{
			InputDir: in, PatchSize: 32, OutputDir: t.TempDir(), Workers: 2,
		}, factory.build)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryModelInit))
	})

	t.Run("prediction error aborts the batch", func(t *testing.T) {
		defer verifyNoLeaks(t)()

		newDetector := func() (detector.Detector, error) {
			return &detectortest.Fake{PredictFunc: func(context.Context, *raster.Image) ([]detector.Box, error) {
				return nil, fmt.Errorf("backend exploded")
			}}, nil
		}
		_, err := RunBatch(context.Background(), testSettings(), BatchRequest{
			InputDir: in, PatchSize: 32, OutputDir: t.TempDir(), Workers: 2,
		}, newDetector)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryInference))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := RunBatch(ctx, testSettings(), BatchRequest{
			InputDir: in, PatchSize: 32, OutputDir: t.TempDir(), Workers: 1,
		}, (&fakeFactory{}).build)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	})
}
