package analysis

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ofo-tools/treecrown/internal/detector"
	"github.com/ofo-tools/treecrown/internal/detector/detectortest"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/raster"
)

func TestPredictTileCoversImage(t *testing.T) {
	fake := detectortest.NewFake(100, 0.9)
	img := raster.NewImage(2000, 2000)

	var progress []int
	opts := DefaultPredictOptions()
	opts.Progress = func(done, total int) {
		assert.Equal(t, 9, total)
		progress = append(progress, done)
	}

	table, err := PredictTile(context.Background(), fake, img, 1000, DefaultPatchOverlap, opts)
	require.NoError(t, err)

	assert.Equal(t, 9, fake.Calls(), "3 windows per axis")
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, progress)
	assert.Equal(t, 9, table.Tiles)
	assert.Equal(t, 9, table.Len())
	assert.Equal(t, "fake", table.Detector)

	for _, d := range table.Detections {
		assert.GreaterOrEqual(t, d.XMin, 0.0)
		assert.LessOrEqual(t, d.XMax, 2000.0)
		assert.GreaterOrEqual(t, d.YMin, 0.0)
		assert.LessOrEqual(t, d.YMax, 2000.0)
		assert.Empty(t, d.ImagePath, "tagging is the caller's job")
	}
	for _, shape := range fake.PatchShapes() {
		assert.Equal(t, [2]int{1000, 1000}, shape)
	}
}

func TestPredictTilePatchLargerThanImage(t *testing.T) {
	fake := detectortest.NewFake(10, 0.9)

	table, err := PredictTile(context.Background(), fake, raster.NewImage(300, 200), 1000, DefaultPatchOverlap, DefaultPredictOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, fake.Calls())
	assert.Equal(t, [][2]int{{300, 200}}, fake.PatchShapes())
	assert.Equal(t, 1, table.Len())
}

func TestPredictTileOffsetsBoxes(t *testing.T) {
	fake := &detectortest.Fake{
		PredictFunc: func(_ context.Context, patch *raster.Image) ([]detector.Box, error) {
			return []detector.Box{{XMin: 1, YMin: 2, XMax: 11, YMax: 12, Score: 0.8, Label: "Tree"}}, nil
		},
	}

	table, err := PredictTile(context.Background(), fake, raster.NewImage(20, 10), 10, 0, DefaultPredictOptions())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	xs := []float64{table.Detections[0].XMin, table.Detections[1].XMin}
	assert.ElementsMatch(t, []float64{1, 11}, xs)
	for _, d := range table.Detections {
		assert.LessOrEqual(t, d.XMax, 20.0, "clipped to the image")
		assert.Equal(t, 10.0, d.YMax, "clipped to the image")
	}
}

func TestPredictTileScoreThreshold(t *testing.T) {
	fake := &detectortest.Fake{
		PredictFunc: func(context.Context, *raster.Image) ([]detector.Box, error) {
			return []detector.Box{
				{XMin: 0, YMin: 0, XMax: 5, YMax: 5, Score: 0.05, Label: "Tree"},
				{XMin: 10, YMin: 10, XMax: 15, YMax: 15, Score: 0.5, Label: "Tree"},
			}, nil
		},
	}

	table, err := PredictTile(context.Background(), fake, raster.NewImage(50, 50), 50, DefaultPatchOverlap, DefaultPredictOptions())
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())
	assert.InDelta(t, 0.5, table.Detections[0].Score, 1e-6)
}

func TestPredictTileErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid patch size", func(t *testing.T) {
		_, err := PredictTile(ctx, detectortest.NewFake(1, 1), raster.NewImage(10, 10), 0, DefaultPatchOverlap, DefaultPredictOptions())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryInference))
	})

	t.Run("empty image", func(t *testing.T) {
		_, err := PredictTile(ctx, detectortest.NewFake(1, 1), &raster.Image{}, 10, DefaultPatchOverlap, DefaultPredictOptions())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryInference))
	})

	t.Run("detector failure", func(t *testing.T) {
		fake := &detectortest.Fake{
			PredictFunc: func(context.Context, *raster.Image) ([]detector.Box, error) {
				return nil, fmt.Errorf("out of memory")
			},
		}
		_, err := PredictTile(ctx, fake, raster.NewImage(10, 10), 10, DefaultPatchOverlap, DefaultPredictOptions())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryInference))
		assert.Contains(t, err.Error(), "out of memory")
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := PredictTile(cctx, detectortest.NewFake(1, 1), raster.NewImage(10, 10), 10, DefaultPatchOverlap, DefaultPredictOptions())
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
	})
}
