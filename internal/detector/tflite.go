package detector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"
	"github.com/up-zero/gotool/imageutil"

	"github.com/ofo-tools/treecrown/internal/cpuspec"
	"github.com/ofo-tools/treecrown/internal/errors"
	"github.com/ofo-tools/treecrown/internal/logger"
	"github.com/ofo-tools/treecrown/internal/raster"
)

// Output tensor order of the TFLite detection post-process op.
const (
	outputBoxes = iota
	outputClasses
	outputScores
	outputCount
	numOutputs
)

// TFLiteDetector runs a TensorFlow Lite detection model in-process. The
// model is loaded once; Predict serializes access to the interpreter.
type TFLiteDetector struct {
	mu          sync.Mutex
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	labels      []string
	modelPath   string
	inputW      int
	inputH      int
	threads     int
}

// NewTFLite loads the model at cfg.ModelPath and allocates its tensors.
func NewTFLite(cfg Config) (*TFLiteDetector, error) {
	start := time.Now()
	log := GetLogger()

	modelData, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Category(errors.CategoryModelInit).
			FileContext(cfg.ModelPath, int64(len(modelData))).
			Context("use_xnnpack", cfg.UseXNNPACK).
			Timing("model-init", time.Since(start)).
			Build()
	}

	threads := cpuspec.ThreadCount(cfg.Threads)
	options := tflite.NewInterpreterOptions()

	if cfg.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}

	options.SetErrorReporter(func(msg string, _ any) {
		GetLogger().Error("TFLite error", logger.String("message", msg))
	}, nil)

	d := &TFLiteDetector{
		model:     model,
		options:   options,
		labels:    cfg.Labels,
		modelPath: cfg.ModelPath,
		threads:   threads,
	}

	d.interpreter = tflite.NewInterpreter(model, options)
	if d.interpreter == nil {
		d.release()
		return nil, errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Timing("model-init", time.Since(start)).
			Build()
	}

	if err := d.prepareInput(cfg.InputSize); err != nil {
		d.release()
		return nil, errors.New(err).
			Category(errors.CategoryModelInit).
			Context("model_path", cfg.ModelPath).
			Context("input_size", cfg.InputSize).
			Build()
	}

	// The interpreter keeps its own copy of the weights
	runtime.GC()

	log.Info("detection model initialized",
		logger.String("model", cfg.ModelPath),
		logger.Int("threads", threads),
		logger.Int("input_width", d.inputW),
		logger.Int("input_height", d.inputH),
		logger.Int("total_cpus", runtime.NumCPU()),
		logger.Duration("duration", time.Since(start)))

	return d, nil
}

// prepareInput resizes the input tensor when a size is configured,
// allocates tensors and checks the model's input and output layout.
func (d *TFLiteDetector) prepareInput(size int) error {
	if size > 0 {
		if status := d.interpreter.ResizeInputTensor(0, []int32{1, int32(size), int32(size), raster.Channels}); status != tflite.OK { //nolint:gosec // G115: size validated by configuration
			return fmt.Errorf("cannot resize input tensor to %dx%d", size, size)
		}
	}
	if status := d.interpreter.AllocateTensors(); status != tflite.OK {
		return fmt.Errorf("tensor allocation failed")
	}

	input := d.interpreter.GetInputTensor(0)
	if input == nil {
		return fmt.Errorf("cannot get input tensor")
	}
	if input.NumDims() != 4 || input.Dim(3) != raster.Channels {
		return fmt.Errorf("model input must be [1,H,W,3], got %d dims", input.NumDims())
	}
	if input.Float32s() == nil {
		return fmt.Errorf("model input tensor must be float32")
	}
	d.inputH, d.inputW = input.Dim(1), input.Dim(2)

	if n := d.interpreter.GetOutputTensorCount(); n < numOutputs {
		return fmt.Errorf("model has %d output tensors, want boxes, classes, scores and count", n)
	}
	return nil
}

// Name identifies the backend and model.
func (d *TFLiteDetector) Name() string {
	return "tflite:" + d.modelPath
}

// Predict runs the model on one patch. Patches whose size differs from the
// model input are resized; the normalized output boxes are scaled back to
// the patch size.
func (d *TFLiteDetector) Predict(ctx context.Context, patch *raster.Image) ([]Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkPatch(patch); err != nil {
		return nil, inferenceError(err, "tflite")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.interpreter == nil {
		return nil, inferenceError(fmt.Errorf("detector is closed"), "tflite")
	}

	input := d.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, inferenceError(fmt.Errorf("cannot get input tensor"), "tflite")
	}
	fillInput(input.Float32s(), d.fitToInput(patch))

	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, inferenceError(fmt.Errorf("tensor invoke failed: %v", status), "tflite")
	}

	return d.readDetections(patch.Width, patch.Height)
}

func (d *TFLiteDetector) fitToInput(patch *raster.Image) *raster.Image {
	if patch.Width == d.inputW && patch.Height == d.inputH {
		return patch
	}
	return raster.FromImage(imageutil.Resize(patch.ToRGBA(), d.inputW, d.inputH))
}

// fillInput writes HWC pixels scaled to [0, 1] into the tensor buffer.
func fillInput(dst []float32, img *raster.Image) {
	n := min(len(dst), len(img.Pix))
	for i := range n {
		dst[i] = float32(img.Pix[i]) / 255
	}
}

func (d *TFLiteDetector) readDetections(patchW, patchH int) ([]Box, error) {
	boxes := d.interpreter.GetOutputTensor(outputBoxes).Float32s()
	classes := d.interpreter.GetOutputTensor(outputClasses).Float32s()
	scores := d.interpreter.GetOutputTensor(outputScores).Float32s()
	count := d.interpreter.GetOutputTensor(outputCount).Float32s()
	if len(count) == 0 {
		return nil, inferenceError(fmt.Errorf("empty detection count tensor"), "tflite")
	}

	n := min(int(count[0]), len(scores), len(classes), len(boxes)/4)
	out := make([]Box, 0, n)
	for i := range n {
		b := boxes[i*4 : i*4+4] // ymin, xmin, ymax, xmax, normalized
		box := clampBox(Box{
			XMin:  float64(b[1]) * float64(patchW),
			YMin:  float64(b[0]) * float64(patchH),
			XMax:  float64(b[3]) * float64(patchW),
			YMax:  float64(b[2]) * float64(patchH),
			Score: scores[i],
			Label: labelFor(d.labels, int(classes[i])),
		}, patchW, patchH)
		if box.Area() > 0 {
			out = append(out, box)
		}
	}
	return out, nil
}

// Close releases the interpreter. Safe to call more than once.
func (d *TFLiteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.release()
	return nil
}

// release drops the native handles; the tflite package frees them through
// runtime cleanups once they are unreachable.
func (d *TFLiteDetector) release() {
	d.interpreter = nil
	d.options = nil
	d.model = nil
}
