package cpuspec

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// bytesPerTensorValue is the size of one float32 input tensor element.
const bytesPerTensorValue = 4

// MemoryEstimate compares the memory a tiled inference run needs with what
// the host has available.
type MemoryEstimate struct {
	ImageBytes     uint64
	TensorBytes    uint64
	AvailableBytes uint64
}

// Required is the total estimated footprint.
func (m MemoryEstimate) Required() uint64 {
	return m.ImageBytes + m.TensorBytes
}

// Exceeds reports whether the estimate is larger than available memory.
// An unknown availability (0) never exceeds.
func (m MemoryEstimate) Exceeds() bool {
	return m.AvailableBytes > 0 && m.Required() > m.AvailableBytes
}

// EstimateInferenceMemory estimates the memory of holding a height x width
// RGB image plus one float32 tensor per concurrent patch.
func EstimateInferenceMemory(height, width, patchSize, workers int) (MemoryEstimate, error) {
	side := uint64(max(min(patchSize, max(height, width)), 0))
	est := MemoryEstimate{
		ImageBytes:  uint64(max(height, 0)) * uint64(max(width, 0)) * 3,
		TensorBytes: side * side * 3 * bytesPerTensorValue * uint64(max(workers, 1)),
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return est, err
	}
	est.AvailableBytes = vm.Available
	return est, nil
}
