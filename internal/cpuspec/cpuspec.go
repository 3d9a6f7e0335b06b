// Package cpuspec inspects the host CPU and memory to size inference work.
package cpuspec

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec contains information about CPU specifications
type CPUSpec struct {
	BrandName        string
	LogicalCores     int
	PerformanceCores int
}

// GetCPUSpec returns CPU specifications including the number of performance cores
func GetCPUSpec() CPUSpec {
	brandName := cpuid.CPU.BrandName

	return CPUSpec{
		BrandName:        brandName,
		LogicalCores:     cpuid.CPU.LogicalCores,
		PerformanceCores: determinePerformanceCores(brandName),
	}
}

// GetOptimalThreadCount returns the recommended interpreter thread count.
// Hybrid CPUs are limited to their performance cores.
func (c CPUSpec) GetOptimalThreadCount() int {
	availableCPUs := runtime.NumCPU()

	if c.PerformanceCores > 0 {
		return min(c.PerformanceCores, availableCPUs)
	}
	if c.LogicalCores > 0 {
		return min(c.LogicalCores, availableCPUs)
	}
	return availableCPUs
}

// ThreadCount resolves a configured thread count: 0 picks the optimal
// count for this host, anything above the CPU count is capped.
func ThreadCount(configured int) int {
	systemCPUs := runtime.NumCPU()
	if configured <= 0 {
		return GetCPUSpec().GetOptimalThreadCount()
	}
	return min(configured, systemCPUs)
}

var (
	intelCoreRegex = regexp.MustCompile(`intel.*(?:core.*i[3579]-(\d{3})\d{2}|core.*ultra\s+[579]\s+(?:processor\s+)?(\d{3}))`)
	appleRegex     = regexp.MustCompile(`apple\s+(m[1-4])(?:\s*(pro|max|ultra))?`)
)

// P-core counts keyed by model prefix ("129" for 12900 parts, "285" for
// Core Ultra 9 285).
var intelPerformanceCores = map[string]int{
	"129": 8, "127": 8, "126": 6, "124": 6, "121": 4,
	"139": 8, "137": 8, "136": 6, "135": 6, "134": 6, "131": 4,
	"149": 8, "147": 8, "146": 6, "144": 6, "141": 4,
	"285": 8, "265": 8, "255": 8, "235": 6, "225": 4,
}

var applePerformanceCores = map[string]int{
	"m1": 4, "m1 pro": 8, "m1 max": 8, "m1 ultra": 16,
	"m2": 4, "m2 pro": 8, "m2 max": 12, "m2 ultra": 24,
	"m3": 4, "m3 pro": 8, "m3 max": 12, "m3 ultra": 24,
	"m4": 6, "m4 pro": 8, "m4 max": 12,
}

func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)

	if m := intelCoreRegex.FindStringSubmatch(brandName); m != nil {
		key := m[1]
		if key == "" {
			key = m[2]
		}
		return intelPerformanceCores[key]
	}

	if m := appleRegex.FindStringSubmatch(brandName); m != nil {
		chip := m[1]
		if m[2] != "" {
			chip += " " + m[2]
		}
		return applePerformanceCores[chip]
	}

	// Unknown CPU
	return 0
}
