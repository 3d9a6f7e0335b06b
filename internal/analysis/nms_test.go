package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func box(xmin, ymin, xmax, ymax float64, score float32, label string) Detection {
	return Detection{XMin: xmin, YMin: ymin, XMax: xmax, YMax: ymax, Score: score, Label: label}
}

func TestNMS(t *testing.T) {
	tests := []struct {
		name string
		in   []Detection
		want []Detection
	}{
		{
			name: "empty",
			in:   nil,
			want: nil,
		},
		{
			name: "duplicate from neighbouring tile is suppressed",
			in: []Detection{
				box(0, 0, 10, 10, 0.6, "Tree"),
				box(1, 1, 11, 11, 0.9, "Tree"),
			},
			want: []Detection{box(1, 1, 11, 11, 0.9, "Tree")},
		},
		{
			name: "different labels never suppress each other",
			in: []Detection{
				box(0, 0, 10, 10, 0.9, "Tree"),
				box(0, 0, 10, 10, 0.5, "Snag"),
			},
			want: []Detection{
				box(0, 0, 10, 10, 0.9, "Tree"),
				box(0, 0, 10, 10, 0.5, "Snag"),
			},
		},
		{
			name: "small overlap is kept",
			in: []Detection{
				box(0, 0, 10, 10, 0.9, "Tree"),
				box(9, 0, 19, 10, 0.8, "Tree"),
			},
			want: []Detection{
				box(0, 0, 10, 10, 0.9, "Tree"),
				box(9, 0, 19, 10, 0.8, "Tree"),
			},
		},
		{
			name: "ties keep input order",
			in: []Detection{
				box(0, 0, 5, 5, 0.5, "Tree"),
				box(20, 20, 25, 25, 0.5, "Tree"),
			},
			want: []Detection{
				box(0, 0, 5, 5, 0.5, "Tree"),
				box(20, 20, 25, 25, 0.5, "Tree"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nms(tt.in, DefaultIoUThreshold))
		})
	}
}

func TestCalculateIOU(t *testing.T) {
	a := box(0, 0, 10, 10, 1, "")
	assert.InDelta(t, 1.0, calculateIOU(a, a), 1e-12)
	assert.InDelta(t, 25.0/175.0, calculateIOU(a, box(5, 5, 15, 15, 1, "")), 1e-12)
	assert.Zero(t, calculateIOU(a, box(20, 20, 30, 30, 1, "")))
	assert.Zero(t, calculateIOU(box(0, 0, 0, 0, 1, ""), box(0, 0, 0, 0, 1, "")))
}
