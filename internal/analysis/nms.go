package analysis

import (
	"cmp"
	"slices"
)

// nms runs greedy non-max suppression independently for every label:
// boxes are visited by descending score and a box is dropped when its IoU
// with an already kept box of the same label reaches iouThreshold. The
// result is ordered by descending score, ties keep their input order.
func nms(dets []Detection, iouThreshold float64) []Detection {
	if len(dets) == 0 {
		return nil
	}

	sorted := slices.Clone(dets)
	slices.SortStableFunc(sorted, func(a, b Detection) int {
		return cmp.Compare(b.Score, a.Score)
	})

	kept := make([]Detection, 0, len(sorted))
	keptByLabel := make(map[string][]int)
	for _, cand := range sorted {
		suppressed := false
		for _, k := range keptByLabel[cand.Label] {
			if calculateIOU(kept[k], cand) >= iouThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			continue
		}
		keptByLabel[cand.Label] = append(keptByLabel[cand.Label], len(kept))
		kept = append(kept, cand)
	}
	return kept
}

func calculateIOU(a, b Detection) float64 {
	ix1 := max(a.XMin, b.XMin)
	iy1 := max(a.YMin, b.YMin)
	ix2 := min(a.XMax, b.XMax)
	iy2 := min(a.YMax, b.YMax)

	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
