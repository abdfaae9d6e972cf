package distill

import (
	"errors"
	"fmt"
)

// ErrDepthIncompatible reports a teacher/student depth combination the
// selection policy cannot satisfy.
var ErrDepthIncompatible = errors.New("incompatible decoder depths")

// sixLayerPicks is the hand-tuned selection for 6-layer students, biased
// toward the deeper teacher layers.
var sixLayerPicks = []int{0, 2, 4, 7, 9, 11}

// DefaultStudentDepth is the decoder depth used when none is configured.
func DefaultStudentDepth(teacherLayers int) int {
	return teacherLayers / 2
}

// LayersToCopy returns the ordered teacher decoder-layer indices whose
// weights seed the student's decoder layers. A 6-layer student uses the
// fixed hand-tuned set; any other depth takes every second teacher layer
// starting at 0. Depths the policy cannot satisfy are an error, never a
// silent truncation.
func LayersToCopy(teacherLayers, studentLayers int) ([]int, error) {
	if teacherLayers <= 0 || studentLayers <= 0 {
		return nil, fmt.Errorf("teacher %d / student %d layers: %w",
			teacherLayers, studentLayers, ErrDepthIncompatible)
	}
	if studentLayers == len(sixLayerPicks) {
		last := sixLayerPicks[len(sixLayerPicks)-1]
		if last >= teacherLayers {
			return nil, fmt.Errorf("6-layer selection needs a teacher deeper than %d, have %d: %w",
				last, teacherLayers, ErrDepthIncompatible)
		}
		return append([]int(nil), sixLayerPicks...), nil
	}
	// stride-2 downsampling from layer 0
	if 2*(studentLayers-1) >= teacherLayers {
		return nil, fmt.Errorf("stride-2 selection of %d layers exceeds teacher depth %d: %w",
			studentLayers, teacherLayers, ErrDepthIncompatible)
	}
	out := make([]int, studentLayers)
	for i := range out {
		out[i] = 2 * i
	}
	return out, nil
}
