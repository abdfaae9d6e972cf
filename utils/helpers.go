package utils

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"distilsum/params"
)

// Guard functions

func ChooseValidHeads(dModel, preferred int) int {
	if preferred <= 0 {
		return 1
	}
	if dModel%preferred == 0 {
		return preferred
	}
	best := 1
	limit := preferred
	if limit > dModel {
		limit = dModel
	}
	for h := limit; h >= 1; h-- {
		if dModel%h == 0 {
			fmt.Printf("Warning: using %d heads instead of %d\n", h, preferred)
			best = h
			break
		}
	}
	return best
}

func RandomArray(size int, v float64) []float64 {
	min := -1.0 / math.Sqrt(v+1e-12)
	max := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rand.Float64()
	}
	return out
}

func MatrixNorm(m *mat.Dense) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			s += v * v
		}
	}
	return math.Sqrt(s)
}

// ClipGrads rescales the grads in place so their combined L2 norm does not
// exceed maxNorm. Returns the scale applied (1.0 = untouched).
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	if maxNorm <= 0 {
		return 1.0
	}
	total := 0.0
	for _, g := range grads {
		if g == nil {
			continue
		}
		n := MatrixNorm(g)
		total += n * n
	}
	total = math.Sqrt(total)
	if total <= maxNorm || total == 0 {
		return 1.0
	}
	s := maxNorm / total
	for _, g := range grads {
		if g == nil {
			continue
		}
		g.Scale(s, g)
	}
	return s
}

// ------- LR schedule: linear warmup, then cosine decay --------

func LRSchedule(step int, peak float64) float64 {
	if step <= 0 {
		return 0
	}
	wu := params.Config.WarmupSteps
	dec := params.Config.DecaySteps
	if wu > 0 && step < wu {
		return peak * float64(step) / float64(wu)
	}
	if dec > 0 {
		x := float64(step-wu) / float64(dec)
		if x > 1 {
			x = 1
		} else if x < 0 {
			x = 0
		}
		scale := 0.5 * (1 + math.Cos(math.Pi*x))
		return peak * scale
	}
	return peak
}

// Debugf prints gated debug logs.
func Debugf(format string, args ...any) {
	if !params.Config.Debug {
		return
	}
	fmt.Printf("[debug] "+format+"\n", args...)
}
