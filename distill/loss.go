package distill

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"distilsum/utils"
)

// LossBundle holds the named loss components of one training step.
type LossBundle struct {
	Blended    float64 // alphaCE*SoftTarget + alphaMLM*LM; backpropagated
	SoftTarget float64 // temperature-scaled KL against the teacher
	LM         float64 // supervised token cross-entropy
}

// SoftTargetLoss computes the teacher-imitation loss between student and
// teacher logits (both vocab x T, one column per decoder position).
//
// padMask is true at padding positions; it is inverted exactly once to
// select real-token columns from both tensors (nil selects everything).
// The selected columns are treated as a flat (tokens x vocab) batch and the
// loss is KL(softmax(t/temp) || log_softmax(s/temp)) with batchmean
// reduction, scaled by temp^2 so gradient magnitude stays comparable
// across temperatures.
//
// The returned gradient is wrt the student logits, zero at padded
// positions, and already includes the batchmean normalization. The KL
// direction is fixed: the teacher is the target distribution.
func SoftTargetLoss(sLogits, tLogits *mat.Dense, padMask []bool, temperature float64) (float64, *mat.Dense, error) {
	V, T := sLogits.Dims()
	tv, tt := tLogits.Dims()
	if tv != V || tt != T {
		return 0, nil, fmt.Errorf("student logits (%d x %d) vs teacher (%d x %d): %w",
			V, T, tv, tt, ErrShapeMismatch)
	}
	if padMask != nil && len(padMask) != T {
		return 0, nil, fmt.Errorf("padding mask length %d for %d positions: %w",
			len(padMask), T, ErrShapeMismatch)
	}

	keep := make([]bool, T)
	n := 0
	for t := 0; t < T; t++ {
		// invert: mask is true at padding, we keep real tokens
		keep[t] = padMask == nil || !padMask[t]
		if keep[t] {
			n++
		}
	}

	grad := mat.NewDense(V, T, nil)
	if n == 0 {
		return 0, grad, nil
	}

	invTemp := 1.0 / temperature
	sScaled := utils.ToDense(utils.Scale(invTemp, sLogits))
	tScaled := utils.ToDense(utils.Scale(invTemp, tLogits))
	sLog := utils.ColLogSoftmax(sScaled) // log q
	tLog := utils.ColLogSoftmax(tScaled) // log p

	klSum := 0.0
	gradScale := temperature / float64(n) // d(temp^2 * kl/n)/ds
	for t := 0; t < T; t++ {
		if !keep[t] {
			continue
		}
		for i := 0; i < V; i++ {
			p := math.Exp(tLog.At(i, t))
			q := math.Exp(sLog.At(i, t))
			klSum += p * (tLog.At(i, t) - sLog.At(i, t))
			grad.Set(i, t, gradScale*(q-p))
		}
	}

	loss := temperature * temperature * klSum / float64(n)
	return loss, grad, nil
}

// Blend combines the soft-target and supervised losses. The weights need
// not sum to one.
func Blend(softTarget, supervised, alphaCE, alphaMLM float64) LossBundle {
	return LossBundle{
		Blended:    alphaCE*softTarget + alphaMLM*supervised,
		SoftTarget: softTarget,
		LM:         supervised,
	}
}
