package distill

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"distilsum/utils"
)

func randLogits(V, T int, seed int64) *mat.Dense {
	r := rand.New(rand.NewSource(seed))
	out := mat.NewDense(V, T, nil)
	for i := 0; i < V; i++ {
		for t := 0; t < T; t++ {
			out.Set(i, t, r.NormFloat64())
		}
	}
	return out
}

func TestSoftTargetLossZeroAtEqualLogits(t *testing.T) {
	s := randLogits(8, 4, 1)
	tt := mat.DenseCopyOf(s)

	loss, grad, err := SoftTargetLoss(s, tt, nil, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(loss) > 1e-12 {
		t.Fatalf("KL of identical distributions = %g, want 0", loss)
	}
	if norm := utils.MatrixNorm(grad); norm > 1e-12 {
		t.Fatalf("gradient norm %g at the minimum, want 0", norm)
	}
}

func TestSoftTargetLossIgnoresPaddedColumns(t *testing.T) {
	V, T := 6, 4
	s := randLogits(V, T, 2)
	tch := randLogits(V, T, 3)
	padMask := []bool{false, false, true, false}

	loss1, grad1, err := SoftTargetLoss(s, tch, padMask, 2.0)
	if err != nil {
		t.Fatal(err)
	}

	// perturbing the padded column must not move loss or gradient
	s2 := mat.DenseCopyOf(s)
	t2 := mat.DenseCopyOf(tch)
	for i := 0; i < V; i++ {
		s2.Set(i, 2, s2.At(i, 2)+7.5)
		t2.Set(i, 2, t2.At(i, 2)-3.25)
	}
	loss2, grad2, err := SoftTargetLoss(s2, t2, padMask, 2.0)
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(loss1-loss2) > 1e-12 {
		t.Fatalf("padded column leaked into loss: %g vs %g", loss1, loss2)
	}
	if !mat.EqualApprox(grad1, grad2, 1e-12) {
		t.Fatal("padded column leaked into gradient")
	}
	for i := 0; i < V; i++ {
		if grad1.At(i, 2) != 0 {
			t.Fatal("gradient nonzero at padded column")
		}
	}
}

func TestSoftTargetLossAllPadded(t *testing.T) {
	s := randLogits(6, 3, 4)
	tch := randLogits(6, 3, 5)
	padMask := []bool{true, true, true}

	loss, grad, err := SoftTargetLoss(s, tch, padMask, 2.0)
	if err != nil {
		t.Fatal(err)
	}
	if loss != 0 {
		t.Fatalf("all-padded loss = %g, want 0", loss)
	}
	if utils.MatrixNorm(grad) != 0 {
		t.Fatal("all-padded gradient must be zero")
	}
}

func TestSoftTargetLossGradientFiniteDiff(t *testing.T) {
	V, T := 5, 3
	s := randLogits(V, T, 6)
	tch := randLogits(V, T, 7)
	padMask := []bool{false, false, true}
	temp := 2.0

	_, grad, err := SoftTargetLoss(s, tch, padMask, temp)
	if err != nil {
		t.Fatal(err)
	}

	forward := func() float64 {
		loss, _, err := SoftTargetLoss(s, tch, padMask, temp)
		if err != nil {
			t.Fatal(err)
		}
		return loss
	}

	eps := 1e-5
	for _, pos := range [][2]int{{0, 0}, {3, 1}, {4, 0}} {
		i, j := pos[0], pos[1]
		w0 := s.At(i, j)
		s.Set(i, j, w0+eps)
		lp := forward()
		s.Set(i, j, w0-eps)
		lm := forward()
		s.Set(i, j, w0)

		numGrad := (lp - lm) / (2.0 * eps)
		anaGrad := grad.At(i, j)
		if math.Abs(numGrad-anaGrad) > 1e-4 {
			t.Fatalf("grad[%d,%d] mismatch: num=%.6g ana=%.6g", i, j, numGrad, anaGrad)
		}
	}
}

func TestSoftTargetLossShapeMismatch(t *testing.T) {
	s := randLogits(6, 4, 8)
	tch := randLogits(6, 3, 9)

	_, _, err := SoftTargetLoss(s, tch, nil, 2.0)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("mismatched logits: want ErrShapeMismatch, got %v", err)
	}

	tch = randLogits(6, 4, 10)
	_, _, err = SoftTargetLoss(s, tch, []bool{false, true}, 2.0)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("bad mask length: want ErrShapeMismatch, got %v", err)
	}
}

func TestBlendWeights(t *testing.T) {
	b := Blend(3.0, 5.0, 1.0, 0.0)
	assert.Equal(t, 3.0, b.Blended, "alphaMLM=0 reduces to the soft-target loss")

	b = Blend(3.0, 5.0, 0.0, 1.0)
	assert.Equal(t, 5.0, b.Blended, "alphaCE=0 reduces to the supervised loss")

	b = Blend(3.0, 5.0, 0.8, 0.2)
	assert.InDelta(t, 0.8*3.0+0.2*5.0, b.Blended, 1e-12)
	assert.Equal(t, 3.0, b.SoftTarget)
	assert.Equal(t, 5.0, b.LM)
}
