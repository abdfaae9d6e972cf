package utils

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestColSoftmaxColumnsSumToOne(t *testing.T) {
	m := mat.NewDense(4, 3, []float64{
		1, -2, 0.5,
		3, 0, -1,
		-1, 5, 2,
		0, 1, 1,
	})
	p := ColSoftmax(m)
	for j := 0; j < 3; j++ {
		sum := 0.0
		for i := 0; i < 4; i++ {
			v := p.At(i, j)
			if v <= 0 || v >= 1 {
				t.Fatalf("probability out of range at (%d,%d): %v", i, j, v)
			}
			sum += v
		}
		if math.Abs(sum-1.0) > 1e-12 {
			t.Fatalf("column %d sums to %v", j, sum)
		}
	}
}

func TestColLogSoftmaxMatchesSoftmax(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{2, -1, 0, 4, -3, 1})
	p := ColSoftmax(m)
	lp := ColLogSoftmax(m)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			if math.Abs(math.Exp(lp.At(i, j))-p.At(i, j)) > 1e-12 {
				t.Fatalf("exp(log_softmax) != softmax at (%d,%d)", i, j)
			}
		}
	}
}

func TestColLogSoftmaxStableAtLargeLogits(t *testing.T) {
	m := mat.NewDense(2, 1, []float64{1e4, 1e4 - 1})
	lp := ColLogSoftmax(m)
	for i := 0; i < 2; i++ {
		v := lp.At(i, 0)
		if math.IsNaN(v) || math.IsInf(v, 0) || v > 0 {
			t.Fatalf("unstable log-softmax: %v", v)
		}
	}
}

func TestCrossEntropyMaskedSkipsIgnored(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		2, 0, 1,
		0, 3, 0,
		1, 1, 2,
	})
	ignore := -100
	loss, grad := CrossEntropyMasked(logits, []int{0, ignore, 2}, ignore)

	if loss <= 0 {
		t.Fatalf("loss = %v", loss)
	}
	// ignored column gets no gradient
	for i := 0; i < 3; i++ {
		if grad.At(i, 1) != 0 {
			t.Fatal("gradient leaked into ignored column")
		}
	}
	// counted columns: gradient sums to zero (softmax minus one-hot)
	for _, j := range []int{0, 2} {
		sum := 0.0
		for i := 0; i < 3; i++ {
			sum += grad.At(i, j)
		}
		if math.Abs(sum) > 1e-12 {
			t.Fatalf("column %d gradient sums to %v", j, sum)
		}
	}

	// all ignored: zero loss, zero grad
	loss, grad = CrossEntropyMasked(logits, []int{ignore, ignore, ignore}, ignore)
	if loss != 0 {
		t.Fatalf("all-ignored loss = %v", loss)
	}
	if MatrixNorm(grad) != 0 {
		t.Fatal("all-ignored gradient must be zero")
	}
}

func TestCausalMask(t *testing.T) {
	m := CausalMask(3)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := m.At(i, j)
			if j > i && v >= 0 {
				t.Fatalf("future position (%d,%d) not masked", i, j)
			}
			if j <= i && v != 0 {
				t.Fatalf("visible position (%d,%d) masked", i, j)
			}
		}
	}
}

func TestKeyPadMask(t *testing.T) {
	m := KeyPadMask(2, []bool{false, true, false})
	for i := 0; i < 2; i++ {
		if m.At(i, 1) >= 0 {
			t.Fatal("padded key not masked")
		}
		if m.At(i, 0) != 0 || m.At(i, 2) != 0 {
			t.Fatal("real key masked")
		}
	}
}

func TestRowSoftmaxMaskedZerosMaskedEntries(t *testing.T) {
	scores := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	mask := CausalMask(2)
	dst := mat.NewDense(2, 2, nil)
	RowSoftmaxMaskedInPlace(dst, scores, mask)

	if math.Abs(dst.At(0, 0)-1.0) > 1e-12 || dst.At(0, 1) > 1e-12 {
		t.Fatal("first row should attend only to position 0")
	}
	if math.Abs(dst.At(1, 0)+dst.At(1, 1)-1.0) > 1e-12 {
		t.Fatal("second row does not sum to 1")
	}
}

func TestClipGrads(t *testing.T) {
	g := mat.NewDense(1, 2, []float64{3, 4}) // norm 5
	scale := ClipGrads(1.0, g)
	if math.Abs(scale-0.2) > 1e-12 {
		t.Fatalf("scale = %v, want 0.2", scale)
	}
	if math.Abs(MatrixNorm(g)-1.0) > 1e-9 {
		t.Fatalf("clipped norm = %v", MatrixNorm(g))
	}

	g2 := mat.NewDense(1, 2, []float64{0.3, 0.4})
	scale = ClipGrads(1.0, g2)
	if scale != 1.0 {
		t.Fatalf("small gradient was scaled by %v", scale)
	}
}
