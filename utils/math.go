package utils

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix conventions: activations are (dModel x T) with one column per
// token position; logits are (vocab x T). Softmax over the vocab therefore
// runs down columns.

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func OnesLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 1)
		}
	}
	return out
}

// AddBias adds a (r x 1) bias column to every column of m.
func AddBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	rb, cb := bias.Dims()
	if rb != r || cb != 1 {
		panic("addBias: bias must be (r x 1)")
	}
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, j)+bias.At(i, 0))
		}
	}
	return out
}

// CausalMask returns (T x T) with 0 on and below diagonal, -inf above.
func CausalMask(T int) *mat.Dense {
	out := mat.NewDense(T, T, nil)
	negInf := -1e30
	for i := 0; i < T; i++ {
		for j := 0; j < T; j++ {
			if j > i {
				out.Set(i, j, negInf)
			}
		}
	}
	return out
}

// KeyPadMask returns (Tq x Tk) additive mask with -inf at columns where the
// key position is padding. padMask is true at padding positions.
func KeyPadMask(Tq int, padMask []bool) *mat.Dense {
	Tk := len(padMask)
	out := mat.NewDense(Tq, Tk, nil)
	negInf := -1e30
	for j, pad := range padMask {
		if !pad {
			continue
		}
		for i := 0; i < Tq; i++ {
			out.Set(i, j, negInf)
		}
	}
	return out
}

// RowSoftmaxMaskedInPlace writes softmax(m+mask) into dst (r x c) in place.
func RowSoftmaxMaskedInPlace(dst, m, mask *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	if dr, dc := dst.Dims(); dr != r || dc != c {
		panic("RowSoftmaxMaskedInPlace: dst shape mismatch")
	}
	if mr, mc := mask.Dims(); mr != r || mc != c {
		panic("RowSoftmaxMaskedInPlace: mask shape mismatch")
	}
	for i := 0; i < r; i++ {
		mx := m.At(i, 0) + mask.At(i, 0)
		for j := 1; j < c; j++ {
			v := m.At(i, j) + mask.At(i, j)
			if v > mx {
				mx = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(m.At(i, j) + mask.At(i, j) - mx)
			dst.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < c; j++ {
			dst.Set(i, j, dst.At(i, j)*inv)
		}
	}
	return dst
}

// RowSoftmax applies softmax independently to each row across columns.
// Used by attention (row sums should be 1).
func RowSoftmax(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	row := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			row[j] = m.At(i, j)
		}
		mx := row[0]
		for _, v := range row {
			if v > mx {
				mx = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			row[j] = math.Exp(row[j] - mx)
			sum += row[j]
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, row[j]/sum)
		}
	}
	return out
}

// ColSoftmax applies softmax down each column (logits -> probabilities,
// vocab along rows).
func ColSoftmax(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		mx := m.At(0, j)
		for i := 1; i < r; i++ {
			if m.At(i, j) > mx {
				mx = m.At(i, j)
			}
		}
		sum := 0.0
		for i := 0; i < r; i++ {
			e := math.Exp(m.At(i, j) - mx)
			out.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for i := 0; i < r; i++ {
			out.Set(i, j, out.At(i, j)*inv)
		}
	}
	return out
}

// ColLogSoftmax is the numerically stable log of ColSoftmax.
func ColLogSoftmax(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for j := 0; j < c; j++ {
		mx := m.At(0, j)
		for i := 1; i < r; i++ {
			if m.At(i, j) > mx {
				mx = m.At(i, j)
			}
		}
		sum := 0.0
		for i := 0; i < r; i++ {
			sum += math.Exp(m.At(i, j) - mx)
		}
		lse := mx + math.Log(sum)
		for i := 0; i < r; i++ {
			out.Set(i, j, m.At(i, j)-lse)
		}
	}
	return out
}

// SoftmaxBackward for row-wise softmax used in attention.
// Vector-JVP form: for each row i,
// s = sum_k dA[i,k] * A[i,k]; dS[i,j] = A[i,j] * (dA[i,j] - s)
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// -------- GELU activation --------
// gelu(x) = 0.5 * x * (1 + tanh( sqrt(2/pi) * (x + 0.044715*x^3) ))

func GeluApply(i, j int, x float64) float64 {
	const k = 0.7978845608028654 // sqrt(2/pi)
	t := k * (x + 0.044715*x*x*x)
	return 0.5 * x * (1.0 + math.Tanh(t))
}

func GeluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	const k = 0.7978845608028654 // sqrt(2/pi)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			t := k * (x + 0.044715*x*x*x)
			th := math.Tanh(t)
			cosh := math.Cosh(t)
			sech2 := 1.0 / (cosh * cosh)
			dt := k * (1.0 + 3.0*0.044715*x*x)
			grad := 0.5*(1.0+th) + 0.5*x*sech2*dt
			out.Set(i, j, grad)
		}
	}
	return out
}

// ---------- Loss ----------

// CrossEntropyMasked computes the mean token-level CE over columns of
// logits (vocab x T) against labels, skipping positions labeled ignore.
// Returns the loss and dLogits (vocab x T), already divided by the number
// of counted positions. Columns with an ignored label get a zero gradient.
func CrossEntropyMasked(logits *mat.Dense, labels []int, ignore int) (float64, *mat.Dense) {
	V, T := logits.Dims()
	if len(labels) != T {
		panic("CrossEntropyMasked: labels length mismatch")
	}
	grad := mat.NewDense(V, T, nil)
	probs := ColSoftmax(logits)
	loss := 0.0
	count := 0
	for t := 0; t < T; t++ {
		gold := labels[t]
		if gold == ignore {
			continue
		}
		if gold < 0 || gold >= V {
			gold = 0
		}
		loss += -math.Log(probs.At(gold, t) + 1e-12)
		for i := 0; i < V; i++ {
			grad.Set(i, t, probs.At(i, t))
		}
		grad.Set(gold, t, grad.At(gold, t)-1.0)
		count++
	}
	if count == 0 {
		return 0, grad
	}
	inv := 1.0 / float64(count)
	loss *= inv
	grad.Scale(inv, grad)
	return loss, grad
}
