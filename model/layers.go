package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"distilsum/optimizations"
	"distilsum/utils"
)

// Residual branches are scaled by 1/sqrt(2) to keep activation variance
// stable across depth.
var resScale = 1 / math.Sqrt(2)

// EncoderLayer: pre-LN bidirectional self-attention + MLP.
type EncoderLayer struct {
	SelfAttn *Attention
	Mlp      *MLP
	Ln1      *optimizations.LayerNorm
	Ln2      *optimizations.LayerNorm
}

func NewEncoderLayer(dModel, hidden, nHeads int, lr float64) *EncoderLayer {
	return &EncoderLayer{
		SelfAttn: NewAttention(dModel, nHeads, lr, false),
		Mlp:      NewMLP(dModel, hidden, lr),
		Ln1:      optimizations.NewLayerNorm(dModel, 1e-5, lr),
		Ln2:      optimizations.NewLayerNorm(dModel, 1e-5, lr),
	}
}

func (l *EncoderLayer) Forward(X *mat.Dense, padMask []bool) *mat.Dense {
	x1 := l.Ln1.Forward(X)
	attnOut := l.SelfAttn.Forward(x1, x1, padMask)
	xRes := utils.ToDense(utils.Add(X, utils.Scale(resScale, attnOut)))
	x2 := l.Ln2.Forward(xRes)
	mlpOut := l.Mlp.Forward(x2)
	return utils.ToDense(utils.Add(xRes, utils.Scale(resScale, mlpOut)))
}

// Backward propagates grads and lets each submodule update itself.
func (l *EncoderLayer) Backward(dY *mat.Dense) *mat.Dense {
	dX2 := l.Mlp.Backward(utils.ToDense(utils.Scale(resScale, dY)))
	dXresLn2 := l.Ln2.Backward(dX2)
	dXres := utils.ToDense(utils.Add(dY, dXresLn2))
	dQ, dKV := l.SelfAttn.Backward(utils.ToDense(utils.Scale(resScale, dXres)))
	dX1 := utils.ToDense(utils.Add(dQ, dKV)) // self-attention: same input both paths
	dXLn1 := l.Ln1.Backward(dX1)
	return utils.ToDense(utils.Add(dXres, dXLn1))
}

func (l *EncoderLayer) SetTrainable(v bool) {
	l.SelfAttn.Trainable = v
	l.Mlp.Trainable = v
	l.Ln1.Trainable = v
	l.Ln2.Trainable = v
}

func (l *EncoderLayer) SetLearningRate(lr float64) {
	l.SelfAttn.LearningRate = lr
	l.Mlp.LearningRate = lr
	l.Ln1.LearningRate = lr
	l.Ln2.LearningRate = lr
}

// DecoderLayer: causal self-attention, cross-attention over the encoder
// output, then MLP; pre-LN around each sublayer.
type DecoderLayer struct {
	SelfAttn  *Attention
	CrossAttn *Attention
	Mlp       *MLP
	Ln1       *optimizations.LayerNorm
	Ln2       *optimizations.LayerNorm
	Ln3       *optimizations.LayerNorm
}

func NewDecoderLayer(dModel, hidden, nHeads int, lr float64) *DecoderLayer {
	return &DecoderLayer{
		SelfAttn:  NewAttention(dModel, nHeads, lr, true),
		CrossAttn: NewAttention(dModel, nHeads, lr, false),
		Mlp:       NewMLP(dModel, hidden, lr),
		Ln1:       optimizations.NewLayerNorm(dModel, 1e-5, lr),
		Ln2:       optimizations.NewLayerNorm(dModel, 1e-5, lr),
		Ln3:       optimizations.NewLayerNorm(dModel, 1e-5, lr),
	}
}

// Forward runs one decoder layer. mem is the encoder output (d x Tsrc);
// memPad is true at padded source positions.
func (l *DecoderLayer) Forward(X, mem *mat.Dense, memPad []bool) *mat.Dense {
	x1 := l.Ln1.Forward(X)
	sa := l.SelfAttn.Forward(x1, x1, nil)
	xa := utils.ToDense(utils.Add(X, utils.Scale(resScale, sa)))

	x2 := l.Ln2.Forward(xa)
	ca := l.CrossAttn.Forward(x2, mem, memPad)
	xb := utils.ToDense(utils.Add(xa, utils.Scale(resScale, ca)))

	x3 := l.Ln3.Forward(xb)
	mlpOut := l.Mlp.Forward(x3)
	return utils.ToDense(utils.Add(xb, utils.Scale(resScale, mlpOut)))
}

// Backward returns the grad wrt the layer input and wrt the encoder output.
func (l *DecoderLayer) Backward(dY *mat.Dense) (dX, dMem *mat.Dense) {
	dX3 := l.Mlp.Backward(utils.ToDense(utils.Scale(resScale, dY)))
	dXbLn3 := l.Ln3.Backward(dX3)
	dXb := utils.ToDense(utils.Add(dY, dXbLn3))

	dX2, dMem := l.CrossAttn.Backward(utils.ToDense(utils.Scale(resScale, dXb)))
	dXaLn2 := l.Ln2.Backward(dX2)
	dXa := utils.ToDense(utils.Add(dXb, dXaLn2))

	dQ, dKV := l.SelfAttn.Backward(utils.ToDense(utils.Scale(resScale, dXa)))
	dX1 := utils.ToDense(utils.Add(dQ, dKV))
	dXLn1 := l.Ln1.Backward(dX1)
	dX = utils.ToDense(utils.Add(dXa, dXLn1))
	return dX, dMem
}

func (l *DecoderLayer) SetTrainable(v bool) {
	l.SelfAttn.Trainable = v
	l.CrossAttn.Trainable = v
	l.Mlp.Trainable = v
	l.Ln1.Trainable = v
	l.Ln2.Trainable = v
	l.Ln3.Trainable = v
}

func (l *DecoderLayer) SetLearningRate(lr float64) {
	l.SelfAttn.LearningRate = lr
	l.CrossAttn.LearningRate = lr
	l.Mlp.LearningRate = lr
	l.Ln1.LearningRate = lr
	l.Ln2.LearningRate = lr
	l.Ln3.LearningRate = lr
}
