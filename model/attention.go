package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"distilsum/optimizations"
	"distilsum/params"
	"distilsum/utils"
)

// Attention is multi-head attention over column-per-token matrices.
// Queries come from X, keys and values from M. Self-attention passes the
// same matrix for both; cross-attention passes the encoder output as M.
type Attention struct {
	H            int
	DModel       int
	DHead        int
	Wquery       []*mat.Dense
	Wkey         []*mat.Dense
	Wvalue       []*mat.Dense
	Woutput      *mat.Dense
	LearningRate float64
	Causal       bool
	Trainable    bool

	// Adam
	T        int
	MWq, VWq []*mat.Dense
	MWk, VWk []*mat.Dense
	MWv, VWv []*mat.Dense
	MWo, VWo *mat.Dense

	// cache for backprop
	X, M    *mat.Dense
	Q, K, V []*mat.Dense
	Scores  []*mat.Dense
	A       []*mat.Dense
	OCat    *mat.Dense
}

func NewAttention(dModel, nHeads int, lr float64, causal bool) *Attention {
	if dModel%nHeads != 0 {
		panic("dModel must be divisible by nHeads")
	}
	dHead := dModel / nHeads
	attn := &Attention{
		H:            nHeads,
		DModel:       dModel,
		DHead:        dHead,
		LearningRate: lr,
		Causal:       causal,
		Trainable:    true,
		Wquery:       make([]*mat.Dense, nHeads),
		Wkey:         make([]*mat.Dense, nHeads),
		Wvalue:       make([]*mat.Dense, nHeads),

		MWq: make([]*mat.Dense, nHeads),
		VWq: make([]*mat.Dense, nHeads),
		MWk: make([]*mat.Dense, nHeads),
		VWk: make([]*mat.Dense, nHeads),
		MWv: make([]*mat.Dense, nHeads),
		VWv: make([]*mat.Dense, nHeads),

		Q:      make([]*mat.Dense, nHeads),
		K:      make([]*mat.Dense, nHeads),
		V:      make([]*mat.Dense, nHeads),
		Scores: make([]*mat.Dense, nHeads),
		A:      make([]*mat.Dense, nHeads),
	}
	for h := 0; h < nHeads; h++ {
		attn.Wquery[h] = mat.NewDense(dHead, dModel, utils.RandomArray(dHead*dModel, float64(dModel)))
		attn.Wkey[h] = mat.NewDense(dHead, dModel, utils.RandomArray(dHead*dModel, float64(dModel)))
		attn.Wvalue[h] = mat.NewDense(dHead, dModel, utils.RandomArray(dHead*dModel, float64(dModel)))

		attn.MWq[h] = mat.NewDense(dHead, dModel, nil)
		attn.VWq[h] = mat.NewDense(dHead, dModel, nil)
		attn.MWk[h] = mat.NewDense(dHead, dModel, nil)
		attn.VWk[h] = mat.NewDense(dHead, dModel, nil)
		attn.MWv[h] = mat.NewDense(dHead, dModel, nil)
		attn.VWv[h] = mat.NewDense(dHead, dModel, nil)
	}
	attn.Woutput = mat.NewDense(dModel, dModel, utils.RandomArray(dModel*dModel, float64(dModel)))
	attn.MWo = mat.NewDense(dModel, dModel, nil)
	attn.VWo = mat.NewDense(dModel, dModel, nil)
	return attn
}

// Forward computes attention of X over M. keyPad is true at padded key
// positions of M and may be nil. Causal attention additionally masks
// future positions (requires X == M shapes).
func (attn *Attention) Forward(X, M *mat.Dense, keyPad []bool) *mat.Dense {
	attn.X = X
	attn.M = M
	_, Tq := X.Dims()
	_, Tk := M.Dims()
	headsCat := mat.NewDense(attn.DModel, Tq, nil)

	rescale := 1.0 / math.Sqrt(float64(attn.DHead))

	mask := mat.NewDense(Tq, Tk, nil)
	if attn.Causal {
		if Tq != Tk {
			panic("causal attention expects square scores")
		}
		mask = utils.CausalMask(Tq)
	}
	if keyPad != nil {
		mask = utils.ToDense(utils.Add(mask, utils.KeyPadMask(Tq, keyPad)))
	}

	for h := 0; h < attn.H; h++ {
		attn.Q[h] = mat.NewDense(attn.DHead, Tq, nil)
		attn.K[h] = mat.NewDense(attn.DHead, Tk, nil)
		attn.V[h] = mat.NewDense(attn.DHead, Tk, nil)
		attn.Scores[h] = mat.NewDense(Tq, Tk, nil)
		attn.A[h] = mat.NewDense(Tq, Tk, nil)

		attn.Q[h].Mul(attn.Wquery[h], X)
		attn.K[h].Mul(attn.Wkey[h], M)
		attn.V[h].Mul(attn.Wvalue[h], M)
		// S = (Q^T K)/sqrt(dHead) + mask
		attn.Scores[h].Mul(attn.Q[h].T(), attn.K[h])
		attn.Scores[h].Scale(rescale, attn.Scores[h])
		utils.RowSoftmaxMaskedInPlace(attn.A[h], attn.Scores[h], mask)
		// O = V * A^T
		var o mat.Dense
		o.Mul(attn.V[h], attn.A[h].T())
		base := h * attn.DHead
		dst := headsCat.Slice(base, base+attn.DHead, 0, Tq).(*mat.Dense)
		dst.Copy(&o)
	}
	attn.OCat = headsCat
	return utils.ToDense(utils.Dot(attn.Woutput, headsCat))
}

// Backward computes input grads and, when trainable, applies AdamW updates.
// Returns dX (query path) and dM (key/value path). Self-attention callers
// must add the two.
func (attn *Attention) Backward(dY *mat.Dense) (dX, dM *mat.Dense) {
	dX, dM, dWq, dWk, dWv, dWo := attn.BackwardGradsOnly(dY)
	if !attn.Trainable {
		return dX, dM
	}

	attn.T++
	lr := attn.LearningRate

	if params.Config.GradClip > 0 {
		grads := []*mat.Dense{dWo}
		for h := 0; h < attn.H; h++ {
			grads = append(grads, dWq[h], dWk[h], dWv[h])
		}
		s := utils.ClipGrads(params.Config.GradClip, grads...)
		if s < 1.0 && params.Config.Debug && attn.T%params.Config.DebugEvery == 0 {
			utils.Debugf("Attn: clipped grads by %.4f at step %d", s, attn.T)
		}
	}

	for h := 0; h < attn.H; h++ {
		optimizations.AdamUpdateInPlace(attn.Wquery[h], dWq[h], attn.MWq[h], attn.VWq[h],
			attn.T, lr, params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps,
			params.Config.WeightDecay)
		optimizations.AdamUpdateInPlace(attn.Wkey[h], dWk[h], attn.MWk[h], attn.VWk[h],
			attn.T, lr, params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps,
			params.Config.WeightDecay)
		optimizations.AdamUpdateInPlace(attn.Wvalue[h], dWv[h], attn.MWv[h], attn.VWv[h],
			attn.T, lr, params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps,
			params.Config.WeightDecay)
	}
	optimizations.AdamUpdateInPlace(attn.Woutput, dWo, attn.MWo, attn.VWo, attn.T, lr,
		params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps, params.Config.WeightDecay)

	return dX, dM
}

// BackwardGradsOnly computes all grads without touching the weights.
func (attn *Attention) BackwardGradsOnly(dY *mat.Dense) (
	dX, dM *mat.Dense,
	dWq, dWk, dWv []*mat.Dense,
	dWo *mat.Dense,
) {
	dWq = make([]*mat.Dense, attn.H)
	dWk = make([]*mat.Dense, attn.H)
	dWv = make([]*mat.Dense, attn.H)

	_, Tq := attn.X.Dims()
	_, Tk := attn.M.Dims()

	// Y = Wout * Ocat
	dWo = utils.ToDense(utils.Dot(dY, attn.OCat.T()))
	dOcat := utils.ToDense(utils.Dot(attn.Woutput.T(), dY))

	dX = mat.NewDense(attn.DModel, Tq, nil)
	dM = mat.NewDense(attn.DModel, Tk, nil)

	row := 0
	rescale := 1.0 / math.Sqrt(float64(attn.DHead))

	for h := 0; h < attn.H; h++ {
		dO := dOcat.Slice(row, row+attn.DHead, 0, Tq).(*mat.Dense)
		row += attn.DHead

		// O = V * A^T
		dV := utils.ToDense(utils.Dot(dO, attn.A[h]))       // (dHead x Tk)
		dAT := utils.ToDense(utils.Dot(attn.V[h].T(), dO))  // (Tk x Tq)
		dA := dAT.T()

		// A = softmax_row(S)
		dS := utils.SoftmaxBackward(dA, attn.A[h]) // (Tq x Tk)

		// S = Q^T K / sqrt(dHead)
		dQ := utils.ToDense(utils.Scale(rescale, utils.Dot(attn.K[h], dS.T()))) // (dHead x Tq)
		dK := utils.ToDense(utils.Scale(rescale, utils.Dot(attn.Q[h], dS)))     // (dHead x Tk)

		// Params
		dWq[h] = utils.ToDense(utils.Dot(dQ, attn.X.T()))
		dWk[h] = utils.ToDense(utils.Dot(dK, attn.M.T()))
		dWv[h] = utils.ToDense(utils.Dot(dV, attn.M.T()))

		// Inputs
		dX.Add(dX, utils.ToDense(utils.Dot(attn.Wquery[h].T(), dQ)))
		dM.Add(dM, utils.ToDense(utils.Dot(attn.Wkey[h].T(), dK)))
		dM.Add(dM, utils.ToDense(utils.Dot(attn.Wvalue[h].T(), dV)))
	}
	return dX, dM, dWq, dWk, dWv, dWo
}
