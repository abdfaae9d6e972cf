package model

import (
	"gonum.org/v1/gonum/mat"

	"distilsum/optimizations"
	"distilsum/params"
	"distilsum/utils"
)

// Model is a sequence-to-sequence transformer with a tied token embedding:
// the Shared table (dModel x vocab) embeds source and target tokens and
// projects decoder states back to vocabulary logits.
type Model struct {
	Cfg Config

	Shared  *mat.Dense // (d x V) tied embedding / unembedding
	EncPos  *mat.Dense // (d x MaxSourceLen) learned positions, encoder side
	DecPos  *mat.Dense // (d x MaxTargetLen) learned positions, decoder side
	Encoder []*EncoderLayer
	Decoder []*DecoderLayer

	// Trainability flags. The freeze policy flips these; Backward honors
	// them so frozen tensors are excluded from updates by construction.
	SharedTrainable  bool
	EncPosTrainable  bool
	DecPosTrainable  bool
	DecTokTrainable  bool // decoder token-embedding view of Shared
	EncoderTrainable bool

	LearningRate float64

	// Adam state for the embedding tables
	SharedM, SharedV *mat.Dense
	SharedT          int
	EncPosM, EncPosV *mat.Dense
	EncPosT          int
	DecPosM, DecPosV *mat.Dense
	DecPosT          int

	// caches from the last Forward, consumed by Backward
	lastSrcIDs  []int
	lastDecIDs  []int
	lastSrcPad  []bool
	lastEncOut  *mat.Dense
	lastDecY    *mat.Dense
	LastPadMask []bool // decoder-input padding (true at pad)
}

func NewModel(cfg Config) *Model {
	d := cfg.DModel
	nHeads := utils.ChooseValidHeads(d, cfg.NumHeads)
	lr := params.Config.LearningRate

	m := &Model{
		Cfg:    cfg,
		Shared: mat.NewDense(d, cfg.VocabSize, utils.RandomArray(d*cfg.VocabSize, float64(d))),
		EncPos: mat.NewDense(d, cfg.MaxSourceLen, utils.RandomArray(d*cfg.MaxSourceLen, float64(d))),
		DecPos: mat.NewDense(d, cfg.MaxTargetLen, utils.RandomArray(d*cfg.MaxTargetLen, float64(d))),

		SharedTrainable:  true,
		EncPosTrainable:  true,
		DecPosTrainable:  true,
		DecTokTrainable:  true,
		EncoderTrainable: true,
		LearningRate:     lr,
	}
	m.SharedM = utils.ZerosLike(m.Shared)
	m.SharedV = utils.ZerosLike(m.Shared)
	m.EncPosM = utils.ZerosLike(m.EncPos)
	m.EncPosV = utils.ZerosLike(m.EncPos)
	m.DecPosM = utils.ZerosLike(m.DecPos)
	m.DecPosV = utils.ZerosLike(m.DecPos)

	for i := 0; i < cfg.EncoderLayers; i++ {
		m.Encoder = append(m.Encoder, NewEncoderLayer(d, cfg.HiddenSize, nHeads, lr))
	}
	for i := 0; i < cfg.DecoderLayers; i++ {
		m.Decoder = append(m.Decoder, NewDecoderLayer(d, cfg.HiddenSize, nHeads, lr))
	}
	return m
}

func (m *Model) DecoderDepth() int { return len(m.Decoder) }

// Embed builds (d x T) from token columns of Shared plus a positional table.
func (m *Model) Embed(ids []int, pos *mat.Dense) *mat.Dense {
	d := m.Cfg.DModel
	T := len(ids)
	_, maxPos := pos.Dims()
	X := mat.NewDense(d, T, nil)
	for t, id := range ids {
		if id < 0 || id >= m.Cfg.VocabSize {
			id = 0
		}
		p := t
		if p >= maxPos {
			p = maxPos - 1
		}
		for i := 0; i < d; i++ {
			X.Set(i, t, m.Shared.At(i, id)+pos.At(i, p))
		}
	}
	return X
}

func (m *Model) padMask(ids []int) []bool {
	mask := make([]bool, len(ids))
	for i, id := range ids {
		mask[i] = id == m.Cfg.PadID
	}
	return mask
}

// Encode runs the encoder stack over the source ids.
func (m *Model) Encode(srcIDs []int) *mat.Dense {
	srcPad := m.padMask(srcIDs)
	X := m.Embed(srcIDs, m.EncPos)
	for _, l := range m.Encoder {
		X = l.Forward(X, srcPad)
	}
	m.lastSrcIDs = srcIDs
	m.lastSrcPad = srcPad
	m.lastEncOut = X
	return X
}

// Forward runs the full seq2seq pass. decIDs are the (already shifted)
// decoder inputs; labels are the shifted targets with params.IgnoreIndex at
// padding, or nil to skip the loss. Returns the mean token LM loss and
// logits (vocab x T).
func (m *Model) Forward(srcIDs, decIDs, labels []int) (float64, *mat.Dense) {
	enc := m.Encode(srcIDs)

	m.lastDecIDs = decIDs
	m.LastPadMask = m.padMask(decIDs)

	Y := m.Embed(decIDs, m.DecPos)
	for _, l := range m.Decoder {
		Y = l.Forward(Y, enc, m.lastSrcPad)
	}
	m.lastDecY = Y

	logits := utils.ToDense(utils.Dot(m.Shared.T(), Y)) // (V x T)

	loss := 0.0
	if labels != nil {
		loss, _ = utils.CrossEntropyMasked(logits, labels, params.IgnoreIndex)
	}
	return loss, logits
}

// Backward propagates dLogits (vocab x T) through the decoder, the
// cross-attention memory path and (when trainable) the encoder, applying
// AdamW to every trainable module along the way.
func (m *Model) Backward(dLogits *mat.Dense) {
	if m.lastDecY == nil {
		panic("Model.Backward called before Forward")
	}
	// logits = Shared^T * Y
	dY := utils.ToDense(utils.Dot(m.Shared, dLogits)) // (d x T)

	var dShared *mat.Dense
	if m.SharedTrainable {
		dShared = utils.ToDense(utils.Dot(m.lastDecY, dLogits.T())) // (d x V)
	}

	// Decoder stack; accumulate encoder-output grads from cross-attention.
	dMem := utils.ZerosLike(m.lastEncOut)
	for i := len(m.Decoder) - 1; i >= 0; i-- {
		var dm *mat.Dense
		dY, dm = m.Decoder[i].Backward(dY)
		dMem.Add(dMem, dm)
	}

	// Decoder embedding grads (input path).
	if m.DecTokTrainable {
		if dShared == nil {
			dShared = utils.ZerosLike(m.Shared)
		}
		scatterTokenGrads(dShared, dY, m.lastDecIDs, m.Cfg.VocabSize)
	}
	var dDecPos *mat.Dense
	if m.DecPosTrainable {
		dDecPos = utils.ZerosLike(m.DecPos)
		scatterPosGrads(dDecPos, dY)
	}

	// Encoder stack.
	var dEncPos *mat.Dense
	if m.EncoderTrainable {
		dX := dMem
		for i := len(m.Encoder) - 1; i >= 0; i-- {
			dX = m.Encoder[i].Backward(dX)
		}
		if m.SharedTrainable {
			scatterTokenGrads(dShared, dX, m.lastSrcIDs, m.Cfg.VocabSize)
		}
		if m.EncPosTrainable {
			dEncPos = utils.ZerosLike(m.EncPos)
			scatterPosGrads(dEncPos, dX)
		}
	}

	// Embedding table updates.
	lr := m.LearningRate
	if dShared != nil {
		if params.Config.GradClip > 0 {
			utils.ClipGrads(params.Config.GradClip, dShared)
		}
		m.SharedT++
		optimizations.AdamUpdateInPlace(m.Shared, dShared, m.SharedM, m.SharedV, m.SharedT,
			lr, params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps,
			params.Config.WeightDecay)
	}
	if dDecPos != nil {
		m.DecPosT++
		optimizations.AdamUpdateInPlace(m.DecPos, dDecPos, m.DecPosM, m.DecPosV, m.DecPosT,
			lr, params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps, 0.0)
	}
	if dEncPos != nil {
		m.EncPosT++
		optimizations.AdamUpdateInPlace(m.EncPos, dEncPos, m.EncPosM, m.EncPosV, m.EncPosT,
			lr, params.Config.AdamBeta1, params.Config.AdamBeta2, params.Config.AdamEps, 0.0)
	}
}

// scatterTokenGrads adds each column grad of dX into the Shared column of
// the token used at that position.
func scatterTokenGrads(dShared, dX *mat.Dense, ids []int, vocab int) {
	d, T := dX.Dims()
	for t := 0; t < T && t < len(ids); t++ {
		id := ids[t]
		if id < 0 || id >= vocab {
			continue
		}
		for i := 0; i < d; i++ {
			dShared.Set(i, id, dShared.At(i, id)+dX.At(i, t))
		}
	}
}

// scatterPosGrads adds column t of dX into column t of the position table.
func scatterPosGrads(dPos, dX *mat.Dense) {
	d, T := dX.Dims()
	_, maxPos := dPos.Dims()
	for t := 0; t < T && t < maxPos; t++ {
		for i := 0; i < d; i++ {
			dPos.Set(i, t, dPos.At(i, t)+dX.At(i, t))
		}
	}
}

// SetLearningRate propagates a scheduled learning rate to every module.
func (m *Model) SetLearningRate(lr float64) {
	m.LearningRate = lr
	for _, l := range m.Encoder {
		l.SetLearningRate(lr)
	}
	for _, l := range m.Decoder {
		l.SetLearningRate(lr)
	}
}

// Freeze marks every parameter of the model non-trainable. Used for the
// teacher, which must never be updated once distillation begins.
func (m *Model) Freeze() {
	m.SharedTrainable = false
	m.EncPosTrainable = false
	m.DecPosTrainable = false
	m.DecTokTrainable = false
	m.EncoderTrainable = false
	for _, l := range m.Encoder {
		l.SetTrainable(false)
	}
	for _, l := range m.Decoder {
		l.SetTrainable(false)
	}
}

// NumParameters counts scalar weights (embeddings + all layers).
func (m *Model) NumParameters() int {
	count := func(ms ...*mat.Dense) int {
		n := 0
		for _, x := range ms {
			if x == nil {
				continue
			}
			r, c := x.Dims()
			n += r * c
		}
		return n
	}
	n := count(m.Shared, m.EncPos, m.DecPos)
	attnParams := func(a *Attention) int {
		k := 0
		for h := 0; h < a.H; h++ {
			k += count(a.Wquery[h], a.Wkey[h], a.Wvalue[h])
		}
		return k + count(a.Woutput)
	}
	for _, l := range m.Encoder {
		n += attnParams(l.SelfAttn)
		n += count(l.Mlp.HiddenWeights, l.Mlp.HiddenBias, l.Mlp.OutputWeights, l.Mlp.OutputBias)
		n += count(l.Ln1.Gamma, l.Ln1.Beta, l.Ln2.Gamma, l.Ln2.Beta)
	}
	for _, l := range m.Decoder {
		n += attnParams(l.SelfAttn) + attnParams(l.CrossAttn)
		n += count(l.Mlp.HiddenWeights, l.Mlp.HiddenBias, l.Mlp.OutputWeights, l.Mlp.OutputBias)
		n += count(l.Ln1.Gamma, l.Ln1.Beta, l.Ln2.Gamma, l.Ln2.Beta, l.Ln3.Gamma, l.Ln3.Beta)
	}
	return n
}
