package model

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/mat"

	"distilsum/params"
	"distilsum/utils"
)

func testConfig(decoderLayers int) Config {
	return Config{
		DModel:        4,
		HiddenSize:    6,
		VocabSize:     10,
		NumHeads:      2,
		EncoderLayers: 1,
		DecoderLayers: decoderLayers,
		MaxSourceLen:  6,
		MaxTargetLen:  5,
		PadID:         0,
		BosID:         1,
		EosID:         2,
	}
}

func finiteDiffCheck(t *testing.T, name string, param *mat.Dense, grad *mat.Dense,
	forward func() float64, i, j int) {
	t.Helper()

	eps := 1e-5
	w0 := param.At(i, j)

	param.Set(i, j, w0+eps)
	lp := forward()
	param.Set(i, j, w0-eps)
	lm := forward()
	param.Set(i, j, w0)

	numGrad := (lp - lm) / (2.0 * eps)
	anaGrad := grad.At(i, j)

	if math.Abs(numGrad-anaGrad) > 1e-4 {
		t.Fatalf("%s[%d,%d] grad mismatch: num=%.6g ana=%.6g",
			name, i, j, numGrad, anaGrad)
	}
}

func TestAttentionGradCheck(t *testing.T) {
	rand.Seed(123)
	dModel := 4
	attn := NewAttention(dModel, 2, 0.0, false)

	x := mat.NewDense(dModel, 3, utils.RandomArray(dModel*3, float64(dModel)))
	labels := []int{params.IgnoreIndex, params.IgnoreIndex, 2}

	forward := func() float64 {
		y := attn.Forward(x, x, nil)
		loss, _ := utils.CrossEntropyMasked(y, labels, params.IgnoreIndex)
		return loss
	}

	y := attn.Forward(x, x, nil)
	_, dY := utils.CrossEntropyMasked(y, labels, params.IgnoreIndex)
	_, _, dWq, dWk, dWv, dWo := attn.BackwardGradsOnly(dY)

	finiteDiffCheck(t, "Wquery", attn.Wquery[0], dWq[0], forward, 0, 0)
	finiteDiffCheck(t, "Wkey", attn.Wkey[0], dWk[0], forward, 0, 0)
	finiteDiffCheck(t, "Wvalue", attn.Wvalue[0], dWv[0], forward, 0, 0)
	finiteDiffCheck(t, "Woutput", attn.Woutput, dWo, forward, 0, 0)
}

func TestCrossAttentionMemoryGrad(t *testing.T) {
	rand.Seed(124)
	dModel := 4
	attn := NewAttention(dModel, 2, 0.0, false)

	x := mat.NewDense(dModel, 2, utils.RandomArray(dModel*2, float64(dModel)))
	m := mat.NewDense(dModel, 3, utils.RandomArray(dModel*3, float64(dModel)))
	labels := []int{params.IgnoreIndex, 1}

	forward := func() float64 {
		y := attn.Forward(x, m, nil)
		loss, _ := utils.CrossEntropyMasked(y, labels, params.IgnoreIndex)
		return loss
	}

	y := attn.Forward(x, m, nil)
	_, dY := utils.CrossEntropyMasked(y, labels, params.IgnoreIndex)
	dX, dM, _, _, _, _ := attn.BackwardGradsOnly(dY)

	finiteDiffCheck(t, "X", x, dX, forward, 1, 0)
	finiteDiffCheck(t, "M", m, dM, forward, 2, 1)
}

func TestMLPGradCheck(t *testing.T) {
	rand.Seed(125)
	dModel := 4
	mlp := NewMLP(dModel, 5, 0.0)

	x := mat.NewDense(dModel, 2, utils.RandomArray(dModel*2, float64(dModel)))
	labels := []int{params.IgnoreIndex, 3}

	forward := func() float64 {
		y := mlp.Forward(x)
		loss, _ := utils.CrossEntropyMasked(y, labels, params.IgnoreIndex)
		return loss
	}

	y := mlp.Forward(x)
	_, dY := utils.CrossEntropyMasked(y, labels, params.IgnoreIndex)
	_, dWhid, _, dWout, _ := mlp.BackwardGradsOnly(dY)

	finiteDiffCheck(t, "hiddenWeights", mlp.HiddenWeights, dWhid, forward, 0, 0)
	finiteDiffCheck(t, "outputWeights", mlp.OutputWeights, dWout, forward, 0, 0)
}

func TestForwardShapes(t *testing.T) {
	rand.Seed(126)
	m := NewModel(testConfig(2))

	src := []int{1, 5, 6, 2, 0, 0}
	dec := []int{1, 7, 8, 2}
	loss, logits := m.Forward(src, dec, []int{7, 8, 2, params.IgnoreIndex})

	V, T := logits.Dims()
	if V != m.Cfg.VocabSize || T != len(dec) {
		t.Fatalf("logits are (%d x %d), want (%d x %d)", V, T, m.Cfg.VocabSize, len(dec))
	}
	if math.IsNaN(loss) || loss <= 0 {
		t.Fatalf("loss = %v", loss)
	}
	wantMask := []bool{false, false, false, false}
	if diff := cmp.Diff(wantMask, m.LastPadMask); diff != "" {
		t.Fatalf("pad mask mismatch (-want +got):\n%s", diff)
	}

	m.Forward(src, []int{1, 7, 2, 0}, nil)
	if !m.LastPadMask[3] {
		t.Fatal("pad position not flagged in decoder mask")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	rand.Seed(127)
	m := NewModel(testConfig(3))
	path := filepath.Join(t.TempDir(), "model.gob")

	if err := SaveModel(m, path); err != nil {
		t.Fatal(err)
	}
	got, err := LoadModel(path)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(m.Cfg, got.Cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	if !mat.Equal(m.Shared, got.Shared) {
		t.Fatal("shared embedding not restored")
	}
	if !mat.Equal(m.EncPos, got.EncPos) || !mat.Equal(m.DecPos, got.DecPos) {
		t.Fatal("positional tables not restored")
	}
	if !mat.Equal(m.Encoder[0].SelfAttn.Wquery[1], got.Encoder[0].SelfAttn.Wquery[1]) {
		t.Fatal("encoder weights not restored")
	}
	if !mat.Equal(m.Decoder[2].CrossAttn.Woutput, got.Decoder[2].CrossAttn.Woutput) {
		t.Fatal("decoder weights not restored")
	}
	if !mat.Equal(m.Decoder[1].Ln3.Gamma, got.Decoder[1].Ln3.Gamma) {
		t.Fatal("layer norm not restored")
	}

	// restored model produces identical logits
	src := []int{1, 5, 2, 0, 0, 0}
	dec := []int{1, 6, 2}
	_, want := m.Forward(src, dec, nil)
	_, have := got.Forward(src, dec, nil)
	if !mat.EqualApprox(want, have, 1e-12) {
		t.Fatal("restored model diverges from original")
	}
}

func TestGenerateBounds(t *testing.T) {
	rand.Seed(128)
	m := NewModel(testConfig(2))

	out := m.Generate([]int{1, 5, 6, 2, 0, 0}, m.Cfg.MaxTargetLen)
	if len(out) > m.Cfg.MaxTargetLen {
		t.Fatalf("generated %d tokens, cap is %d", len(out), m.Cfg.MaxTargetLen)
	}
	for _, id := range out {
		if id < 0 || id >= m.Cfg.VocabSize {
			t.Fatalf("generated id %d out of vocabulary", id)
		}
		if id == m.Cfg.BosID {
			t.Fatal("BOS leaked into generated output")
		}
	}
}

func TestFreezeStopsAllUpdates(t *testing.T) {
	rand.Seed(129)
	m := NewModel(testConfig(2))
	m.Freeze()

	shared := mat.DenseCopyOf(m.Shared)
	wq := mat.DenseCopyOf(m.Decoder[0].SelfAttn.Wquery[0])
	gamma := mat.DenseCopyOf(m.Encoder[0].Ln1.Gamma)

	_, logits := m.Forward([]int{1, 5, 2, 0, 0, 0}, []int{1, 6, 2}, nil)
	_, dCE := utils.CrossEntropyMasked(logits, []int{6, 2, params.IgnoreIndex}, params.IgnoreIndex)
	m.Backward(dCE)

	if !mat.Equal(shared, m.Shared) || !mat.Equal(wq, m.Decoder[0].SelfAttn.Wquery[0]) ||
		!mat.Equal(gamma, m.Encoder[0].Ln1.Gamma) {
		t.Fatal("frozen model moved after Backward")
	}
}
