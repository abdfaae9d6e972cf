package distill

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"distilsum/model"
	"distilsum/optimizations"
)

// ErrShapeMismatch reports unequal tensor shapes during weight transfer or
// logit comparison. Always fatal: it means the architectures diverge beyond
// decoder depth.
var ErrShapeMismatch = errors.New("shape mismatch")

func copyDense(name string, dst, src *mat.Dense) error {
	dr, dc := dst.Dims()
	sr, sc := src.Dims()
	if dr != sr || dc != sc {
		return fmt.Errorf("%s: student (%d x %d) vs teacher (%d x %d): %w",
			name, dr, dc, sr, sc, ErrShapeMismatch)
	}
	dst.Copy(src)
	return nil
}

func copyAttn(name string, dst, src *model.Attention) error {
	if dst.H != src.H {
		return fmt.Errorf("%s: head count %d vs %d: %w", name, dst.H, src.H, ErrShapeMismatch)
	}
	for h := 0; h < dst.H; h++ {
		if err := copyDense(fmt.Sprintf("%s.Wq[%d]", name, h), dst.Wquery[h], src.Wquery[h]); err != nil {
			return err
		}
		if err := copyDense(fmt.Sprintf("%s.Wk[%d]", name, h), dst.Wkey[h], src.Wkey[h]); err != nil {
			return err
		}
		if err := copyDense(fmt.Sprintf("%s.Wv[%d]", name, h), dst.Wvalue[h], src.Wvalue[h]); err != nil {
			return err
		}
	}
	return copyDense(name+".Wo", dst.Woutput, src.Woutput)
}

func copyMLP(name string, dst, src *model.MLP) error {
	if err := copyDense(name+".hiddenW", dst.HiddenWeights, src.HiddenWeights); err != nil {
		return err
	}
	if err := copyDense(name+".hiddenB", dst.HiddenBias, src.HiddenBias); err != nil {
		return err
	}
	if err := copyDense(name+".outputW", dst.OutputWeights, src.OutputWeights); err != nil {
		return err
	}
	return copyDense(name+".outputB", dst.OutputBias, src.OutputBias)
}

func copyLN(name string, dst, src *optimizations.LayerNorm) error {
	if err := copyDense(name+".gamma", dst.Gamma, src.Gamma); err != nil {
		return err
	}
	return copyDense(name+".beta", dst.Beta, src.Beta)
}

func copyEncoderLayer(i int, dst, src *model.EncoderLayer) error {
	name := fmt.Sprintf("encoder[%d]", i)
	if err := copyAttn(name+".selfAttn", dst.SelfAttn, src.SelfAttn); err != nil {
		return err
	}
	if err := copyMLP(name+".mlp", dst.Mlp, src.Mlp); err != nil {
		return err
	}
	if err := copyLN(name+".ln1", dst.Ln1, src.Ln1); err != nil {
		return err
	}
	return copyLN(name+".ln2", dst.Ln2, src.Ln2)
}

func copyDecoderLayer(name string, dst, src *model.DecoderLayer) error {
	if err := copyAttn(name+".selfAttn", dst.SelfAttn, src.SelfAttn); err != nil {
		return err
	}
	if err := copyAttn(name+".crossAttn", dst.CrossAttn, src.CrossAttn); err != nil {
		return err
	}
	if err := copyMLP(name+".mlp", dst.Mlp, src.Mlp); err != nil {
		return err
	}
	if err := copyLN(name+".ln1", dst.Ln1, src.Ln1); err != nil {
		return err
	}
	if err := copyLN(name+".ln2", dst.Ln2, src.Ln2); err != nil {
		return err
	}
	return copyLN(name+".ln3", dst.Ln3, src.Ln3)
}

// InitStudent allocates a student whose config matches the teacher's except
// for decoder depth, persists the still-random student to savePath (so the
// surrounding tooling can reload it by path), then copies every
// non-decoder-layer parameter verbatim from the teacher: shared embedding,
// positional tables, the whole encoder stack. Decoder layers are seeded
// separately by CopyDecoderLayers.
func InitStudent(teacher *model.Model, layersToCopy []int, savePath string) (*model.Model, error) {
	cfg := teacher.Cfg.WithDecoderLayers(len(layersToCopy))
	student := model.NewModel(cfg)

	if savePath != "" {
		if err := model.SaveModel(student, savePath); err != nil {
			return nil, fmt.Errorf("persisting empty student: %w", err)
		}
	}

	if err := copyDense("shared", student.Shared, teacher.Shared); err != nil {
		return nil, err
	}
	if err := copyDense("encPos", student.EncPos, teacher.EncPos); err != nil {
		return nil, err
	}
	if err := copyDense("decPos", student.DecPos, teacher.DecPos); err != nil {
		return nil, err
	}
	for i := range student.Encoder {
		if err := copyEncoderLayer(i, student.Encoder[i], teacher.Encoder[i]); err != nil {
			return nil, err
		}
	}

	if len(student.Decoder) != len(layersToCopy) {
		panic("InitStudent: student decoder depth does not match layer map")
	}
	return student, nil
}

// CopyDecoderLayers transplants teacher decoder layers into the student:
// student layer i receives teacher layer layersToCopy[i]. Duplicate source
// indices are legal (two student layers seeded from one teacher layer).
func CopyDecoderLayers(teacher, student *model.Model, layersToCopy []int) error {
	if len(layersToCopy) != student.DecoderDepth() {
		return fmt.Errorf("layer map has %d entries for a %d-layer student: %w",
			len(layersToCopy), student.DecoderDepth(), ErrDepthIncompatible)
	}
	for i, src := range layersToCopy {
		if src < 0 || src >= teacher.DecoderDepth() {
			return fmt.Errorf("layer map entry %d: teacher index %d out of [0,%d): %w",
				i, src, teacher.DecoderDepth(), ErrDepthIncompatible)
		}
		name := fmt.Sprintf("decoder[%d<-%d]", i, src)
		if err := copyDecoderLayer(name, student.Decoder[i], teacher.Decoder[src]); err != nil {
			return err
		}
	}
	return nil
}
