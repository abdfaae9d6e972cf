package distill

import (
	"fmt"

	"distilsum/IO"
	"distilsum/model"
	"distilsum/params"
	"distilsum/utils"
)

// Pair holds the two models of a distillation run as an explicit composite.
// The student owns the gradient path; the teacher only ever runs forward.
type Pair struct {
	Student *model.Model
	Teacher *model.Model

	Temperature float64
	AlphaCE     float64 // weight on the soft-target (KL) term
	AlphaMLM    float64 // weight on the supervised token loss
}

// NewPair loads the teacher from teacherPath, builds a student with the
// configured decoder depth (teacher/2 when zero), transplants the selected
// decoder layers, and applies the distillation freeze policy. The freshly
// initialized student is persisted to studentSavePath before any weight is
// copied in.
func NewPair(teacherPath, studentSavePath string, cfg params.TrainingConfig) (*Pair, error) {
	teacher, err := model.LoadModel(teacherPath)
	if err != nil {
		return nil, fmt.Errorf("loading teacher: %w", err)
	}

	depth := cfg.StudentLayers
	if depth <= 0 {
		depth = DefaultStudentDepth(teacher.DecoderDepth())
	}
	layers, err := LayersToCopy(teacher.DecoderDepth(), depth)
	if err != nil {
		return nil, err
	}

	student, err := InitStudent(teacher, layers, studentSavePath)
	if err != nil {
		return nil, err
	}
	if err := CopyDecoderLayers(teacher, student, layers); err != nil {
		return nil, err
	}

	p := &Pair{
		Student:     student,
		Teacher:     teacher,
		Temperature: cfg.Temperature,
		AlphaCE:     cfg.AlphaCE,
		AlphaMLM:    cfg.AlphaMLM,
	}
	FreezeForDistillation(p)
	return p, nil
}

// ShiftTargets turns a padded target sequence into decoder inputs and
// labels: inputs drop the last token, labels drop the first (the BOS) and
// replace padding with the ignore sentinel so the loss skips those
// positions.
func ShiftTargets(target []int, padID int) (decIn, labels []int) {
	if len(target) < 2 {
		return nil, nil
	}
	decIn = append([]int(nil), target[:len(target)-1]...)
	labels = make([]int, len(target)-1)
	for i, id := range target[1:] {
		if id == padID {
			labels[i] = params.IgnoreIndex
		} else {
			labels[i] = id
		}
	}
	return decIn, labels
}

// Step runs one distillation update over a batch. Each example is processed
// in full: student forward, teacher forward (no gradients ever reach the
// teacher), blended loss, immediate student backward. Returned losses are
// averaged over the batch.
func (p *Pair) Step(batch []IO.Example) (LossBundle, error) {
	var sum LossBundle
	if len(batch) == 0 {
		return sum, nil
	}

	for _, ex := range batch {
		decIn, labels := ShiftTargets(ex.Target, IO.PadID)
		if decIn == nil {
			continue
		}

		_, sLogits := p.Student.Forward(ex.Source, decIn, nil)
		_, tLogits := p.Teacher.Forward(ex.Source, decIn, nil)

		klLoss, dKL, err := SoftTargetLoss(sLogits, tLogits, p.Student.LastPadMask, p.Temperature)
		if err != nil {
			return LossBundle{}, err
		}
		ceLoss, dCE := utils.CrossEntropyMasked(sLogits, labels, params.IgnoreIndex)

		bundle := Blend(klLoss, ceLoss, p.AlphaCE, p.AlphaMLM)

		dLogits := utils.ToDense(utils.Scale(p.AlphaCE, dKL))
		dLogits.Add(dLogits, utils.ToDense(utils.Scale(p.AlphaMLM, dCE)))
		p.Student.Backward(dLogits)

		sum.Blended += bundle.Blended
		sum.SoftTarget += bundle.SoftTarget
		sum.LM += bundle.LM
	}

	n := float64(len(batch))
	sum.Blended /= n
	sum.SoftTarget /= n
	sum.LM /= n
	return sum, nil
}

// SupervisedStep runs one plain fine-tuning update (no teacher): token
// cross-entropy only. Used by the finetune mode, and by distillation
// baselines.
func SupervisedStep(m *model.Model, batch []IO.Example) float64 {
	if len(batch) == 0 {
		return 0
	}
	total := 0.0
	for _, ex := range batch {
		decIn, labels := ShiftTargets(ex.Target, IO.PadID)
		if decIn == nil {
			continue
		}
		_, logits := m.Forward(ex.Source, decIn, nil)
		loss, dCE := utils.CrossEntropyMasked(logits, labels, params.IgnoreIndex)
		m.Backward(dCE)
		total += loss
	}
	return total / float64(len(batch))
}
