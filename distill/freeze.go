package distill

// FreezeForDistillation locks every parameter that should not adapt during
// distillation: the whole teacher, the student encoder (including its
// positional table), the shared embedding, and the decoder's token and
// positional embeddings. Only the transplanted decoder layers keep
// learning; they are the ones whose arrangement changed.
func FreezeForDistillation(p *Pair) {
	p.Teacher.Freeze()

	s := p.Student
	s.EncoderTrainable = false
	for _, l := range s.Encoder {
		l.SetTrainable(false)
	}
	s.SharedTrainable = false
	s.EncPosTrainable = false
	s.DecPosTrainable = false
	s.DecTokTrainable = false
}
