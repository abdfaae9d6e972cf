package model

import "gonum.org/v1/gonum/mat"

// Generate produces a summary for srcIDs by greedy decoding, starting from
// BOS and stopping at EOS or maxLen tokens. The returned ids exclude BOS.
func (m *Model) Generate(srcIDs []int, maxLen int) []int {
	enc := m.Encode(srcIDs)

	out := []int{m.Cfg.BosID}
	for len(out) <= maxLen {
		Y := m.Embed(out, m.DecPos)
		for _, l := range m.Decoder {
			Y = l.Forward(Y, enc, m.lastSrcPad)
		}
		// logits for the last position only
		_, T := Y.Dims()
		yLast := Y.Slice(0, m.Cfg.DModel, T-1, T).(*mat.Dense)
		var logits mat.Dense
		logits.Mul(m.Shared.T(), yLast) // (V x 1)

		next := 0
		best := logits.At(0, 0)
		for v := 1; v < m.Cfg.VocabSize; v++ {
			if logits.At(v, 0) > best {
				best = logits.At(v, 0)
				next = v
			}
		}
		if next == m.Cfg.EosID {
			break
		}
		out = append(out, next)
	}
	return out[1:]
}
