// Package rouge implements the ROUGE-1, ROUGE-2 and ROUGE-L f-measures used
// to score generated summaries against references.
package rouge

import "strings"

// Scores holds the f-measures for one hypothesis/reference pair, or the
// mean over a corpus.
type Scores struct {
	Rouge1 float64
	Rouge2 float64
	RougeL float64
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func ngrams(tokens []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], " ")]++
	}
	return counts
}

func fMeasure(overlap, hypCount, refCount int) float64 {
	if overlap == 0 {
		return 0
	}
	prec := float64(overlap) / float64(hypCount)
	rec := float64(overlap) / float64(refCount)
	return 2 * prec * rec / (prec + rec)
}

func ngramF(hyp, ref []string, n int) float64 {
	hypGrams := ngrams(hyp, n)
	refGrams := ngrams(ref, n)
	hypTotal, refTotal, overlap := 0, 0, 0
	for _, c := range hypGrams {
		hypTotal += c
	}
	for _, c := range refGrams {
		refTotal += c
	}
	if hypTotal == 0 || refTotal == 0 {
		return 0
	}
	for g, c := range hypGrams {
		if rc, ok := refGrams[g]; ok {
			if rc < c {
				overlap += rc
			} else {
				overlap += c
			}
		}
	}
	return fMeasure(overlap, hypTotal, refTotal)
}

// lcsLen is the longest common subsequence length between two token
// sequences, O(len(a)*len(b)) with a rolling row.
func lcsLen(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Score computes ROUGE-1/2/L f-measures for a single pair.
func Score(hypothesis, reference string) Scores {
	hyp := tokenize(hypothesis)
	ref := tokenize(reference)
	s := Scores{
		Rouge1: ngramF(hyp, ref, 1),
		Rouge2: ngramF(hyp, ref, 2),
	}
	if len(hyp) > 0 && len(ref) > 0 {
		s.RougeL = fMeasure(lcsLen(hyp, ref), len(hyp), len(ref))
	}
	return s
}

// Corpus averages pairwise scores over aligned hypothesis/reference slices.
// Slices of unequal length are scored up to the shorter one.
func Corpus(hypotheses, references []string) Scores {
	n := len(hypotheses)
	if len(references) < n {
		n = len(references)
	}
	if n == 0 {
		return Scores{}
	}
	var sum Scores
	for i := 0; i < n; i++ {
		s := Score(hypotheses[i], references[i])
		sum.Rouge1 += s.Rouge1
		sum.Rouge2 += s.Rouge2
		sum.RougeL += s.RougeL
	}
	sum.Rouge1 /= float64(n)
	sum.Rouge2 /= float64(n)
	sum.RougeL /= float64(n)
	return sum
}
