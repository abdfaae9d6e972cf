package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"distilsum/IO"
	"distilsum/model"
	"distilsum/params"
	"distilsum/rouge"
)

// evaluateAndReport decodes the named split, writes the generated and
// reference summaries next to the checkpoints, and prints corpus ROUGE.
func evaluateAndReport(m *model.Model, dataDir, split, outDir string) error {
	ds, err := IO.LoadSummarizationDataset(dataDir, split,
		params.Config.MaxSourceLen, params.Config.MaxTargetLen)
	if err != nil {
		return err
	}

	hyps := make([]string, 0, ds.Len())
	refs := make([]string, 0, ds.Len())
	for _, ex := range ds.Examples {
		out := m.Generate(ex.Source, m.Cfg.MaxTargetLen)
		hyps = append(hyps, IO.DecodeBPE(out))
		refs = append(refs, IO.DecodeBPE(ex.Target))
	}

	if err := writeLines(filepath.Join(outDir, split+"_predictions.txt"), hyps); err != nil {
		return err
	}
	if err := writeLines(filepath.Join(outDir, split+"_targets.txt"), refs); err != nil {
		return err
	}

	scores := rouge.Corpus(hyps, refs)
	fmt.Printf("%s: R1: %.4f, R2: %.4f, RL: %.4f (%d examples)\n",
		split, scores.Rouge1, scores.Rouge2, scores.RougeL, ds.Len())
	return nil
}

func writeLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}
