package IO

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
)

// Special token ids, fixed by the tokenizer's special-token ordering.
const (
	PadID = 0
	BosID = 1
	EosID = 2
	UnkID = 3
)

// Example is one source/target pair, already tokenized, padded to the
// configured lengths.
type Example struct {
	Source []int
	Target []int
}

// SummarizationDataset holds one split of line-aligned document/summary
// pairs.
type SummarizationDataset struct {
	Split    string
	Examples []Example
}

func (d *SummarizationDataset) Len() int { return len(d.Examples) }

// readLines reads a whole file as a slice of lines. Summaries can be long,
// so the scanner buffer is raised well past the default.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// fitSequence wraps ids in BOS/EOS, truncates to maxLen (always keeping the
// trailing EOS), and right-pads with PadID.
func fitSequence(ids []int, maxLen int) []int {
	seq := make([]int, 0, maxLen)
	seq = append(seq, BosID)
	seq = append(seq, ids...)
	seq = append(seq, EosID)
	if len(seq) > maxLen {
		seq = seq[:maxLen]
		seq[maxLen-1] = EosID
	}
	for len(seq) < maxLen {
		seq = append(seq, PadID)
	}
	return seq
}

// LoadSummarizationDataset reads {split}.source and {split}.target from
// dataDir, tokenizes each line, and pads sources and targets to the given
// lengths. The two files must have the same number of lines.
func LoadSummarizationDataset(dataDir, split string, maxSourceLen, maxTargetLen int) (*SummarizationDataset, error) {
	sources, err := readLines(filepath.Join(dataDir, split+".source"))
	if err != nil {
		return nil, fmt.Errorf("loading %s sources: %w", split, err)
	}
	targets, err := readLines(filepath.Join(dataDir, split+".target"))
	if err != nil {
		return nil, fmt.Errorf("loading %s targets: %w", split, err)
	}
	if len(sources) != len(targets) {
		return nil, fmt.Errorf("split %q: %d source lines vs %d target lines",
			split, len(sources), len(targets))
	}

	ds := &SummarizationDataset{Split: split}
	for i := range sources {
		srcIDs, err := EncodeBPE(sources[i])
		if err != nil {
			return nil, fmt.Errorf("encoding %s source line %d: %w", split, i+1, err)
		}
		tgtIDs, err := EncodeBPE(targets[i])
		if err != nil {
			return nil, fmt.Errorf("encoding %s target line %d: %w", split, i+1, err)
		}
		ds.Examples = append(ds.Examples, Example{
			Source: fitSequence(srcIDs, maxSourceLen),
			Target: fitSequence(tgtIDs, maxTargetLen),
		})
	}
	return ds, nil
}
