package IO

import (
	"fmt"
	"os"
	"path/filepath"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/models"
	"github.com/sugarme/tokenizer/normalizers"
	"github.com/sugarme/tokenizer/pretokenizers"
	"github.com/sugarme/tokenizer/processors"
	"github.com/sugarme/tokenizer/trainers"

	"distilsum/params"
)

// Global tokenizer shared by dataset loading and evaluation decode.
var bpeTokenizer *tk.Tokenizer

// TrainOrLoadBPE trains a BPE tokenizer on the corpus files (if tokPath is
// not found) and loads it into memory. It also fills params.Vocab.
func TrainOrLoadBPE(corpusPaths []string, tokPath string, vocabSize int) error {
	if fileExists(tokPath) {
		t, err := tk.FromFile(tokPath)
		if err != nil {
			return err
		}
		bpeTokenizer = t
		return fillParamsVocabFromTokenizer()
	}

	bpe := models.NewBPE()
	t := tk.NewTokenizer(bpe)

	t.WithNormalizer(normalizers.NewSequence(
		normalizers.NewNFKC(),
		normalizers.NewLowercase(),
	))
	t.WithPreTokenizer(pretokenizers.NewWhitespaceSplit())

	proc := processors.NewTemplateProcessing(
		"<bos> $A <eos>",
		"$A",
		map[string]int{
			"<bos>": 1,
			"<eos>": 2,
		},
	)
	t.WithPostProcessor(proc)

	tr := trainers.NewBpeTrainer()
	tr.VocabSize = vocabSize
	tr.SpecialTokens = []string{"<pad>", "<bos>", "<eos>", "<unk>"}

	if err := t.Train(tr, corpusPaths); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(tokPath), 0o755); err != nil {
		return err
	}
	if err := t.Save(tokPath); err != nil {
		return err
	}
	bpeTokenizer = t
	return fillParamsVocabFromTokenizer()
}

func fillParamsVocabFromTokenizer() error {
	if bpeTokenizer == nil {
		return fmt.Errorf("tokenizer not initialized")
	}
	vocab := bpeTokenizer.GetVocab(true)
	id2tok := make([]string, len(vocab))
	tok2id := make(map[string]int, len(vocab))
	for tok, id := range vocab {
		tok2id[tok] = id
		id2tok[id] = tok
	}
	params.Vocab = params.Vocabulary{TokenToID: tok2id, IDToToken: id2tok}
	return nil
}

// EncodeBPE encodes raw text into token IDs (without BOS/EOS).
func EncodeBPE(text string) ([]int, error) {
	if bpeTokenizer == nil {
		return nil, fmt.Errorf("tokenizer not initialized")
	}
	enc, err := bpeTokenizer.EncodeSingle(text)
	if err != nil {
		return nil, err
	}
	ids := enc.Ids
	out := make([]int, len(ids))
	for i, v := range ids {
		out[i] = int(v)
	}
	return out, nil
}

// DecodeBPE renders token ids back to text, dropping special tokens.
func DecodeBPE(ids []int) string {
	if bpeTokenizer == nil {
		return ""
	}
	conv := make([]int, 0, len(ids))
	for _, id := range ids {
		if id == PadID || id == BosID || id == EosID {
			continue
		}
		conv = append(conv, id)
	}
	return bpeTokenizer.Decode(conv, true)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
