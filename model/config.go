package model

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the immutable architecture description of one model variant.
// A student config is derived from the teacher's by overriding only
// DecoderLayers.
type Config struct {
	DModel        int `json:"d_model"`
	HiddenSize    int `json:"hidden_size"`
	VocabSize     int `json:"vocab_size"`
	NumHeads      int `json:"num_heads"`
	EncoderLayers int `json:"encoder_layers"`
	DecoderLayers int `json:"decoder_layers"`
	MaxSourceLen  int `json:"max_source_len"`
	MaxTargetLen  int `json:"max_target_len"`

	PadID int `json:"pad_id"`
	BosID int `json:"bos_id"`
	EosID int `json:"eos_id"`
}

// WithDecoderLayers returns a copy with the decoder depth replaced.
func (c Config) WithDecoderLayers(n int) Config {
	c.DecoderLayers = n
	return c
}

func (c Config) Validate() error {
	if c.DModel <= 0 || c.VocabSize <= 0 {
		return fmt.Errorf("config: bad dimensions d_model=%d vocab=%d", c.DModel, c.VocabSize)
	}
	if c.NumHeads <= 0 || c.DModel%c.NumHeads != 0 {
		return fmt.Errorf("config: d_model %d not divisible by %d heads", c.DModel, c.NumHeads)
	}
	if c.EncoderLayers <= 0 || c.DecoderLayers <= 0 {
		return fmt.Errorf("config: need at least one encoder and decoder layer")
	}
	return nil
}

// SaveConfig writes the config as JSON next to a checkpoint.
func SaveConfig(c Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

func LoadConfig(path string) (Config, error) {
	var c Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}
