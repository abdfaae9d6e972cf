package params

// Vocabulary maps between BPE tokens and ids. Filled from the trained
// tokenizer on startup.
type Vocabulary struct {
	TokenToID map[string]int
	IDToToken []string
}

// Global vocab, initialized once by IO.TrainOrLoadBPE.
var Vocab Vocabulary

// IgnoreIndex marks label positions excluded from the LM loss
// (padding in shifted targets).
const IgnoreIndex = -100

type TrainingConfig struct {
	// Core transformer parameters
	DModel        int // model width
	HiddenSize    int // MLP hidden
	VocabSize     int // |V|
	NumHeads      int // attention heads
	EncoderLayers int
	DecoderLayers int
	MaxSourceLen  int // max source length after tokenization
	MaxTargetLen  int // max summary length after tokenization

	// Distillation parameters
	TeacherPath   string  // teacher checkpoint (.gob); empty = plain fine-tune
	StudentLayers int     // student decoder depth; 0 = teacher depth / 2
	Temperature   float64 // softens logits in the soft-target loss
	AlphaCE       float64 // weight of the soft-target (KL) loss
	AlphaMLM      float64 // weight of the supervised LM loss

	// Optimization parameters
	LearningRate float64
	WarmupSteps  int     // linear warmup steps
	DecaySteps   int     // cosine decay steps after warmup (0 = none)
	AdamBeta1    float64 // default 0.9
	AdamBeta2    float64 // default 0.999
	AdamEps      float64 // default 1e-8

	MaxEpochs int     // maximum number of epochs
	Patience  int     // early stopping patience (epochs without val ROUGE-2 gain)
	Epsilon   float64 // stop if train loss < epsilon
	BatchSize int     // examples per epoch sample

	// Stability parameters
	GradClip    float64 // <=0 disables
	WeightDecay float64 // AdamW-style; 0 disables
	Debug       bool    // enable periodic debug logs
	DebugEvery  int     // print every N optimizer steps

	SaveEpochNumber int // checkpoint every N epochs
}

var Config = TrainingConfig{
	DModel:        256,
	HiddenSize:    512,
	VocabSize:     8192,
	NumHeads:      8, // dHead = DModel/NumHeads
	EncoderLayers: 6,
	DecoderLayers: 12,
	MaxSourceLen:  256,
	MaxTargetLen:  56,

	StudentLayers: 0, // default: half the teacher's decoder depth
	Temperature:   2.0,
	AlphaCE:       0.8,
	AlphaMLM:      0.2,

	LearningRate: 0.0003,
	WarmupSteps:  500,
	DecaySteps:   100_000,
	AdamBeta1:    0.9,
	AdamBeta2:    0.999,
	AdamEps:      1e-8,

	MaxEpochs: 50,
	Patience:  5,
	Epsilon:   1e-4,
	BatchSize: 256,

	GradClip:    1.0,
	WeightDecay: 0.01,
	Debug:       false,
	DebugEvery:  1000,

	SaveEpochNumber: 5,
}
