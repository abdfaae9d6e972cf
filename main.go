package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"distilsum/IO"
	"distilsum/distill"
	"distilsum/model"
	"distilsum/params"
)

func main() {
	mode := flag.String("mode", "distill", "finetune | distill | eval")
	dataDir := flag.String("data", "data", "directory with {train,val,test}.{source,target}")
	modelDir := flag.String("models", "models", "checkpoint directory")
	teacherPath := flag.String("teacher", "", "teacher checkpoint (.gob); required for distill")
	evalPath := flag.String("checkpoint", "", "checkpoint to evaluate (eval mode)")
	tokPath := flag.String("tokenizer", "models/tokenizer.json", "BPE tokenizer path")
	studentLayers := flag.Int("student-layers", 0, "student decoder depth (0 = teacher/2)")
	temperature := flag.Float64("temperature", params.Config.Temperature, "softmax temperature for distillation")
	alphaCE := flag.Float64("alpha-ce", params.Config.AlphaCE, "weight on the soft-target loss")
	alphaMLM := flag.Float64("alpha-mlm", params.Config.AlphaMLM, "weight on the token loss")
	epochs := flag.Int("epochs", params.Config.MaxEpochs, "max training epochs")
	debug := flag.Bool("debug", false, "verbose per-step logging")
	flag.Parse()

	rand.Seed(time.Now().UTC().UnixNano())

	params.Config.TeacherPath = *teacherPath
	params.Config.StudentLayers = *studentLayers
	params.Config.Temperature = *temperature
	params.Config.AlphaCE = *alphaCE
	params.Config.AlphaMLM = *alphaMLM
	params.Config.MaxEpochs = *epochs
	params.Config.Debug = *debug

	if err := os.MkdirAll(*modelDir, 0o755); err != nil {
		fmt.Println("Error creating model dir:", err)
		return
	}

	corpus := []string{
		filepath.Join(*dataDir, "train.source"),
		filepath.Join(*dataDir, "train.target"),
	}
	if err := IO.TrainOrLoadBPE(corpus, *tokPath, params.Config.VocabSize); err != nil {
		fmt.Println("Error preparing tokenizer:", err)
		return
	}

	switch *mode {
	case "finetune":
		if err := runFinetune(*dataDir, *modelDir); err != nil {
			fmt.Println("Error:", err)
		}
	case "distill":
		if *teacherPath == "" {
			fmt.Println("distill mode needs -teacher")
			return
		}
		if err := runDistill(*dataDir, *modelDir); err != nil {
			fmt.Println("Error:", err)
		}
	case "eval":
		if *evalPath == "" {
			fmt.Println("eval mode needs -checkpoint")
			return
		}
		m, err := model.LoadModel(*evalPath)
		if err != nil {
			fmt.Println("Error loading checkpoint:", err)
			return
		}
		if err := evaluateAndReport(m, *dataDir, "test", *modelDir); err != nil {
			fmt.Println("Error:", err)
		}
	default:
		fmt.Println("unknown mode:", *mode)
	}
}

func modelConfig() model.Config {
	return model.Config{
		DModel:        params.Config.DModel,
		HiddenSize:    params.Config.HiddenSize,
		VocabSize:     params.Config.VocabSize,
		NumHeads:      params.Config.NumHeads,
		EncoderLayers: params.Config.EncoderLayers,
		DecoderLayers: params.Config.DecoderLayers,
		MaxSourceLen:  params.Config.MaxSourceLen,
		MaxTargetLen:  params.Config.MaxTargetLen,
		PadID:         IO.PadID,
		BosID:         IO.BosID,
		EosID:         IO.EosID,
	}
}

func loadSplits(dataDir string) (train, val *IO.SummarizationDataset, err error) {
	train, err = IO.LoadSummarizationDataset(dataDir, "train",
		params.Config.MaxSourceLen, params.Config.MaxTargetLen)
	if err != nil {
		return nil, nil, err
	}
	val, err = IO.LoadSummarizationDataset(dataDir, "val",
		params.Config.MaxSourceLen, params.Config.MaxTargetLen)
	if err != nil {
		return nil, nil, err
	}
	fmt.Printf("Loaded %d train / %d val examples.\n", train.Len(), val.Len())
	return train, val, nil
}

func runFinetune(dataDir, modelDir string) error {
	train, val, err := loadSplits(dataDir)
	if err != nil {
		return err
	}
	m := model.NewModel(modelConfig())
	fmt.Printf("Model: %d parameters, %d decoder layers.\n", m.NumParameters(), m.DecoderDepth())
	return trainModel(m, nil, train, val, modelDir)
}

func runDistill(dataDir, modelDir string) error {
	train, val, err := loadSplits(dataDir)
	if err != nil {
		return err
	}
	pair, err := distill.NewPair(params.Config.TeacherPath,
		filepath.Join(modelDir, "student_init.gob"), params.Config)
	if err != nil {
		return err
	}
	fmt.Printf("Teacher: %d decoder layers. Student: %d decoder layers, %d parameters.\n",
		pair.Teacher.DecoderDepth(), pair.Student.DecoderDepth(), pair.Student.NumParameters())
	return trainModel(pair.Student, pair, train, val, modelDir)
}
