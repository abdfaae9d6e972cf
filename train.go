package main

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"distilsum/IO"
	"distilsum/distill"
	"distilsum/model"
	"distilsum/params"
	"distilsum/rouge"
	"distilsum/utils"
)

// trainModel runs the epoch loop for both modes. When pair is nil the model
// trains on token cross-entropy alone; otherwise each step blends the
// soft-target loss against pair.Teacher. Early stopping tracks validation
// ROUGE-2.
func trainModel(m *model.Model, pair *distill.Pair, train, val *IO.SummarizationDataset, modelDir string) error {
	sink, err := IO.NewCSVSink(filepath.Join(modelDir, "training_log.csv"),
		[]string{"loss", "soft_target", "lm", "rouge1", "rouge2", "rougeL"})
	if err != nil {
		return err
	}
	defer sink.Close()

	bestRouge2 := -1.0
	noImprovementCount := 0
	adamStep := 0

	order := make([]int, train.Len())
	for i := range order {
		order[i] = i
	}

	for e := 0; e < params.Config.MaxEpochs; e++ {
		start := time.Now()
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var epoch distill.LossBundle
		steps := 0

		B := params.Config.BatchSize
		for lo := 0; lo < len(order); lo += B {
			hi := lo + B
			if hi > len(order) {
				hi = len(order)
			}
			batch := make([]IO.Example, 0, hi-lo)
			for _, idx := range order[lo:hi] {
				batch = append(batch, train.Examples[idx])
			}

			adamStep++
			m.SetLearningRate(utils.LRSchedule(adamStep, params.Config.LearningRate))

			var bundle distill.LossBundle
			if pair != nil {
				bundle, err = pair.Step(batch)
				if err != nil {
					return err
				}
			} else {
				bundle.LM = distill.SupervisedStep(m, batch)
				bundle.Blended = bundle.LM
			}
			epoch.Blended += bundle.Blended
			epoch.SoftTarget += bundle.SoftTarget
			epoch.LM += bundle.LM
			steps++

			utils.Debugf("step %d loss=%.4f kl=%.4f lm=%.4f\n",
				adamStep, bundle.Blended, bundle.SoftTarget, bundle.LM)
		}
		if steps > 0 {
			epoch.Blended /= float64(steps)
			epoch.SoftTarget /= float64(steps)
			epoch.LM /= float64(steps)
		}

		scores := evaluateRouge(m, val)
		fmt.Printf("Epoch %d - Loss: %.4f, KL: %.4f, LM: %.4f, R1: %.4f, R2: %.4f, RL: %.4f, Time: %v\n",
			e+1, epoch.Blended, epoch.SoftTarget, epoch.LM,
			scores.Rouge1, scores.Rouge2, scores.RougeL, time.Since(start))

		_ = sink.Log(e+1, map[string]float64{
			"loss": epoch.Blended, "soft_target": epoch.SoftTarget, "lm": epoch.LM,
			"rouge1": scores.Rouge1, "rouge2": scores.Rouge2, "rougeL": scores.RougeL,
		})

		alreadySaved := false
		if scores.Rouge2 > bestRouge2 {
			bestRouge2 = scores.Rouge2
			if err := model.SaveModel(m, filepath.Join(modelDir, "best_model.gob")); err != nil {
				fmt.Println("Error saving best model:", err)
			}
			noImprovementCount = 0
			alreadySaved = true
		} else {
			noImprovementCount++
		}

		if (e+1)%params.Config.SaveEpochNumber == 0 && !alreadySaved {
			if err := model.SaveModel(m, filepath.Join(modelDir, "last_epoch.gob")); err != nil {
				fmt.Println("Error saving checkpoint:", err)
			} else {
				fmt.Printf("Saved checkpoint at epoch %d\n", e+1)
			}
		}

		if noImprovementCount >= params.Config.Patience {
			fmt.Println("\nStopping training early due to lack of improvement in ROUGE-2.")
			break
		}
		if epoch.Blended < params.Config.Epsilon {
			fmt.Println("\nStopping training early due to loss being too small.")
			break
		}
	}

	fmt.Printf("Best validation ROUGE-2: %.4f\n", bestRouge2)
	return nil
}

// evaluateRouge greedily decodes every validation example and scores the
// text against the reference summaries.
func evaluateRouge(m *model.Model, ds *IO.SummarizationDataset) rouge.Scores {
	hyps := make([]string, 0, ds.Len())
	refs := make([]string, 0, ds.Len())
	for _, ex := range ds.Examples {
		out := m.Generate(ex.Source, m.Cfg.MaxTargetLen)
		hyps = append(hyps, IO.DecodeBPE(out))
		refs = append(refs, IO.DecodeBPE(ex.Target))
	}
	return rouge.Corpus(hyps, refs)
}
