// Command train runs the adversarial training loop for the attenuation to
// rain-rate translation model. Without a real dataset it trains against
// synthetic normalized sequences, which is enough to exercise the full
// optimization path and produce checkpoints.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/rainmetry/rainmetry/checkpoints"
	"github.com/rainmetry/rainmetry/config"
	"github.com/rainmetry/rainmetry/gan"
	"github.com/rainmetry/rainmetry/tensor"
	"github.com/rainmetry/rainmetry/training"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the experiment configuration")
	resumePath := flag.String("resume", "", "checkpoint to restore before training")
	batches := flag.Int("batches", 64, "synthetic batches per epoch")
	batchSize := flag.Int("batch-size", 8, "samples per synthetic batch")
	flag.Parse()

	if err := run(*configPath, *resumePath, *batches, *batchSize); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, resumePath string, nBatches, batchSize int) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	training.SetRandomSeed(cfg.Seed)

	opt := gan.DefaultOptions()
	opt.Direction = gan.Direction(cfg.Model.Direction)
	opt.SliceLenA = cfg.Model.SliceLenA
	opt.SliceLenB = cfg.Model.SliceLenB
	opt.ChannelsA = cfg.Model.ChannelsA
	opt.ChannelsB = cfg.Model.ChannelsB
	opt.HiddenSize = cfg.Model.HiddenSize
	opt.LambdaA = cfg.Model.LambdaA
	opt.LambdaB = cfg.Model.LambdaB
	opt.LambdaIdentity = cfg.Model.LambdaIdentity
	opt.GANMode = cfg.Model.GANMode
	opt.PoolSize = cfg.Model.PoolSize
	opt.CycleThreshold = cfg.Model.CycleThreshold
	opt.ClassificationClamp = cfg.Model.ClassificationClamp
	opt.LR = cfg.Training.LR
	opt.Beta1 = cfg.Training.Beta1

	model, err := gan.NewModel(opt, rng, tensor.CPU)
	if err != nil {
		return err
	}

	runID := checkpoints.NewRunID()
	startEpoch := 0
	if resumePath != "" {
		ckpt, err := checkpoints.Load(resumePath)
		if err != nil {
			return err
		}
		if err := ckpt.Apply(model.NamedNetworks()); err != nil {
			return err
		}
		runID = ckpt.Metadata.RunID
		startEpoch = ckpt.Training.Epoch
		log.Printf("resumed run %s at epoch %d", runID, startEpoch)
	}

	dataset, err := syntheticDataset(opt, nBatches, batchSize, rng)
	if err != nil {
		return err
	}
	loader, err := gan.NewLoader(dataset, true, rng)
	if err != nil {
		return err
	}

	optG, optD := model.Optimizers()
	schedG := training.NewLinearDecayLRScheduler(optG, cfg.Training.NEpochs, cfg.Training.NEpochsDecay)
	schedD := training.NewLinearDecayLRScheduler(optD, cfg.Training.NEpochs, cfg.Training.NEpochsDecay)

	log.Printf("run %s: training %d+%d epochs, %d batches/epoch", runID,
		cfg.Training.NEpochs, cfg.Training.NEpochsDecay, dataset.Len())

	totalEpochs := cfg.Training.NEpochs + cfg.Training.NEpochsDecay
	meter := training.NewLossMeter()
	for epoch := startEpoch + 1; epoch <= totalEpochs; epoch++ {
		loader.Reset()
		meter.Reset()

		iter := 0
		for {
			batch, ok, err := loader.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := model.SetInput(batch); err != nil {
				return err
			}
			if err := model.OptimizeParameters(); err != nil {
				return fmt.Errorf("epoch %d iteration %d: %w", epoch, iter, err)
			}
			meter.Update(model.CurrentLosses())

			iter++
			if cfg.Training.PrintFreq > 0 && iter%cfg.Training.PrintFreq == 0 {
				log.Printf("epoch %d iter %d  %s", epoch, iter, meter)
			}
		}

		schedG.Step()
		schedD.Step()
		log.Printf("epoch %d done  lr %.6f  %s", epoch, schedG.GetLR(), meter)

		if cfg.Training.SaveFreq > 0 && epoch%cfg.Training.SaveFreq == 0 {
			path := filepath.Join(cfg.Training.CheckpointDir, cfg.Name,
				fmt.Sprintf("epoch_%04d.json", epoch))
			if err := saveCheckpoint(model, runID, cfg.Name, epoch, schedG.GetLR(), path); err != nil {
				return err
			}
			log.Printf("saved checkpoint %s", path)
		}
	}

	path := filepath.Join(cfg.Training.CheckpointDir, cfg.Name, "latest.json")
	if err := saveCheckpoint(model, runID, cfg.Name, totalEpochs, schedG.GetLR(), path); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "training complete, final checkpoint at %s\n", path)
	return nil
}

func saveCheckpoint(model *gan.Model, runID, experiment string, epoch int, lr float64, path string) error {
	ckpt, err := checkpoints.Capture(model.NamedNetworks(), runID, experiment, checkpoints.TrainingState{
		Epoch:        epoch,
		LearningRate: lr,
		Losses:       model.CurrentLosses(),
	})
	if err != nil {
		return err
	}
	return ckpt.Save(path)
}

// syntheticDataset builds random normalized sequence pairs shaped like the
// configured domains, with physically plausible transform bounds.
func syntheticDataset(opt gan.Options, nBatches, batchSize int, rng *rand.Rand) (gan.Dataset, error) {
	dataTransform := &gan.Transform{
		Min: make([]float32, opt.ChannelsA),
		Max: make([]float32, opt.ChannelsA),
	}
	for c := 0; c < opt.ChannelsA; c++ {
		dataTransform.Max[c] = 60
	}

	batches := make([]*gan.Batch, 0, nBatches)
	for i := 0; i < nBatches; i++ {
		a, err := tensor.RandomNormal([]int{batchSize, opt.ChannelsA, opt.SliceLenA}, 0, 0.5, rng, tensor.CPU)
		if err != nil {
			return nil, err
		}
		b, err := tensor.RandomNormal([]int{batchSize, opt.ChannelsB, opt.SliceLenB}, 0, 0.5, rng, tensor.CPU)
		if err != nil {
			return nil, err
		}
		batches = append(batches, &gan.Batch{
			A:               a,
			B:               b,
			LinkID:          fmt.Sprintf("link-%03d", i),
			GaugeID:         fmt.Sprintf("gauge-%03d", i),
			RainProb:        rng.Float64(),
			AttenuationProb: rng.Float64(),
			DataTransform:   dataTransform,
		})
	}
	return gan.NewSliceDataset(batches), nil
}
