package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/cyclopcam/finetune/pkg/coco"
	"github.com/cyclopcam/finetune/pkg/nnremote"
	"github.com/cyclopcam/finetune/train/dataset"
	"github.com/cyclopcam/finetune/train/loader"
	"github.com/cyclopcam/finetune/train/rundb"
	"github.com/cyclopcam/finetune/train/trainer"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("finetune", "Fine-tune an object detection model on a COCO dataset")
	trainAnn := parser.String("a", "annotations", &argparse.Options{Help: "Training annotation file (COCO JSON)", Required: true})
	valAnn := parser.String("", "val-annotations", &argparse.Options{Help: "Validation annotation file (COCO JSON)", Required: true})
	trainImages := parser.String("i", "images", &argparse.Options{Help: "Directory containing the training images", Required: true})
	valImages := parser.String("", "val-images", &argparse.Options{Help: "Directory containing the validation images (default: same as --images)", Required: false, Default: ""})
	server := parser.String("s", "server", &argparse.Options{Help: "host:port of the model computation service", Required: true})
	modelName := parser.String("n", "model", &argparse.Options{Help: "NN model name", Required: false, Default: "yolov8m"})
	epochs := parser.Int("e", "epochs", &argparse.Options{Help: "Maximum number of epochs", Required: false, Default: 30})
	patience := parser.Int("p", "patience", &argparse.Options{Help: "Stop after this many epochs without improvement in validation loss (0 disables)", Required: false, Default: 5})
	batchSize := parser.Int("b", "batch", &argparse.Options{Help: "Batch size", Required: false, Default: 8})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Image decode workers (0 = one per CPU)", Required: false, Default: 0})
	threshold := parser.Float("t", "threshold", &argparse.Options{Help: "Confidence threshold for validation detections", Required: false, Default: 0.5})
	checkpointDir := parser.String("o", "checkpoints", &argparse.Options{Help: "Directory for best/final checkpoints (empty disables)", Required: false, Default: "checkpoints"})
	runDBFile := parser.String("", "rundb", &argparse.Options{Help: "Record run metrics into this sqlite database", Required: false, Default: ""})
	flipProb := parser.Float("", "flip", &argparse.Options{Help: "Probability of horizontal mirror augmentation", Required: false, Default: 0.5})
	noAugment := parser.Flag("", "no-augment", &argparse.Options{Help: "Disable training set augmentation", Required: false})
	noMask := parser.Flag("", "no-mask", &argparse.Options{Help: "Do not send pixel validity masks", Required: false})
	strict := parser.Flag("", "strict", &argparse.Options{Help: "Stat every image file before decoding it", Required: false})
	shortSide := parser.Int("", "short-side", &argparse.Options{Help: "Resize images so the short side is this many pixels", Required: false, Default: 800})
	longSide := parser.Int("", "long-side", &argparse.Options{Help: "Never let the long side exceed this many pixels", Required: false, Default: 1333})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Seed for shuffling and augmentation (0 = clock)", Required: false, Default: 0})
	progressEvery := parser.Int("", "progress", &argparse.Options{Help: "Log training loss every this many batches (0 disables)", Required: false, Default: 50})
	maxMinutes := parser.Int("", "max-minutes", &argparse.Options{Help: "Abort the run after this many minutes (0 = no limit)", Required: false, Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	trainStore, err := coco.Load(*trainAnn)
	check(err)
	valStore, err := coco.Load(*valAnn)
	check(err)
	logger.Infof("Training set: %v images, %v annotations. Validation set: %v images, %v annotations.",
		len(trainStore.Images), len(trainStore.Annotations), len(valStore.Images), len(valStore.Annotations))

	valRoot := *valImages
	if valRoot == "" {
		valRoot = *trainImages
	}

	encoder := dataset.NewImageEncoder(dataset.EncoderOptions{ShortSide: *shortSide, LongSide: *longSide})

	trainSet, err := dataset.NewDataset(logger, trainStore, *trainImages, encoder, dataset.Options{
		Augment:         !*noAugment,
		FlipProbability: float32(*flipProb),
		StrictPaths:     *strict,
		Seed:            int64(*seed),
	})
	check(err)
	valSet, err := dataset.NewDataset(logger, valStore, valRoot, encoder, dataset.Options{
		StrictPaths: *strict,
	})
	check(err)

	trainLoader, err := loader.NewLoader(logger, trainSet, loader.Options{
		BatchSize: *batchSize,
		Shuffle:   true,
		Workers:   *workers,
		WithMask:  !*noMask,
		Seed:      int64(*seed),
	})
	check(err)
	valLoader, err := loader.NewLoader(logger, valSet, loader.Options{
		BatchSize: *batchSize,
		Workers:   *workers,
		WithMask:  !*noMask,
	})
	check(err)

	client, err := nnremote.Dial(logger, *server, *modelName)
	check(err)
	defer client.Close()

	// The remote service is the model, the optimizer, the backend and the
	// decoder, all over one connection.
	runner := &trainer.Runner{
		Log:           logger,
		Model:         client,
		Optimizer:     client,
		Backend:       client,
		PostProcessor: client,
		ConfThreshold: float32(*threshold),
		ProgressEvery: *progressEvery,
	}

	cfg := trainer.Config{
		Epochs:        *epochs,
		Patience:      *patience,
		CheckpointDir: *checkpointDir,
	}
	if *runDBFile != "" {
		db, err := rundb.Open(logger, *runDBFile)
		check(err)
		runID, err := db.StartRun(*modelName, *trainAnn, *epochs, *patience, *batchSize)
		check(err)
		cfg.Sink = rundb.NewSink(db, runID)
	}

	trainSource := trainer.SourceFunc(func(ctx context.Context) trainer.BatchStream { return trainLoader.Batches(ctx) })
	valSource := trainer.SourceFunc(func(ctx context.Context) trainer.BatchStream { return valLoader.Batches(ctx) })

	tr, err := trainer.NewTrainer(logger, runner, trainSource, valSource, cfg)
	check(err)

	ctx := context.Background()
	if *maxMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*maxMinutes)*time.Minute)
		defer cancel()
	}

	logger.Infof("Training %v: %v batches/epoch of %v, validating on %v batches", *modelName, trainLoader.NumBatches(), *batchSize, valLoader.NumBatches())
	_, err = tr.Run(ctx)
	check(err)
}
