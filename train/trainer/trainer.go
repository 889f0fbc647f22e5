package trainer

import (
	"context"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"

	"github.com/cyclopcam/finetune/pkg/nn"
)

// State is the lifecycle of a training run.
type State int

const (
	StateRunning      State = iota
	StateStoppedEarly       // Validation loss stopped improving before the epoch limit
	StateCompleted          // All epochs ran
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStoppedEarly:
		return "stopped early"
	case StateCompleted:
		return "completed"
	}
	return "unknown"
}

// MetricsSink receives metrics as training produces them. Calls happen on the
// training goroutine, so implementations should return quickly.
type MetricsSink interface {
	EpochDone(epoch int, trainLoss, valLoss float32) error
	RunDone(state State, bestValLoss float32) error
}

// Config is the run-level training configuration. Epoch-level knobs (such as
// the confidence threshold) live on the Runner.
type Config struct {
	// Epochs is the maximum number of epochs to run. Must be at least 1.
	Epochs int

	// Patience is the number of consecutive epochs without improvement in
	// validation loss before we stop early. Zero or negative disables early
	// stopping.
	Patience int

	// CheckpointDir is where "best" and "final" model snapshots get written.
	// Empty disables checkpointing.
	CheckpointDir string

	// Sink, if set, receives per-epoch and end-of-run metrics.
	Sink MetricsSink
}

// Trainer runs the full fine-tuning loop: train and evaluate every epoch,
// keep the checkpoint with the lowest validation loss, and stop early once
// validation loss flatlines.
type Trainer struct {
	log      logs.Log
	runner   *Runner
	trainSet BatchSource
	valSet   BatchSource
	cfg      Config
	ckpt     *CheckpointStore

	state           State
	bestValLoss     float32
	epochsSinceBest int
	epochsRun       int
	trainLosses     []float32
	valLosses       []float32
	lastDetections  []nn.ImageDetections
}

func NewTrainer(log logs.Log, runner *Runner, trainSet, valSet BatchSource, cfg Config) (*Trainer, error) {
	if cfg.Epochs < 1 {
		return nil, fmt.Errorf("config needs at least 1 epoch, not %v", cfg.Epochs)
	}
	var ckpt *CheckpointStore
	if cfg.CheckpointDir != "" {
		var err error
		ckpt, err = NewCheckpointStore(cfg.CheckpointDir)
		if err != nil {
			return nil, err
		}
	}
	return &Trainer{
		log:         log,
		runner:      runner,
		trainSet:    trainSet,
		valSet:      valSet,
		cfg:         cfg,
		ckpt:        ckpt,
		state:       StateRunning,
		bestValLoss: math32.Inf(1),
	}, nil
}

// Run trains until the epoch limit or until early stopping kicks in, and
// returns the terminal state. On error the returned state is StateRunning,
// and no final checkpoint is written.
func (t *Trainer) Run(ctx context.Context) (State, error) {
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		trainLoss, err := t.runner.Train(ctx, t.trainSet.Batches(ctx))
		if err != nil {
			return t.state, fmt.Errorf("epoch %v train: %w", epoch, err)
		}
		valLoss, detections, err := t.runner.Eval(ctx, t.valSet.Batches(ctx))
		if err != nil {
			return t.state, fmt.Errorf("epoch %v eval: %w", epoch, err)
		}
		t.epochsRun = epoch
		t.trainLosses = append(t.trainLosses, trainLoss)
		t.valLosses = append(t.valLosses, valLoss)
		t.lastDetections = detections
		t.log.Infof("Epoch %v/%v: train loss %.4f, validation loss %.4f", epoch, t.cfg.Epochs, trainLoss, valLoss)
		if t.cfg.Sink != nil {
			if err := t.cfg.Sink.EpochDone(epoch, trainLoss, valLoss); err != nil {
				return t.state, fmt.Errorf("metrics sink: %w", err)
			}
		}
		if valLoss < t.bestValLoss {
			t.bestValLoss = valLoss
			t.epochsSinceBest = 0
			if err := t.saveCheckpoint(CheckpointBest); err != nil {
				return t.state, err
			}
		} else {
			t.epochsSinceBest++
			if t.cfg.Patience > 0 && t.epochsSinceBest >= t.cfg.Patience {
				t.log.Infof("Validation loss has not improved in %v epochs. Stopping early.", t.epochsSinceBest)
				t.state = StateStoppedEarly
				break
			}
		}
	}
	if t.state == StateRunning {
		t.state = StateCompleted
	}
	if err := t.saveCheckpoint(CheckpointFinal); err != nil {
		return t.state, err
	}
	if t.cfg.Sink != nil {
		if err := t.cfg.Sink.RunDone(t.state, t.bestValLoss); err != nil {
			return t.state, fmt.Errorf("metrics sink: %w", err)
		}
	}
	t.log.Infof("Training %v after %v epochs. Best validation loss %.4f", t.state, t.epochsRun, t.bestValLoss)
	return t.state, nil
}

func (t *Trainer) State() State {
	return t.state
}

func (t *Trainer) BestValLoss() float32 {
	return t.bestValLoss
}

func (t *Trainer) EpochsRun() int {
	return t.epochsRun
}

// TrainLosses returns the per-epoch training losses, one per completed epoch.
func (t *Trainer) TrainLosses() []float32 {
	return t.trainLosses
}

// ValLosses returns the per-epoch validation losses, one per completed epoch.
func (t *Trainer) ValLosses() []float32 {
	return t.valLosses
}

// LastDetections returns the validation detections from the most recent
// epoch, flattened in batch order.
func (t *Trainer) LastDetections() []nn.ImageDetections {
	return t.lastDetections
}

// saveCheckpoint synchronizes replicas, then snapshots the unwrapped model.
// A nil store turns this into a no-op.
func (t *Trainer) saveCheckpoint(name string) error {
	if t.ckpt == nil {
		return nil
	}
	if err := t.runner.Backend.WaitForEveryone(); err != nil {
		return fmt.Errorf("checkpoint %v: %w", name, err)
	}
	raw, err := t.runner.Backend.Unwrap(t.runner.Model).Snapshot()
	if err != nil {
		return fmt.Errorf("checkpoint %v: %w", name, err)
	}
	if err := t.ckpt.Write(name, raw); err != nil {
		return err
	}
	t.log.Infof("Saved checkpoint %v (%.1f MB)", t.ckpt.Path(name), float64(len(raw))/(1024*1024))
	return nil
}
