package trainer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cyclopcam/finetune/pkg/nn"
)

type epochRecord struct {
	epoch     int
	trainLoss float32
	valLoss   float32
}

type fakeSink struct {
	epochs  []epochRecord
	state   State
	best    float32
	runDone int
	err     error
}

func (s *fakeSink) EpochDone(epoch int, trainLoss, valLoss float32) error {
	if s.err != nil {
		return s.err
	}
	s.epochs = append(s.epochs, epochRecord{epoch, trainLoss, valLoss})
	return nil
}

func (s *fakeSink) RunDone(state State, bestValLoss float32) error {
	s.runDone++
	s.state = state
	s.best = bestValLoss
	return nil
}

// oneBatchSource yields a single one-image batch per epoch, so that with the
// scripted model every epoch consumes exactly one train and one val loss.
func oneBatchSource() SourceFunc {
	return func(ctx context.Context) BatchStream {
		return &sliceStream{batches: []*nn.Batch{makeBatch(1)}}
	}
}

func TestTrainerCompleted(t *testing.T) {
	// Train/val losses interleave: val goes 3, 2, 1, so every epoch improves.
	runner, _, _, backend := newTestRunner(t, []float32{0.9, 3, 0.8, 2, 0.7, 1})
	sink := &fakeSink{}
	dir := t.TempDir()
	trainer, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{
		Epochs:        3,
		Patience:      2,
		CheckpointDir: dir,
		Sink:          sink,
	})
	require.NoError(t, err)

	state, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, StateCompleted, trainer.State())
	require.Equal(t, 3, trainer.EpochsRun())
	require.Equal(t, float32(1), trainer.BestValLoss())
	require.Equal(t, []float32{0.9, 0.8, 0.7}, trainer.TrainLosses())
	require.Equal(t, []float32{3, 2, 1}, trainer.ValLosses())

	require.Equal(t, []epochRecord{{1, 0.9, 3}, {2, 0.8, 2}, {3, 0.7, 1}}, sink.epochs)
	require.Equal(t, 1, sink.runDone)
	require.Equal(t, StateCompleted, sink.state)
	require.Equal(t, float32(1), sink.best)

	// Three best saves plus the final save, each preceded by a barrier
	require.Equal(t, 4, backend.barriers)
	require.Equal(t, 4, backend.unwraps)
	require.FileExists(t, filepath.Join(dir, "best.ckpt"))
	require.FileExists(t, filepath.Join(dir, "final.ckpt"))
}

func TestTrainerStopsEarly(t *testing.T) {
	// Val loss improves in epoch 1 and then rises, so with patience 2 the run
	// stops after epoch 3 = 1 + patience.
	runner, _, _, backend := newTestRunner(t, []float32{0.5, 1, 0.5, 2, 0.5, 3})
	sink := &fakeSink{}
	dir := t.TempDir()
	trainer, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{
		Epochs:        10,
		Patience:      2,
		CheckpointDir: dir,
		Sink:          sink,
	})
	require.NoError(t, err)

	state, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateStoppedEarly, state)
	require.Equal(t, 3, trainer.EpochsRun())
	require.Equal(t, float32(1), trainer.BestValLoss())
	require.Len(t, sink.epochs, 3)
	require.Equal(t, StateStoppedEarly, sink.state)

	// One best save in epoch 1 plus the final save
	require.Equal(t, 2, backend.barriers)

	// best is the epoch 1 snapshot (2 forwards in), final the one from the end
	best, err := os.ReadFile(filepath.Join(dir, "best.ckpt"))
	require.NoError(t, err)
	require.Equal(t, "params after 2 forwards", string(best))
	final, err := os.ReadFile(filepath.Join(dir, "final.ckpt"))
	require.NoError(t, err)
	require.Equal(t, "params after 6 forwards", string(final))
}

func TestTrainerEqualLossIsNotImprovement(t *testing.T) {
	// Improvement requires strictly lower val loss, so a flat line burns patience.
	runner, _, _, backend := newTestRunner(t, []float32{0.5, 2, 0.5, 2, 0.5, 2})
	dir := t.TempDir()
	trainer, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{
		Epochs:        3,
		Patience:      3,
		CheckpointDir: dir,
	})
	require.NoError(t, err)

	state, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, float32(2), trainer.BestValLoss())

	// Only epoch 1 saved a best checkpoint
	require.Equal(t, 2, backend.barriers)
	best, err := os.ReadFile(filepath.Join(dir, "best.ckpt"))
	require.NoError(t, err)
	require.Equal(t, "params after 2 forwards", string(best))
}

func TestTrainerPatienceDisabled(t *testing.T) {
	// Zero patience disables early stopping, even with val loss rising every epoch
	runner, _, _, _ := newTestRunner(t, []float32{0.5, 1, 0.5, 2, 0.5, 3, 0.5, 4})
	trainer, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{Epochs: 4})
	require.NoError(t, err)

	state, err := trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCompleted, state)
	require.Equal(t, 4, trainer.EpochsRun())
}

func TestTrainerNoCheckpointDir(t *testing.T) {
	runner, _, _, backend := newTestRunner(t, []float32{0.5, 1})
	trainer, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{Epochs: 1})
	require.NoError(t, err)

	_, err = trainer.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, backend.barriers)
	require.Equal(t, 0, backend.unwraps)
}

func TestTrainerSinkError(t *testing.T) {
	errSink := errors.New("sink down")
	runner, _, _, _ := newTestRunner(t, []float32{0.5, 1})
	trainer, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{
		Epochs: 1,
		Sink:   &fakeSink{err: errSink},
	})
	require.NoError(t, err)

	_, err = trainer.Run(context.Background())
	require.ErrorIs(t, err, errSink)
}

func TestTrainerEmptyEpoch(t *testing.T) {
	runner, _, _, _ := newTestRunner(t, []float32{1})
	empty := SourceFunc(func(ctx context.Context) BatchStream { return &sliceStream{} })
	dir := t.TempDir()
	trainer, err := NewTrainer(runner.Log, runner, empty, empty, Config{Epochs: 1, CheckpointDir: dir})
	require.NoError(t, err)

	state, err := trainer.Run(context.Background())
	require.ErrorIs(t, err, ErrNoBatches)
	require.Equal(t, StateRunning, state)

	// A failed run writes no final checkpoint
	_, err = os.Stat(filepath.Join(dir, "final.ckpt"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestTrainerBadConfig(t *testing.T) {
	runner, _, _, _ := newTestRunner(t, []float32{1})
	_, err := NewTrainer(runner.Log, runner, oneBatchSource(), oneBatchSource(), Config{Epochs: 0})
	require.Error(t, err)
}
