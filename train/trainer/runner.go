// Package trainer drives fine-tuning: single epochs over batch streams, and
// the run-level loop with early stopping and checkpoints on top of them.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"

	"github.com/cyclopcam/finetune/pkg/nn"
	"github.com/cyclopcam/finetune/pkg/stats"
)

// ErrNoBatches is returned when an epoch's stream ends before yielding a
// single batch, which would otherwise make the mean loss 0/0.
var ErrNoBatches = errors.New("epoch stream yielded no batches")

const progressWindow = 32

// BatchStream yields the batches of one epoch. *loader.Stream is the real
// one.
type BatchStream interface {
	// Next returns the next batch, io.EOF at the end of the epoch, or the
	// first error the batch producer hit.
	Next() (*nn.Batch, error)
}

// BatchSource produces one BatchStream per epoch.
type BatchSource interface {
	Batches(ctx context.Context) BatchStream
}

// SourceFunc adapts a function to BatchSource, so a concrete loader whose
// Batches method returns its own stream type plugs straight in.
type SourceFunc func(ctx context.Context) BatchStream

func (f SourceFunc) Batches(ctx context.Context) BatchStream {
	return f(ctx)
}

// Runner executes single epochs: one full pass over a batch stream, training
// or evaluating. The mean it returns is the plain mean of per-batch losses,
// so a short final batch counts the same as a full one.
type Runner struct {
	Log           logs.Log
	Model         nn.Model
	Optimizer     nn.Optimizer
	Backend       nn.Backend
	PostProcessor nn.PostProcessor // May be nil, in which case Eval skips decoding

	// ConfThreshold drops decoded detections below this confidence.
	// Zero value will use the default.
	ConfThreshold float32

	// ProgressEvery logs a smoothed training loss every this many batches.
	// Zero disables progress logging.
	ProgressEvery int
}

// Train runs one training epoch and returns the mean batch loss.
// Model parameters mutate in place. Cancellation is honored between batches,
// never inside a model call.
func (r *Runner) Train(ctx context.Context, stream BatchStream) (float32, error) {
	losses := []float32{}
	recent := ringbuffer.NewRingP[float32](progressWindow)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		output, err := r.Model.Forward(batch, true)
		if err != nil {
			return 0, err
		}
		if err := r.Optimizer.ZeroGrad(); err != nil {
			return 0, err
		}
		if err := r.Backend.Backward(output.Loss); err != nil {
			return 0, err
		}
		if err := r.Optimizer.Step(); err != nil {
			return 0, err
		}
		losses = append(losses, output.Loss.Value())
		recent.Add(output.Loss.Value())
		if r.ProgressEvery > 0 && len(losses)%r.ProgressEvery == 0 {
			r.Log.Infof("Batch %v: loss %.4f (mean of last %v batches)", len(losses), smoothedLoss(&recent), recent.Len())
		}
	}
	if len(losses) == 0 {
		return 0, ErrNoBatches
	}
	return float32(stats.Mean(losses)), nil
}

// Eval runs one no-gradient pass and returns the mean batch loss plus the
// decoded detections of every image, flattened in batch order.
// Parameters are read-only throughout.
func (r *Runner) Eval(ctx context.Context, stream BatchStream) (float32, []nn.ImageDetections, error) {
	threshold := r.ConfThreshold
	if threshold == 0 {
		threshold = nn.DefaultConfidenceThreshold
	}
	losses := []float32{}
	detections := []nn.ImageDetections{}
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		batch, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, nil, err
		}
		output, err := r.Model.Forward(batch, false)
		if err != nil {
			return 0, nil, err
		}
		losses = append(losses, output.Loss.Value())
		if r.PostProcessor == nil {
			continue
		}
		decoded, err := r.PostProcessor.Decode(output.Preds, batch.OrigSizes, threshold)
		if err != nil {
			return 0, nil, err
		}
		if len(decoded) != batch.Len() {
			return 0, nil, fmt.Errorf("decoder returned %v results for a batch of %v", len(decoded), batch.Len())
		}
		for i, objects := range decoded {
			detections = append(detections, nn.ImageDetections{
				ImageID: batch.Labels[i].ImageID,
				Objects: objects,
			})
		}
	}
	if len(losses) == 0 {
		return 0, nil, ErrNoBatches
	}
	return float32(stats.Mean(losses)), detections, nil
}

func smoothedLoss(recent *ringbuffer.RingP[float32]) float64 {
	window := make([]float32, 0, recent.Len())
	for i := 0; i < recent.Len(); i++ {
		window = append(window, recent.Peek(i))
	}
	return stats.Mean(window)
}
