// Package nn is the interface layer between the training pipeline and the
// model computation, which runs out of process.
// The pipeline builds Batches; a Model, Optimizer, Backend and PostProcessor
// consume them. Use the nnremote package to talk to a real compute service.
package nn

import (
	"github.com/bmharper/cimg/v2"

	"github.com/cyclopcam/finetune/pkg/coco"
)

const DefaultConfidenceThreshold = 0.5

// Example is one encoded image: a model-ready pixel tensor, the ground truth
// labels, and the size of the image before encoding. Examples are created per
// access and owned by the caller.
type Example struct {
	Pixels     Tensor
	Labels     Labels
	OrigWidth  int
	OrigHeight int
}

// Batch is a fixed set of Examples, padded to common spatial dimensions.
// Pixels is B x C x Hmax x Wmax, where Hmax/Wmax are the maxima of this batch
// alone. Each example sits at the top-left, with zero fill elsewhere.
// Mask is true exactly where real pixels live, and is nil when mask
// generation is turned off.
// Labels stay ragged, aligned by batch position, because per-image object
// counts differ. OrigSizes is (height, width) per example, in batch order.
type Batch struct {
	Pixels    BatchTensor
	Mask      *PixelMask
	Labels    []Labels
	OrigSizes [][2]int
}

func (b *Batch) Len() int {
	return b.Pixels.N
}

// Loss is the scalar training loss of one forward pass.
type Loss interface {
	Value() float32
}

// Predictions is the raw output of the detection head for one batch. It is
// opaque to the pipeline; only the PostProcessor that produced the model's
// output knows how to decode it.
type Predictions any

// Output is what a Model returns for one forward pass. Preds may be nil in
// training mode, where nothing decodes them.
type Output struct {
	Loss  Loss
	Preds Predictions
}

// Model runs the detection network.
type Model interface {
	// Forward runs the network on one batch and returns the loss, plus raw
	// predictions. With grad set, the computation is recorded so that a
	// following Backend.Backward call can update gradients; without it,
	// parameters are left strictly read-only.
	Forward(batch *Batch, grad bool) (*Output, error)

	// Snapshot serializes the current parameter state into an opaque blob,
	// suitable for a checkpoint file.
	Snapshot() ([]byte, error)
}

// Optimizer updates model parameters from accumulated gradients.
type Optimizer interface {
	ZeroGrad() error
	Step() error
}

// Backend hides how the computation is spread across devices or replicas.
// Single process training uses LocalBackend.
type Backend interface {
	// Backward backpropagates the loss, aggregating gradients across
	// replicas when there are any.
	Backward(loss Loss) error

	// WaitForEveryone blocks until every replica reaches this point.
	WaitForEveryone() error

	// Unwrap collapses the replicas down to one canonical model, so that
	// exactly one parameter snapshot gets written.
	Unwrap(model Model) Model
}

// PostProcessor decodes raw predictions into detections in original image
// coordinates, dropping anything below the confidence threshold.
// The outer slice of the result is aligned with the batch.
type PostProcessor interface {
	Decode(preds Predictions, origSizes [][2]int, confidenceThreshold float32) ([][]ObjectDetection, error)
}

// Encoder turns a decoded image and its annotations into the model's input
// format: a normalized pixel tensor and a label structure.
type Encoder interface {
	Encode(img *cimg.Image, anns []coco.Annotation) (Tensor, Labels, error)
}
