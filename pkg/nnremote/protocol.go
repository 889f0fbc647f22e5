package nnremote

import (
	"encoding/binary"
	"math"

	"github.com/cyclopcam/finetune/pkg/nn"
)

// ProtocolVersion is bumped whenever the wire format changes.
// The compute service rejects clients it doesn't understand.
const ProtocolVersion = 1

// Operations that the client sends. Every operation is one JSON text frame;
// "forward" is followed by one binary frame holding the batch payload, and
// the "snapshot" reply is followed by one binary frame holding the blob.
const (
	opHello    = "hello"
	opForward  = "forward"
	opBackward = "backward"
	opZeroGrad = "zero_grad"
	opStep     = "step"
	opBarrier  = "barrier"
	opSnapshot = "snapshot"
	opDecode   = "decode"
)

// SYNC-TRAIN-WIRE-REQUEST
type requestJSON struct {
	Op        string           `json:"op"`
	Version   int              `json:"version,omitempty"` // hello
	Model     string           `json:"model,omitempty"`   // hello
	Train     bool             `json:"train"`             // forward: record gradients
	Batch     *batchHeaderJSON `json:"batch,omitempty"`   // forward
	PassID    int64            `json:"passID,omitempty"`  // backward, decode
	OrigSizes [][2]int         `json:"origSizes,omitempty"`
	Threshold float32          `json:"threshold"` // decode
}

// batchHeaderJSON describes the binary frame that follows a forward request:
// N*Channels*Height*Width little endian float32 pixels, then N*Height*Width
// mask bytes (0 or 1) if HasMask.
// SYNC-TRAIN-WIRE-BATCH
type batchHeaderJSON struct {
	N         int         `json:"n"`
	Channels  int         `json:"channels"`
	Height    int         `json:"height"`
	Width     int         `json:"width"`
	HasMask   bool        `json:"hasMask"`
	Labels    []nn.Labels `json:"labels"`
	OrigSizes [][2]int    `json:"origSizes"`
}

// SYNC-TRAIN-WIRE-RESPONSE
type responseJSON struct {
	Error      string                 `json:"error,omitempty"`
	Model      string                 `json:"model,omitempty"` // hello: model the service is serving
	Loss       float32                `json:"loss"`            // forward
	PassID     int64                  `json:"passID,omitempty"`
	Detections [][]nn.ObjectDetection `json:"detections,omitempty"` // decode
}

// encodeBatchPayload packs the pixel tensor as little endian float32, then
// one byte per mask position when the batch carries a mask.
func encodeBatchPayload(batch *nn.Batch) []byte {
	size := len(batch.Pixels.Data) * 4
	if batch.Mask != nil {
		size += len(batch.Mask.Data)
	}
	out := make([]byte, size)
	for i, v := range batch.Pixels.Data {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	if batch.Mask != nil {
		maskOut := out[len(batch.Pixels.Data)*4:]
		for i, m := range batch.Mask.Data {
			if m {
				maskOut[i] = 1
			}
		}
	}
	return out
}
