// Package nnremote talks to the model computation service over a websocket.
// The heavy lifting (the network, gradients, the optimizer) happens out of
// process, usually on a GPU box; this client moves batches in and losses,
// detections and parameter snapshots out.
//
// Client implements nn.Model, nn.Optimizer, nn.Backend and nn.PostProcessor,
// so one connection stands in for the whole compute side of a training run.
package nnremote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"

	"github.com/cyclopcam/finetune/pkg/nn"
)

// Client is a connection to the compute service.
// Operations are strictly one at a time; the lock serializes callers.
type Client struct {
	log  logs.Log
	conn *websocket.Conn
	lock sync.Mutex
}

// RemotePredictions refers to the raw predictions of one forward pass, which
// stay on the compute service until Decode asks for them.
type RemotePredictions struct {
	PassID int64
}

// remoteLoss is the loss of one forward pass. The gradient tape lives on the
// service, so Backward refers back to it by pass ID.
type remoteLoss struct {
	passID int64
	value  float32
}

func (l *remoteLoss) Value() float32 {
	return l.value
}

// Dial connects to the compute service at host ("gpubox:8090") and asks it to
// serve the named model.
func Dial(log logs.Log, host, model string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/train/v1"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to compute service %v: %w", host, err)
	}
	c := &Client{
		log:  log,
		conn: conn,
	}
	resp, err := c.roundTrip(&requestJSON{Op: opHello, Version: ProtocolVersion, Model: model})
	if err != nil {
		conn.Close()
		return nil, err
	}
	log.Infof("Connected to compute service at %v, serving %v", host, resp.Model)
	return c, nil
}

func (c *Client) Close() {
	c.conn.Close()
}

// Forward implements nn.Model
func (c *Client) Forward(batch *nn.Batch, grad bool) (*nn.Output, error) {
	header := &requestJSON{
		Op:    opForward,
		Train: grad,
		Batch: &batchHeaderJSON{
			N:         batch.Pixels.N,
			Channels:  batch.Pixels.Channels,
			Height:    batch.Pixels.Height,
			Width:     batch.Pixels.Width,
			HasMask:   batch.Mask != nil,
			Labels:    batch.Labels,
			OrigSizes: batch.OrigSizes,
		},
	}
	payload := encodeBatchPayload(batch)

	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.send(header); err != nil {
		return nil, err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return nil, err
	}
	resp, err := c.readResponse()
	if err != nil {
		return nil, err
	}
	return &nn.Output{
		Loss:  &remoteLoss{passID: resp.PassID, value: resp.Loss},
		Preds: RemotePredictions{PassID: resp.PassID},
	}, nil
}

// Snapshot implements nn.Model
func (c *Client) Snapshot() ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.send(&requestJSON{Op: opSnapshot}); err != nil {
		return nil, err
	}
	if _, err := c.readResponse(); err != nil {
		return nil, err
	}
	msgType, blob, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("Expected binary snapshot from compute service, got message type %v", msgType)
	}
	return blob, nil
}

// ZeroGrad implements nn.Optimizer
func (c *Client) ZeroGrad() error {
	_, err := c.roundTrip(&requestJSON{Op: opZeroGrad})
	return err
}

// Step implements nn.Optimizer
func (c *Client) Step() error {
	_, err := c.roundTrip(&requestJSON{Op: opStep})
	return err
}

// Backward implements nn.Backend
func (c *Client) Backward(loss nn.Loss) error {
	remote, ok := loss.(*remoteLoss)
	if !ok {
		return fmt.Errorf("loss %T did not come from this compute service", loss)
	}
	_, err := c.roundTrip(&requestJSON{Op: opBackward, PassID: remote.passID})
	return err
}

// WaitForEveryone implements nn.Backend
func (c *Client) WaitForEveryone() error {
	_, err := c.roundTrip(&requestJSON{Op: opBarrier})
	return err
}

// Unwrap implements nn.Backend. Replica handling lives on the service, which
// always snapshots the canonical parameters, so there is nothing to unwrap
// on this side.
func (c *Client) Unwrap(model nn.Model) nn.Model {
	return model
}

// Decode implements nn.PostProcessor
func (c *Client) Decode(preds nn.Predictions, origSizes [][2]int, confidenceThreshold float32) ([][]nn.ObjectDetection, error) {
	remote, ok := preds.(RemotePredictions)
	if !ok {
		return nil, fmt.Errorf("predictions %T did not come from this compute service", preds)
	}
	resp, err := c.roundTrip(&requestJSON{
		Op:        opDecode,
		PassID:    remote.PassID,
		OrigSizes: origSizes,
		Threshold: confidenceThreshold,
	})
	if err != nil {
		return nil, err
	}
	return resp.Detections, nil
}

func (c *Client) roundTrip(req *requestJSON) (*responseJSON, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.send(req); err != nil {
		return nil, err
	}
	return c.readResponse()
}

func (c *Client) send(req *requestJSON) error {
	j, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, j)
}

func (c *Client) readResponse() (*responseJSON, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.TextMessage {
		return nil, fmt.Errorf("Unexpected message type %v from compute service", msgType)
	}
	resp := &responseJSON{}
	if err := json.Unmarshal(data, resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("compute service: %v", resp.Error)
	}
	return resp, nil
}
