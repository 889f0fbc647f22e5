package nn

import "fmt"

// BackpropLoss is a Loss that can backpropagate itself. LocalBackend needs
// its losses to implement this.
type BackpropLoss interface {
	Loss
	Backward() error
}

// LocalBackend is the Backend for computation that lives in this process:
// there are no replicas, so the barrier is a no-op and Unwrap returns the
// model unchanged.
type LocalBackend struct{}

func (LocalBackend) Backward(loss Loss) error {
	bp, ok := loss.(BackpropLoss)
	if !ok {
		return fmt.Errorf("loss %T cannot backpropagate", loss)
	}
	return bp.Backward()
}

func (LocalBackend) WaitForEveryone() error {
	return nil
}

func (LocalBackend) Unwrap(model Model) Model {
	return model
}
