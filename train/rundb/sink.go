package rundb

import (
	"github.com/cyclopcam/finetune/train/trainer"
)

// Sink feeds trainer metrics into the run database, one row per epoch.
// Create the run record first with StartRun, then hand the Sink to the
// trainer config.
type Sink struct {
	db    *RunDB
	runID int64
}

func NewSink(db *RunDB, runID int64) *Sink {
	return &Sink{db: db, runID: runID}
}

func (s *Sink) EpochDone(epoch int, trainLoss, valLoss float32) error {
	return s.db.RecordEpoch(s.runID, epoch, trainLoss, valLoss)
}

func (s *Sink) RunDone(state trainer.State, bestValLoss float32) error {
	return s.db.FinishRun(s.runID, state.String(), bestValLoss)
}
