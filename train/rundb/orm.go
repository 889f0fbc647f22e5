package rundb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// TrainingRun is one invocation of fine-tuning: a dataset, a model, and the
// settings that shaped the run.
type TrainingRun struct {
	BaseModel
	ModelName   string      `json:"modelName"`
	Dataset     string      `json:"dataset"` // Path of the annotation file we trained on
	Epochs      int         `json:"epochs"`  // Epoch limit that the run was configured with
	Patience    int         `json:"patience"`
	BatchSize   int         `json:"batchSize"`
	StartedAt   dbh.IntTime `json:"startedAt"`
	FinishedAt  dbh.IntTime `json:"finishedAt" gorm:"default:null"`
	State       string      `json:"state"`
	BestValLoss float32     `json:"bestValLoss"`
}

// Epoch is the outcome of one epoch of a training run.
type Epoch struct {
	BaseModel
	RunID     int64       `json:"runID"`
	Epoch     int         `json:"epoch"` // 1-based
	TrainLoss float32     `json:"trainLoss"`
	ValLoss   float32     `json:"valLoss"`
	CreatedAt dbh.IntTime `json:"createdAt"`
}
