// Package rundb records training runs and their per-epoch losses in a local
// sqlite database, so successive fine-tuning attempts can be compared.
package rundb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"

	"github.com/cyclopcam/finetune/train/trainer"
)

// RunDB is the record of all training runs on this machine.
type RunDB struct {
	log logs.Log
	db  *gorm.DB
}

// Open or create a run DB
func Open(log logs.Log, dbFilename string) (*RunDB, error) {
	os.MkdirAll(filepath.Dir(dbFilename), 0777)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open training run database %v: %w", dbFilename, err)
	}
	return &RunDB{
		log: log,
		db:  db,
	}, nil
}

// StartRun records the beginning of a training run and returns its ID.
func (r *RunDB) StartRun(modelName, dataset string, epochs, patience, batchSize int) (int64, error) {
	run := &TrainingRun{
		ModelName: modelName,
		Dataset:   dataset,
		Epochs:    epochs,
		Patience:  patience,
		BatchSize: batchSize,
		StartedAt: dbh.MakeIntTime(time.Now()),
		State:     trainer.StateRunning.String(),
	}
	if err := r.db.Create(run).Error; err != nil {
		return 0, err
	}
	return run.ID, nil
}

// RecordEpoch stores the losses of one finished epoch.
func (r *RunDB) RecordEpoch(runID int64, epoch int, trainLoss, valLoss float32) error {
	return r.db.Create(&Epoch{
		RunID:     runID,
		Epoch:     epoch,
		TrainLoss: trainLoss,
		ValLoss:   valLoss,
		CreatedAt: dbh.MakeIntTime(time.Now()),
	}).Error
}

// FinishRun stamps the run with its terminal state and best validation loss.
func (r *RunDB) FinishRun(runID int64, state string, bestValLoss float32) error {
	run := TrainingRun{}
	if err := r.db.First(&run, runID).Error; err != nil {
		return err
	}
	run.FinishedAt = dbh.MakeIntTime(time.Now())
	run.State = state
	run.BestValLoss = bestValLoss
	return r.db.Save(&run).Error
}

// Runs returns all recorded runs, newest first.
func (r *RunDB) Runs() ([]TrainingRun, error) {
	runs := []TrainingRun{}
	if err := r.db.Order("id DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Epochs returns the epochs of one run, in training order.
func (r *RunDB) Epochs(runID int64) ([]Epoch, error) {
	epochs := []Epoch{}
	if err := r.db.Where("run_id = ?", runID).Order("epoch").Find(&epochs).Error; err != nil {
		return nil, err
	}
	return epochs, nil
}
