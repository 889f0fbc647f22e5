package rundb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE training_run(
			id INTEGER PRIMARY KEY,
			model_name TEXT NOT NULL,
			dataset TEXT NOT NULL,
			epochs INT NOT NULL,
			patience INT NOT NULL,
			batch_size INT NOT NULL,
			started_at INT NOT NULL,
			finished_at INT,
			state TEXT NOT NULL,
			best_val_loss REAL
		);

		CREATE TABLE epoch(
			id INTEGER PRIMARY KEY,
			run_id INT NOT NULL,
			epoch INT NOT NULL,
			train_loss REAL NOT NULL,
			val_loss REAL NOT NULL,
			created_at INT NOT NULL
		);

		CREATE INDEX idx_epoch_run_id ON epoch (run_id);
	`))

	return migs
}
