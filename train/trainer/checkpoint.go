package trainer

import (
	"fmt"
	"os"
	"path/filepath"
)

// Names of the checkpoints a run produces.
const (
	CheckpointBest  = "best"  // Lowest validation loss seen so far
	CheckpointFinal = "final" // Parameter state when the run ended
)

// CheckpointStore writes model snapshots into a directory, one file per
// checkpoint name. Writes land in a temporary file first and get renamed into
// place, so a crash can't leave a truncated checkpoint under the real name.
type CheckpointStore struct {
	dir string
}

func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, err
	}
	return &CheckpointStore{dir: dir}, nil
}

// Path returns the filename that Write(name) produces.
func (s *CheckpointStore) Path(name string) string {
	return filepath.Join(s.dir, name+".ckpt")
}

func (s *CheckpointStore) Write(name string, raw []byte) error {
	final := s.Path(name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("writing checkpoint %v: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("writing checkpoint %v: %w", name, err)
	}
	return nil
}

func (s *CheckpointStore) Read(name string) ([]byte, error) {
	return os.ReadFile(s.Path(name))
}
