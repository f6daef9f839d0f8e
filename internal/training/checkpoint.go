package training

import (
	"encoding/json"
	"os"
	"time"

	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/model"
)

// Checkpoint records which candidates have already completed so an
// interrupted run can resume between candidate-training steps. Resumption
// is best-effort: the checkpoint carries metrics and configs, not fitted
// trees, so a resumed run skips only the tuning search and refits each
// successful candidate from its recorded config.
type Checkpoint struct {
	StartedAt time.Time                    `json:"started_at"`
	Seed      int64                        `json:"seed"`
	Completed map[string]CheckpointedEntry `json:"completed"`
}

type CheckpointedEntry struct {
	Metrics model.Metrics `json:"metrics"`
	Failed  bool          `json:"failed"`
	Reason  string        `json:"reason,omitempty"`

	// Config is the (possibly tuned) hyperparameter set that produced the
	// metrics, so a resumed run can refit without repeating the search.
	Config ml.BoostConfig `json:"config"`
}

func loadCheckpoint(path string, seed int64) *Checkpoint {
	cp := &Checkpoint{StartedAt: time.Now().UTC(), Seed: seed, Completed: map[string]CheckpointedEntry{}}
	if path == "" {
		return cp
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cp
	}
	var loaded Checkpoint
	if err := json.Unmarshal(b, &loaded); err != nil || loaded.Seed != seed {
		// A checkpoint from a different seed describes a different split;
		// resuming from it would mix incompatible runs.
		return cp
	}
	if loaded.Completed == nil {
		loaded.Completed = map[string]CheckpointedEntry{}
	}
	return &loaded
}

func (cp *Checkpoint) save(path string) error {
	if path == "" {
		return nil
	}
	b, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func clearCheckpoint(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
