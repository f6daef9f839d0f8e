package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/model"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	cp := loadCheckpoint(path, 42)
	if len(cp.Completed) != 0 {
		t.Fatal("fresh checkpoint not empty")
	}
	cp.Completed["gbrt"] = CheckpointedEntry{
		Metrics: model.Metrics{R2: 0.91, RMSE: 1100},
		Config:  ml.BoostConfig{Rounds: 250, LearningRate: 0.07},
	}
	if err := cp.save(path); err != nil {
		t.Fatal(err)
	}

	loaded := loadCheckpoint(path, 42)
	entry, ok := loaded.Completed["gbrt"]
	if !ok {
		t.Fatal("completed entry lost")
	}
	if entry.Metrics.R2 != 0.91 || entry.Config.Rounds != 250 {
		t.Errorf("entry corrupted: %+v", entry)
	}
}

func TestCheckpointSeedMismatchStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	cp := loadCheckpoint(path, 42)
	cp.Completed["gbrt"] = CheckpointedEntry{Failed: true, Reason: "oom"}
	if err := cp.save(path); err != nil {
		t.Fatal(err)
	}

	// A different seed means a different split; the old run must not leak in.
	other := loadCheckpoint(path, 99)
	if len(other.Completed) != 0 {
		t.Fatal("checkpoint from a different seed was reused")
	}
}

func TestClearCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cp := loadCheckpoint(path, 1)
	if err := cp.save(path); err != nil {
		t.Fatal(err)
	}
	clearCheckpoint(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("checkpoint file survived clear")
	}
}

func TestCheckpointNoPathIsNoop(t *testing.T) {
	cp := loadCheckpoint("", 1)
	if err := cp.save(""); err != nil {
		t.Fatalf("save without path: %v", err)
	}
	clearCheckpoint("")
}
