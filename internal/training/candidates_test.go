package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/driveline/priceengine/internal/ml"
)

func TestLoadCandidatesDefaults(t *testing.T) {
	cf, err := LoadCandidates("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cf.Candidates) != 2 {
		t.Fatalf("default candidates = %d, want 2", len(cf.Candidates))
	}
	if !cf.Blend {
		t.Error("defaults should include the blend entrant")
	}
	if cf.Candidates[0].Name != ml.AlgGBRT || cf.Candidates[1].Name != ml.AlgHubert {
		t.Errorf("unexpected default names: %s, %s", cf.Candidates[0].Name, cf.Candidates[1].Name)
	}
}

func TestLoadCandidatesFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidates.yaml")
	body := `
candidates:
  - name: gbrt
    tune: true
    base:
      rounds: 50
      learning_rate: 0.05
      loss: squared
blend: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cf, err := LoadCandidates(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cf.Candidates) != 1 || cf.Blend {
		t.Fatalf("got %+v", cf)
	}
	c := cf.Candidates[0]
	if !c.Tune || c.Base.Rounds != 50 || c.Base.LearningRate != 0.05 {
		t.Errorf("candidate parsed wrong: %+v", c)
	}
}

func TestLoadCandidatesRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("candidates: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCandidates(empty); err == nil {
		t.Fatal("empty candidate list accepted")
	}

	dup := filepath.Join(dir, "dup.yaml")
	body := "candidates:\n  - name: gbrt\n  - name: gbrt\n"
	if err := os.WriteFile(dup, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCandidates(dup); err == nil {
		t.Fatal("duplicate names accepted")
	}

	if _, err := LoadCandidates(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
