package training

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/dataset"
	"github.com/driveline/priceengine/internal/domain"
	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/platform/logger"
)

type fakeProbe struct {
	defs []Deficiency
}

func (p fakeProbe) Verify(context.Context, []string) []Deficiency { return p.defs }

type fakeUtil struct {
	v float64
}

func (u fakeUtil) Sample(context.Context) (float64, error) { return u.v, nil }

func trainingCorpus(n int) *dataset.RecordSet {
	rng := rand.New(rand.NewSource(3))
	year := time.Now().Year()
	makes := []string{"Toyota", "Honda", "Ford", "Mazda", "Kia"}
	models := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}

	records := make([]domain.CarRecord, n)
	for i := range records {
		age := 1 + rng.Intn(10)
		mileage := 10000 + rng.Intn(110000)
		records[i] = domain.CarRecord{
			Make:      makes[i%len(makes)],
			Model:     models[i%len(models)],
			Year:      year - age,
			Mileage:   mileage,
			Condition: domain.ConditionGood,
			FuelType:  domain.FuelGasoline,
			Price:     32000 - float64(age)*1800 - float64(mileage)*0.06 + rng.NormFloat64()*200,
		}
	}
	return dataset.NewRecordSet(records)
}

func trainerConfig(checkpointPath string) config.TrainingConfig {
	return config.TrainingConfig{
		Seed:              42,
		HoldoutFrac:       0.2,
		SearchTrials:      2,
		MinUtilizationPct: 10,
		UtilSampleEvery:   config.Duration{Duration: time.Millisecond},
		CheckpointPath:    checkpointPath,
	}
}

func singleCandidate() CandidateFile {
	return CandidateFile{
		Candidates: []CandidateSpec{{
			Name: ml.AlgGBRT,
			Base: ml.BoostConfig{Rounds: 80, LearningRate: 0.1, MaxDepth: 3, MinLeaf: 5, Subsample: 0.9, Loss: ml.LossSquared},
		}},
	}
}

func TestRunAbortsOnDeficiencies(t *testing.T) {
	dir := t.TempDir()
	probe := fakeProbe{defs: []Deficiency{
		{Component: "driver", Detail: "nvidia-smi not on PATH"},
		{Component: "gbrt", Detail: "accelerated path unverifiable"},
	}}
	tr := New(logger.NewNop(), trainerConfig(""), probe, fakeUtil{v: 99})

	_, err := tr.Run(context.Background(), trainingCorpus(50), nil, singleCandidate(), 0, dir)
	if !errors.Is(err, ErrAccelerationUnavailable) {
		t.Fatalf("got %v, want ErrAccelerationUnavailable", err)
	}
	var accel *AccelerationError
	if !errors.As(err, &accel) || len(accel.Deficiencies) != 2 {
		t.Fatalf("deficiency list lost: %v", err)
	}
	if tr.State() != StateAborted {
		t.Errorf("state = %v, want aborted", tr.State())
	}

	// Nothing may be serialized from an aborted run.
	tags, listErr := model.ListVersions(dir)
	if listErr != nil {
		t.Fatal(listErr)
	}
	if len(tags) != 0 {
		t.Errorf("aborted run wrote artifacts: %v", tags)
	}
}

func TestRunSerializesArtifact(t *testing.T) {
	dir := t.TempDir()
	tr := New(logger.NewNop(), trainerConfig(""), fakeProbe{}, fakeUtil{v: 55})

	art, err := tr.Run(context.Background(), trainingCorpus(120), nil, singleCandidate(), 0, dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tr.State() != StateSerialized {
		t.Errorf("state = %v, want serialized", tr.State())
	}
	if art.Algorithm != ml.AlgGBRT {
		t.Errorf("algorithm = %s", art.Algorithm)
	}
	if art.ImageModality {
		t.Error("tabular run marked image-modality")
	}
	if art.Metrics.R2 < 0.5 {
		t.Errorf("validation r2 = %.3f, expected a learnable corpus", art.Metrics.R2)
	}

	loaded, err := model.LoadArtifact(dir, art.Version)
	if err != nil {
		t.Fatalf("serialized artifact does not load: %v", err)
	}
	if len(loaded.FeatureNames) != len(loaded.Engineer.ColumnNames()) {
		t.Error("recorded feature names out of step with engineer")
	}
}

func TestRunWithImageModality(t *testing.T) {
	dir := t.TempDir()
	set := trainingCorpus(120)

	rng := rand.New(rand.NewSource(11))
	raw := make([][]float64, set.Len())
	for i := range raw {
		if i%7 == 0 {
			continue // photo unavailable
		}
		row := make([]float64, 6)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		raw[i] = row
	}

	tr := New(logger.NewNop(), trainerConfig(""), fakeProbe{}, fakeUtil{v: 55})
	art, err := tr.Run(context.Background(), set, raw, singleCandidate(), 3, dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !art.ImageModality || art.ImageDim != 3 || art.Reducer == nil {
		t.Fatalf("image modality not recorded: modality=%v dim=%d", art.ImageModality, art.ImageDim)
	}
}

func TestRunRejectsMisalignedImages(t *testing.T) {
	set := trainingCorpus(50)
	tr := New(logger.NewNop(), trainerConfig(""), fakeProbe{}, fakeUtil{v: 55})

	_, err := tr.Run(context.Background(), set, make([][]float64, set.Len()-1), singleCandidate(), 3, t.TempDir())
	if err == nil {
		t.Fatal("misaligned image rows accepted")
	}
	if tr.State() != StateAborted {
		t.Errorf("state = %v, want aborted", tr.State())
	}
}

func TestRunFailsCandidateOnIdleAccelerator(t *testing.T) {
	// The probe passes but utilization never rises above the floor: the run
	// was a silent CPU run and must not be serialized.
	tr := New(logger.NewNop(), trainerConfig(""), fakeProbe{}, fakeUtil{v: 2})

	_, err := tr.Run(context.Background(), trainingCorpus(120), nil, singleCandidate(), 0, t.TempDir())
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatalf("got %v, want ErrAllCandidatesFailed", err)
	}
	if tr.State() != StateAborted {
		t.Errorf("state = %v, want aborted", tr.State())
	}
}

func TestRunSkipsCheckpointedFailure(t *testing.T) {
	cpPath := t.TempDir() + "/checkpoint.json"
	cp := loadCheckpoint(cpPath, 42)
	cp.Completed[ml.AlgGBRT] = CheckpointedEntry{Failed: true, Reason: "oom in earlier run"}
	if err := cp.save(cpPath); err != nil {
		t.Fatal(err)
	}

	tr := New(logger.NewNop(), trainerConfig(cpPath), fakeProbe{}, fakeUtil{v: 55})
	_, err := tr.Run(context.Background(), trainingCorpus(80), nil, singleCandidate(), 0, t.TempDir())
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatalf("got %v, want ErrAllCandidatesFailed when the only candidate is checkpointed as failed", err)
	}
}
