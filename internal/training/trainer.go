package training

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/dataset"
	"github.com/driveline/priceengine/internal/features"
	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/platform/logger"
	"github.com/driveline/priceengine/internal/vision"
)

// ErrAllCandidatesFailed means no candidate produced a usable model; the
// run aborts rather than serialize nothing.
var ErrAllCandidatesFailed = errors.New("all training candidates failed")

// State is the trainer's lifecycle position, observable for logging and
// tests.
type State int

const (
	StateIdle State = iota
	StateVerifyingAcceleration
	StateTrainingCandidates
	StateSelectingBest
	StateSerialized
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:                  "idle",
	StateVerifyingAcceleration: "verifying_acceleration",
	StateTrainingCandidates:    "training_candidates",
	StateSelectingBest:         "selecting_best",
	StateSerialized:            "serialized",
	StateAborted:               "aborted",
}

func (s State) String() string { return stateNames[s] }

// CandidateResult records one candidate's outcome, successful or not.
type CandidateResult struct {
	Name    string
	Config  ml.BoostConfig
	Metrics model.Metrics
	Model   ml.Regressor
	Err     error
}

// Trainer runs the offline batch training job: verify acceleration, fit and
// compare candidates, select, serialize. Single-process; it owns the
// accelerator for its duration.
type Trainer struct {
	log   *logger.Logger
	cfg   config.TrainingConfig
	probe AcceleratorProbe
	util  UtilizationSource

	mu    sync.Mutex
	state State
}

func New(log *logger.Logger, cfg config.TrainingConfig, probe AcceleratorProbe, util UtilizationSource) *Trainer {
	return &Trainer{
		log:   log.With("service", "ModelTrainer"),
		cfg:   cfg,
		probe: probe,
		util:  util,
		state: StateIdle,
	}
}

func (t *Trainer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Trainer) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.log.Info("trainer state", "state", s.String())
}

// Run executes the full pipeline and writes one artifact under artifactDir.
// rawImages, when non-nil, must align 1:1 with the corpus rows (nil rows
// mean the photo was unavailable and embed as zero).
func (t *Trainer) Run(
	ctx context.Context,
	set *dataset.RecordSet,
	rawImages [][]float64,
	candidates CandidateFile,
	reducedDim int,
	artifactDir string,
) (*model.Artifact, error) {
	useImages := rawImages != nil
	if useImages && len(rawImages) != set.Len() {
		t.setState(StateAborted)
		return nil, fmt.Errorf("image feature rows (%d) do not align with corpus rows (%d)", len(rawImages), set.Len())
	}

	// Verifying-Acceleration: all prerequisites checked before any fitting.
	t.setState(StateVerifyingAcceleration)
	names := make([]string, len(candidates.Candidates))
	for i, c := range candidates.Candidates {
		names[i] = c.Name
	}
	if defs := t.probe.Verify(ctx, names); len(defs) > 0 {
		t.setState(StateAborted)
		return nil, &AccelerationError{Deficiencies: defs}
	}

	t.setState(StateTrainingCandidates)

	records := set.Records()
	trainIdx, valIdx := set.Split(t.cfg.HoldoutFrac, t.cfg.Seed)

	eng := features.Fit(pick(records, trainIdx))

	X := make([][]float64, len(records))
	y := make([]float64, len(records))
	for i, r := range records {
		X[i] = eng.Vector(r)
		y[i] = r.Price
	}

	scaler, err := model.FitScaler(pickRows(X, trainIdx))
	if err != nil {
		t.setState(StateAborted)
		return nil, err
	}
	X = scaler.ApplyAll(X)

	// Image block: fit the reduction on training rows only, apply to all,
	// concatenate unscaled. Re-scaling a space the reduction already
	// calibrated would distort it.
	var reducer *vision.Reducer
	if useImages {
		rawDim := rawImageDim(rawImages)
		if rawDim == 0 {
			t.setState(StateAborted)
			return nil, errors.New("image modality requested but every embedding row is empty")
		}
		reducer, err = vision.FitReducer(pickRawRows(rawImages, trainIdx, rawDim), reducedDim)
		if err != nil {
			t.setState(StateAborted)
			return nil, err
		}
		for i := range X {
			raw := rawImages[i]
			if raw == nil {
				raw = make([]float64, rawDim)
			}
			reduced, err := reducer.Apply(raw)
			if err != nil {
				t.setState(StateAborted)
				return nil, err
			}
			X[i] = append(X[i], reduced...)
		}
	}

	cp := loadCheckpoint(t.cfg.CheckpointPath, t.cfg.Seed)
	results := t.fitCandidates(ctx, X, y, trainIdx, valIdx, candidates, cp)
	if err := ctx.Err(); err != nil {
		t.setState(StateAborted)
		return nil, err
	}

	if candidates.Blend {
		results = append(results, t.fitBlend(X, y, valIdx, results))
	}

	t.setState(StateSelectingBest)
	var best *CandidateResult
	failed := 0
	for i := range results {
		r := &results[i]
		if r.Err != nil {
			failed++
			t.log.Warn("candidate failed", "candidate", r.Name, "error", r.Err)
			continue
		}
		t.log.Info("candidate scored",
			"candidate", r.Name,
			"r2", r.Metrics.R2,
			"rmse", r.Metrics.RMSE,
			"mae", r.Metrics.MAE,
			"mape", r.Metrics.MAPE,
		)
		if best == nil || r.Metrics.Better(best.Metrics) {
			best = r
		}
	}
	if best == nil {
		t.setState(StateAborted)
		return nil, fmt.Errorf("%w (%d candidates)", ErrAllCandidatesFailed, failed)
	}

	art := &model.Artifact{
		Algorithm:     best.Name,
		Version:       model.NewVersionTag(),
		CreatedAt:     time.Now().UTC(),
		FeatureNames:  eng.ColumnNames(),
		ImageModality: useImages,
		Metrics:       best.Metrics,
		Scaler:        scaler,
		Engineer:      eng,
	}
	if useImages {
		art.ImageDim = reducedDim
		art.Reducer = reducer
	}
	if err := art.Seal(best.Model); err != nil {
		t.setState(StateAborted)
		return nil, err
	}
	path, err := model.SaveArtifact(artifactDir, art)
	if err != nil {
		t.setState(StateAborted)
		return nil, err
	}

	clearCheckpoint(t.cfg.CheckpointPath)
	t.setState(StateSerialized)
	t.log.Info("artifact serialized",
		"path", path,
		"version", art.Version,
		"algorithm", art.Algorithm,
		"r2", art.Metrics.R2,
	)
	return art, nil
}

func (t *Trainer) fitCandidates(
	ctx context.Context,
	X [][]float64,
	y []float64,
	trainIdx, valIdx []int,
	candidates CandidateFile,
	cp *Checkpoint,
) []CandidateResult {
	var results []CandidateResult

	for _, spec := range candidates.Candidates {
		if err := ctx.Err(); err != nil {
			return results
		}

		cfg := spec.Base
		cfg.Loss = lossFor(spec)

		if prev, ok := cp.Completed[spec.Name]; ok {
			if prev.Failed {
				t.log.Info("skipping candidate failed in checkpointed run", "candidate", spec.Name, "reason", prev.Reason)
				results = append(results, CandidateResult{Name: spec.Name, Err: errors.New("failed in checkpointed run: " + prev.Reason)})
				continue
			}
			// Resume: reuse the tuned config, skip the search, refit.
			t.log.Info("resuming candidate from checkpoint", "candidate", spec.Name)
			cfg = prev.Config
		} else if spec.Tune {
			cfg = randomSearch(ctx, t.log.With("candidate", spec.Name), X, y, trainIdx, valIdx, cfg, t.cfg.SearchTrials, t.cfg.Seed)
		}

		res := t.fitOne(ctx, spec.Name, X, y, trainIdx, valIdx, cfg)
		results = append(results, res)

		entry := CheckpointedEntry{Config: cfg, Metrics: res.Metrics}
		if res.Err != nil {
			entry.Failed = true
			entry.Reason = res.Err.Error()
		}
		cp.Completed[spec.Name] = entry
		if err := cp.save(t.cfg.CheckpointPath); err != nil {
			t.log.Warn("checkpoint write failed", "error", err)
		}
	}

	return results
}

func (t *Trainer) fitOne(ctx context.Context, name string, X [][]float64, y []float64, trainIdx, valIdx []int, cfg ml.BoostConfig) CandidateResult {
	w := startWatch(ctx, t.log.With("candidate", name), t.util, t.cfg.UtilSampleEvery.Duration)

	booster, fitErr := ml.FitBooster(X, y, trainIdx, cfg, t.cfg.Seed)
	peak := w.Stop()

	if fitErr != nil {
		return CandidateResult{Name: name, Config: cfg, Err: fitErr}
	}
	if peak < t.cfg.MinUtilizationPct {
		// The device claimed availability but the run never exercised it;
		// accepting this would mean a silent CPU run.
		return CandidateResult{
			Name:   name,
			Config: cfg,
			Err:    fmt.Errorf("accelerator never exercised (peak utilization %.1f%% < %.1f%%)", peak, t.cfg.MinUtilizationPct),
		}
	}

	pred := make([]float64, len(valIdx))
	actual := make([]float64, len(valIdx))
	for i, idx := range valIdx {
		pred[i] = booster.Predict(X[idx])
		actual[i] = y[idx]
	}
	return CandidateResult{
		Name:    name,
		Config:  cfg,
		Metrics: model.Evaluate(pred, actual),
		Model:   booster,
	}
}

// fitBlend averages every successful booster; with fewer than two members
// there is nothing to blend and the entrant records itself as failed.
func (t *Trainer) fitBlend(X [][]float64, y []float64, valIdx []int, results []CandidateResult) CandidateResult {
	var members []*ml.Booster
	for _, r := range results {
		if r.Err == nil {
			if b, ok := r.Model.(*ml.Booster); ok {
				members = append(members, b)
			}
		}
	}
	if len(members) < 2 {
		return CandidateResult{Name: ml.AlgBlend, Err: errors.New("fewer than two fitted members")}
	}

	blend := &ml.Blend{Members: members}
	pred := make([]float64, len(valIdx))
	actual := make([]float64, len(valIdx))
	for i, idx := range valIdx {
		pred[i] = blend.Predict(X[idx])
		actual[i] = y[idx]
	}
	return CandidateResult{
		Name:    ml.AlgBlend,
		Metrics: model.Evaluate(pred, actual),
		Model:   blend,
	}
}

func lossFor(spec CandidateSpec) string {
	if spec.Base.Loss != "" {
		return spec.Base.Loss
	}
	if spec.Name == ml.AlgHubert {
		return ml.LossHuber
	}
	return ml.LossSquared
}
