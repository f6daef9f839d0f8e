package training

import (
	"context"
	"math/rand"

	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/platform/logger"
)

// randomSearch runs a bounded random hyperparameter search around base,
// maximizing validation R². Deterministic for a given seed. Failed trials
// are skipped; when every trial fails the base config comes back unchanged.
func randomSearch(
	ctx context.Context,
	log *logger.Logger,
	X [][]float64,
	y []float64,
	trainIdx, valIdx []int,
	base ml.BoostConfig,
	trials int,
	seed int64,
) ml.BoostConfig {
	rng := rand.New(rand.NewSource(seed))

	best := base
	bestScore := scoreConfig(X, y, trainIdx, valIdx, base, seed)
	log.Info("tuning baseline", "r2", bestScore, "trials", trials)

	for trial := 0; trial < trials; trial++ {
		if ctx.Err() != nil {
			break
		}
		cfg := base
		cfg.Rounds = 100 + rng.Intn(400)
		cfg.LearningRate = 0.02 + rng.Float64()*0.18
		cfg.MaxDepth = 3 + rng.Intn(5)
		cfg.MinLeaf = 3 + rng.Intn(18)
		cfg.Subsample = 0.6 + rng.Float64()*0.4
		cfg.FeatureSample = 0.6 + rng.Float64()*0.4

		score := scoreConfig(X, y, trainIdx, valIdx, cfg, seed)
		if score > bestScore {
			bestScore = score
			best = cfg
			log.Debug("tuning improved", "trial", trial, "r2", score)
		}
	}

	log.Info("tuning finished", "best_r2", bestScore)
	return best
}

func scoreConfig(X [][]float64, y []float64, trainIdx, valIdx []int, cfg ml.BoostConfig, seed int64) float64 {
	b, err := ml.FitBooster(X, y, trainIdx, cfg, seed)
	if err != nil {
		return -1
	}
	pred := make([]float64, len(valIdx))
	actual := make([]float64, len(valIdx))
	for i, idx := range valIdx {
		pred[i] = b.Predict(X[idx])
		actual[i] = y[idx]
	}
	return model.Evaluate(pred, actual).R2
}
