package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// Regressor is anything that prices a single feature vector.
type Regressor interface {
	Predict(x []float64) float64
}

const (
	LossSquared = "squared"
	LossHuber   = "huber"
)

// BoostConfig are the tunable hyperparameters of one booster candidate.
type BoostConfig struct {
	Rounds        int     `json:"rounds" yaml:"rounds"`
	LearningRate  float64 `json:"learning_rate" yaml:"learning_rate"`
	MaxDepth      int     `json:"max_depth" yaml:"max_depth"`
	MinLeaf       int     `json:"min_leaf" yaml:"min_leaf"`
	Subsample     float64 `json:"subsample" yaml:"subsample"`
	FeatureSample float64 `json:"feature_sample" yaml:"feature_sample"`
	Loss          string  `json:"loss" yaml:"loss"`
	HuberDelta    float64 `json:"huber_delta" yaml:"huber_delta"`
}

func (c *BoostConfig) applyDefaults() {
	if c.Rounds <= 0 {
		c.Rounds = 200
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 4
	}
	if c.MinLeaf <= 0 {
		c.MinLeaf = 5
	}
	if c.Subsample <= 0 || c.Subsample > 1 {
		c.Subsample = 0.8
	}
	if c.FeatureSample <= 0 || c.FeatureSample > 1 {
		c.FeatureSample = 1
	}
	if c.Loss == "" {
		c.Loss = LossSquared
	}
	if c.HuberDelta <= 0 {
		c.HuberDelta = 1.0
	}
}

// Booster is a fitted gradient-boosted tree ensemble.
type Booster struct {
	Config BoostConfig `json:"config"`
	Base   float64     `json:"base"`
	Trees  []*Tree     `json:"trees"`
}

// FitBooster trains on the rows listed in trainIdx. Deterministic for a
// given seed.
func FitBooster(X [][]float64, y []float64, trainIdx []int, cfg BoostConfig, seed int64) (*Booster, error) {
	cfg.applyDefaults()
	if cfg.Loss != LossSquared && cfg.Loss != LossHuber {
		return nil, fmt.Errorf("unknown loss %q", cfg.Loss)
	}
	if len(trainIdx) == 0 {
		return nil, errors.New("no training rows")
	}

	rng := rand.New(rand.NewSource(seed))

	b := &Booster{Config: cfg, Base: mean(y, trainIdx)}
	pred := make([]float64, len(y))
	for _, i := range trainIdx {
		pred[i] = b.Base
	}

	// Huber delta is relative to the target spread so one knob works for
	// both log-price and raw-price targets.
	delta := cfg.HuberDelta * stddev(y, trainIdx)
	if delta <= 0 {
		delta = cfg.HuberDelta
	}

	residual := make([]float64, len(y))
	treeCfg := TreeConfig{MaxDepth: cfg.MaxDepth, MinLeaf: cfg.MinLeaf, FeatureSample: cfg.FeatureSample}

	for round := 0; round < cfg.Rounds; round++ {
		for _, i := range trainIdx {
			r := y[i] - pred[i]
			if cfg.Loss == LossHuber && math.Abs(r) > delta {
				// Clip the pseudo-residual so single wild listings do not
				// steer whole trees.
				if r > 0 {
					r = delta
				} else {
					r = -delta
				}
			}
			residual[i] = r
		}

		sample := subsample(trainIdx, cfg.Subsample, rng)
		tree := FitTree(X, residual, sample, treeCfg, rng)
		b.Trees = append(b.Trees, tree)

		for _, i := range trainIdx {
			pred[i] += cfg.LearningRate * tree.Predict(X[i])
			if math.IsNaN(pred[i]) || math.IsInf(pred[i], 0) {
				return nil, fmt.Errorf("non-finite prediction at round %d", round)
			}
		}
	}

	return b, nil
}

func (b *Booster) Predict(x []float64) float64 {
	out := b.Base
	for _, t := range b.Trees {
		out += b.Config.LearningRate * t.Predict(x)
	}
	return out
}

// Blend averages already-fitted members. It is the cheap stacking combiner:
// no second-level fit, just the mean of the member predictions.
type Blend struct {
	Members []*Booster `json:"members"`
}

func (bl *Blend) Predict(x []float64) float64 {
	if len(bl.Members) == 0 {
		return 0
	}
	var sum float64
	for _, m := range bl.Members {
		sum += m.Predict(x)
	}
	return sum / float64(len(bl.Members))
}

func subsample(idx []int, frac float64, rng *rand.Rand) []int {
	if frac >= 1 {
		return idx
	}
	k := int(frac * float64(len(idx)))
	if k < 1 {
		k = 1
	}
	out := make([]int, k)
	perm := rng.Perm(len(idx))
	for i := 0; i < k; i++ {
		out[i] = idx[perm[i]]
	}
	return out
}

func stddev(y []float64, idx []int) float64 {
	if len(idx) < 2 {
		return 0
	}
	m := mean(y, idx)
	var sq float64
	for _, i := range idx {
		d := y[i] - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(idx)-1))
}
