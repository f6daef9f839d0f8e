package training

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driveline/priceengine/internal/ml"
)

// CandidateSpec describes one independently-configured booster the trainer
// will fit and compare.
type CandidateSpec struct {
	Name string         `yaml:"name"`
	Base ml.BoostConfig `yaml:"base"`

	// Tune enables the bounded random hyperparameter search for this
	// candidate.
	Tune bool `yaml:"tune"`
}

// CandidateFile is the YAML document cmd/train reads.
type CandidateFile struct {
	Candidates []CandidateSpec `yaml:"candidates"`

	// Blend adds an averaging combiner over every successfully fitted
	// candidate as an extra entrant.
	Blend bool `yaml:"blend"`
}

// DefaultCandidates mirrors the production configuration: a least-squares
// booster (tuned) and a Huber booster for robustness to junk listings, plus
// the blend.
func DefaultCandidates() CandidateFile {
	return CandidateFile{
		Candidates: []CandidateSpec{
			{
				Name: ml.AlgGBRT,
				Base: ml.BoostConfig{Rounds: 300, LearningRate: 0.08, MaxDepth: 5, MinLeaf: 8, Subsample: 0.8, Loss: ml.LossSquared},
				Tune: true,
			},
			{
				Name: ml.AlgHubert,
				Base: ml.BoostConfig{Rounds: 300, LearningRate: 0.08, MaxDepth: 5, MinLeaf: 8, Subsample: 0.8, Loss: ml.LossHuber, HuberDelta: 1.0},
			},
		},
		Blend: true,
	}
}

// LoadCandidates reads the YAML spec, falling back to the defaults when no
// path is configured.
func LoadCandidates(path string) (CandidateFile, error) {
	if path == "" {
		return DefaultCandidates(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return CandidateFile{}, fmt.Errorf("read candidates file: %w", err)
	}
	var cf CandidateFile
	if err := yaml.Unmarshal(b, &cf); err != nil {
		return CandidateFile{}, fmt.Errorf("parse candidates file: %w", err)
	}
	if len(cf.Candidates) == 0 {
		return CandidateFile{}, fmt.Errorf("candidates file %s defines no candidates", path)
	}
	seen := map[string]bool{}
	for _, c := range cf.Candidates {
		if c.Name == "" {
			return CandidateFile{}, fmt.Errorf("candidates file %s has an unnamed candidate", path)
		}
		if seen[c.Name] {
			return CandidateFile{}, fmt.Errorf("duplicate candidate %q", c.Name)
		}
		seen[c.Name] = true
	}
	return cf, nil
}
