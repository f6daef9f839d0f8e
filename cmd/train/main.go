package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/dataset"
	"github.com/driveline/priceengine/internal/platform/logger"
	"github.com/driveline/priceengine/internal/platform/shutdown"
	"github.com/driveline/priceengine/internal/training"
)

func main() {
	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "training failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	set, err := dataset.NewLoader(log, cfg.Dataset.Path).Load(ctx)
	if err != nil {
		return err
	}

	var rawImages [][]float64
	if cfg.Training.UseImages {
		rawImages, err = loadImageFeatures(cfg.Dataset.ImageFeaturesPath, set.Len())
		if err != nil {
			return err
		}
		log.Info("image features loaded", "path", cfg.Dataset.ImageFeaturesPath, "rows", len(rawImages))
	}

	candidates, err := training.LoadCandidates(cfg.Training.CandidatesPath)
	if err != nil {
		return err
	}

	trainer := training.New(log, cfg.Training,
		training.NewNvidiaProbe(log),
		training.NewNvidiaUtilization(),
	)

	art, err := trainer.Run(ctx, set, rawImages, candidates, cfg.Images.ReducedDim, cfg.Registry.Dir)
	if err != nil {
		var accel *training.AccelerationError
		if errors.As(err, &accel) {
			log.Error("acceleration prerequisites unmet, run aborted before fitting")
			for _, d := range accel.Deficiencies {
				log.Error("deficiency", "component", d.Component, "detail", d.Detail)
			}
		}
		return err
	}

	log.Info("training complete",
		"version", art.Version,
		"algorithm", art.Algorithm,
		"r2", art.Metrics.R2,
		"rmse", art.Metrics.RMSE,
	)
	return nil
}

// loadImageFeatures reads the precomputed embedding rows that a separate
// batch extraction wrote next to the corpus. Row order must match the corpus
// 1:1; null rows stand in for unreachable photos.
func loadImageFeatures(path string, wantRows int) ([][]float64, error) {
	if path == "" {
		return nil, errors.New("training.use_images is set but dataset.image_features_path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image features: %w", err)
	}
	var rows [][]float64
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("parse image features: %w", err)
	}
	if len(rows) != wantRows {
		return nil, fmt.Errorf("image feature rows (%d) do not align with corpus rows (%d)", len(rows), wantRows)
	}
	return rows, nil
}
