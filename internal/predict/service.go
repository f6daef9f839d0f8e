package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/driveline/priceengine/internal/domain"
	"github.com/driveline/priceengine/internal/market"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/platform/logger"
	"github.com/driveline/priceengine/internal/vision"
)

// ErrInvalidRecord means the request is missing make or model; neither can
// be defaulted meaningfully, so the caller gets the error instead of a
// garbage estimate.
var ErrInvalidRecord = errors.New("invalid record")

const (
	// intervalZ is the 95% normal quantile applied to the artifact's RMSE.
	intervalZ = 1.96

	// fallbackIntervalFrac sizes the interval when the artifact predates
	// RMSE recording.
	fallbackIntervalFrac = 0.15
)

// Service prices a single car record. Stateless per request; the only
// shared state is the cached artifact and the image-feature cache, both
// read-only after first load.
type Service struct {
	log       *logger.Logger
	registry  *model.Registry
	pipeline  *vision.Pipeline
	validator *market.Validator
	tracer    trace.Tracer

	initOnce sync.Once
	initErr  error
}

func NewService(log *logger.Logger, registry *model.Registry, pipeline *vision.Pipeline, validator *market.Validator) *Service {
	return &Service{
		log:       log.With("service", "PredictionService"),
		registry:  registry,
		pipeline:  pipeline,
		validator: validator,
		tracer:    otel.Tracer("priceengine/predict"),
	}
}

// Warm loads the active artifact eagerly so the fitted reducer reaches the
// image pipeline before the first request, not on it. An empty registry is
// not a startup error; the load is simply retried on first predict.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.active(ctx)
	if errors.Is(err, model.ErrNoUsableModel) {
		return nil
	}
	return err
}

// active loads the artifact and runs the one-time order assertion. Column
// order is load-bearing: a mismatch between the engineer's output order and
// the artifact's recorded order is a correctness bug, not a recoverable
// condition, so it is checked once at load, not per request.
func (s *Service) active(ctx context.Context) (*model.Artifact, error) {
	art, err := s.registry.LoadActive(ctx)
	if err != nil {
		return nil, err
	}
	s.initOnce.Do(func() {
		recorded := art.FeatureNames
		current := art.Engineer.ColumnNames()
		if len(recorded) != len(current) {
			s.initErr = fmt.Errorf("artifact records %d feature columns, engineer produces %d", len(recorded), len(current))
			return
		}
		for i := range recorded {
			if recorded[i] != current[i] {
				s.initErr = fmt.Errorf("feature column %d is %q in artifact but %q in engineer", i, recorded[i], current[i])
				return
			}
		}
		if art.ImageModality {
			s.pipeline.SetReducer(art.Reducer)
		}
	})
	if s.initErr != nil {
		return nil, s.initErr
	}
	return art, nil
}

// ImageInput is the optional image side of a request: either raw bytes to
// run through the pipeline, or a feature vector the marketplace already
// extracted via the image-features endpoint.
type ImageInput struct {
	Bytes    []byte
	Features []float64
}

func (in ImageInput) empty() bool {
	return len(in.Bytes) == 0 && len(in.Features) == 0
}

// Predict turns a car record (and optional image) into a priced,
// market-validated estimate.
func (s *Service) Predict(ctx context.Context, rec domain.CarRecord, image ImageInput) (*domain.PredictionResult, error) {
	ctx, span := s.tracer.Start(ctx, "predict")
	defer span.End()

	if strings.TrimSpace(rec.Make) == "" || strings.TrimSpace(rec.Model) == "" {
		return nil, fmt.Errorf("%w: make and model are required", ErrInvalidRecord)
	}
	if err := rec.Validate(false); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	art, err := s.active(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("model.version", art.Version),
		attribute.String("model.algorithm", art.Algorithm),
	)

	x := art.Scaler.Apply(art.Engineer.Vector(rec))

	imageUsed := false
	if art.ImageModality {
		// Image columns join unscaled; the fitted reduction already
		// calibrated that space.
		var vec []float64
		switch {
		case len(image.Features) == art.ImageDim:
			vec = image.Features
		case len(image.Features) > 0:
			s.log.Warn("supplied image features have wrong width, using zero vector",
				"got", len(image.Features), "want", art.ImageDim)
			vec = s.pipeline.Zero()
		default:
			vec = s.pipeline.ExtractOrZero(ctx, image.Bytes)
		}
		imageUsed = !image.empty() && !allZero(vec)
		x = append(x, vec...)
	}

	raw := art.Regressor().Predict(x)
	estimate := math.Max(raw, domain.MinPrice)

	adjusted, summary, warnings := s.validator.Validate(estimate, rec)
	adjusted = math.Max(adjusted, domain.MinPrice)

	lower, upper := s.interval(adjusted, art.Metrics.RMSE)

	result := &domain.PredictionResult{
		Estimate:     round2(adjusted),
		Lower:        round2(lower),
		Upper:        round2(upper),
		Market:       summary,
		Warnings:     warnings,
		ModelVersion: art.Version,
		Algorithm:    art.Algorithm,
		ImageUsed:    imageUsed,
	}
	if result.Warnings == nil {
		result.Warnings = []domain.Warning{}
	}

	s.log.Debug("prediction served",
		"make", rec.Make, "model", rec.Model, "year", rec.Year,
		"estimate", result.Estimate,
		"warnings", len(result.Warnings),
	)
	return result, nil
}

// interval is estimate ± z·RMSE, or a fixed fraction when RMSE was never
// recorded. The lower bound is floored at zero; a negative price bound is
// meaningless.
func (s *Service) interval(estimate, rmse float64) (lower, upper float64) {
	half := intervalZ * rmse
	if rmse <= 0 {
		half = fallbackIntervalFrac * estimate
	}
	lower = math.Max(estimate-half, 0)
	upper = estimate + half
	return lower, upper
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
