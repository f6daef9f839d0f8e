package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/driveline/priceengine/internal/domain"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/platform/logger"
	"github.com/driveline/priceengine/internal/predict"
	"github.com/driveline/priceengine/internal/vision"
)

type carRequest struct {
	Make       string  `json:"make"`
	Model      string  `json:"model"`
	Trim       string  `json:"trim"`
	Year       int     `json:"year"`
	Mileage    int     `json:"mileage"`
	Condition  string  `json:"condition"`
	FuelType   string  `json:"fuel_type"`
	EngineSize float64 `json:"engine_size"`
	Cylinders  int     `json:"cylinders"`
	Location   string  `json:"location"`
}

func (r carRequest) record() domain.CarRecord {
	return domain.CarRecord{
		Make:       r.Make,
		Model:      r.Model,
		Trim:       r.Trim,
		Year:       r.Year,
		Mileage:    r.Mileage,
		Condition:  domain.ParseCondition(r.Condition),
		FuelType:   domain.ParseFuelType(r.FuelType),
		EngineSize: r.EngineSize,
		Cylinders:  r.Cylinders,
		Location:   r.Location,
	}
}

type predictRequest struct {
	Car carRequest `json:"car"`

	// Exactly one image input may be supplied: raw bytes (base64) or a
	// precomputed feature vector from /v1/images/features.
	ImageBase64   string    `json:"image_base64,omitempty"`
	ImageFeatures []float64 `json:"image_features,omitempty"`
}

type PredictHandler struct {
	log *logger.Logger
	svc *predict.Service
}

func NewPredictHandler(log *logger.Logger, svc *predict.Service) *PredictHandler {
	return &PredictHandler{
		log: log.With("handler", "PredictHandler"),
		svc: svc,
	}
}

// POST /v1/predict
func (h *PredictHandler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "malformed_body", err)
		return
	}

	var image predict.ImageInput
	if req.ImageBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "malformed_image", err)
			return
		}
		image.Bytes = raw
	}
	image.Features = req.ImageFeatures

	result, err := h.svc.Predict(c.Request.Context(), req.Car.record(), image)
	if err != nil {
		switch {
		case errors.Is(err, predict.ErrInvalidRecord):
			RespondError(c, http.StatusBadRequest, "invalid_record", err)
		case errors.Is(err, model.ErrNoUsableModel):
			h.log.Error("prediction unavailable", "error", err)
			RespondError(c, http.StatusServiceUnavailable, "no_usable_model", errors.New("pricing is temporarily unavailable"))
		default:
			h.log.Error("prediction failed", "error", err)
			RespondError(c, http.StatusInternalServerError, "prediction_failed", errors.New("could not price this car"))
		}
		return
	}
	RespondOK(c, result)
}

type imageFeaturesResponse struct {
	Vector      []float64 `json:"vector"`
	Dim         int       `json:"dim"`
	ZeroVector  bool      `json:"zero_vector"`
	ExtractorID string    `json:"extractor_id,omitempty"`
}

type ImagesHandler struct {
	log      *logger.Logger
	pipeline *vision.Pipeline
	maxBytes int64
}

func NewImagesHandler(log *logger.Logger, pipeline *vision.Pipeline, maxBytes int64) *ImagesHandler {
	return &ImagesHandler{
		log:      log.With("handler", "ImagesHandler"),
		pipeline: pipeline,
		maxBytes: maxBytes,
	}
}

// POST /v1/images/features
// Accepts the raw image as the request body (or the "image" part of a
// multipart form) and always returns a vector: extraction failure is the
// zero vector, not an error.
func (h *ImagesHandler) Features(c *gin.Context) {
	imageBytes, err := h.readImage(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "unreadable_body", err)
		return
	}

	vec := h.pipeline.ExtractOrZero(c.Request.Context(), imageBytes)
	zero := true
	for _, v := range vec {
		if v != 0 {
			zero = false
			break
		}
	}
	RespondOK(c, imageFeaturesResponse{
		Vector:     vec,
		Dim:        len(vec),
		ZeroVector: zero,
	})
}

func (h *ImagesHandler) readImage(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		file, err := c.FormFile("image")
		if err != nil {
			return nil, err
		}
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, h.maxBytes))
	}
	return io.ReadAll(io.LimitReader(c.Request.Body, h.maxBytes))
}

type HealthHandler struct {
	registry *model.Registry
}

func NewHealthHandler(registry *model.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// GET /readyz
// Ready only when the registry can produce an active model.
func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()
	if _, err := h.registry.LoadActive(ctx); err != nil {
		RespondError(c, http.StatusServiceUnavailable, "not_ready", err)
		return
	}
	RespondOK(c, gin.H{"status": "ready", "model_version": h.registry.ActiveVersion()})
}
