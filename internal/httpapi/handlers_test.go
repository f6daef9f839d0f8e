package httpapi

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/dataset"
	"github.com/driveline/priceengine/internal/domain"
	"github.com/driveline/priceengine/internal/features"
	"github.com/driveline/priceengine/internal/market"
	"github.com/driveline/priceengine/internal/ml"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/platform/logger"
	"github.com/driveline/priceengine/internal/predict"
	"github.com/driveline/priceengine/internal/vision"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func apiCorpus(n int) []domain.CarRecord {
	rng := rand.New(rand.NewSource(8))
	year := time.Now().Year()
	out := make([]domain.CarRecord, n)
	for i := range out {
		age := 1 + rng.Intn(8)
		mileage := 20000 + rng.Intn(80000)
		out[i] = domain.CarRecord{
			Make: "Toyota", Model: "Corolla",
			Year: year - age, Mileage: mileage,
			Condition: domain.ConditionGood, FuelType: domain.FuelGasoline,
			Price: 26000 - float64(age)*1500 - float64(mileage)*0.05,
		}
	}
	return out
}

// newTestRouter trains an artifact when trained is set, otherwise leaves the
// registry dir empty so the no-model paths can be exercised.
func newTestRouter(t *testing.T, trained bool) *gin.Engine {
	t.Helper()
	log := logger.NewNop()
	records := apiCorpus(60)
	dir := t.TempDir()

	if trained {
		eng := features.Fit(records)
		X := make([][]float64, len(records))
		y := make([]float64, len(records))
		idx := make([]int, len(records))
		for i, r := range records {
			X[i] = eng.Vector(r)
			y[i] = r.Price
			idx[i] = i
		}
		scaler, err := model.FitScaler(X)
		if err != nil {
			t.Fatal(err)
		}
		X = scaler.ApplyAll(X)
		booster, err := ml.FitBooster(X, y, idx, ml.BoostConfig{Rounds: 40, LearningRate: 0.1, MaxDepth: 3, MinLeaf: 4, Subsample: 1, Loss: ml.LossSquared}, 42)
		if err != nil {
			t.Fatal(err)
		}
		art := &model.Artifact{
			Algorithm:    ml.AlgGBRT,
			Version:      "v100-aaaaaaaa",
			CreatedAt:    time.Now().UTC(),
			FeatureNames: eng.ColumnNames(),
			Metrics:      model.Metrics{R2: 0.9, RMSE: 800},
			Scaler:       scaler,
			Engineer:     eng,
		}
		if err := art.Seal(booster); err != nil {
			t.Fatal(err)
		}
		if _, err := model.SaveArtifact(dir, art); err != nil {
			t.Fatal(err)
		}
	}

	registry := model.NewRegistry(log, dir)
	pipeline := vision.NewPipeline(log, nil, nil, 4)
	validator := market.NewValidator(log, dataset.NewRecordSet(records), config.MarketConfig{TolerancePct: 0.3, YearWindow: 2})
	svc := predict.NewService(log, registry, pipeline, validator)

	cfg := &config.Config{
		Env:  "test",
		HTTP: config.HTTPConfig{Addr: ":0", MaxRequestBytes: 1 << 20},
	}
	return NewRouter(cfg, log, Handlers{
		Predict: NewPredictHandler(log, svc),
		Images:  NewImagesHandler(log, pipeline, cfg.HTTP.MaxRequestBytes),
		Health:  NewHealthHandler(registry),
	})
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPredictEndpoint(t *testing.T) {
	router := newTestRouter(t, true)
	year := time.Now().Year()

	body := `{"car":{"make":"Toyota","model":"Corolla","year":` +
		jsonInt(year-4) + `,"mileage":40000,"condition":"good","fuel_type":"gasoline"}}`
	w := doJSON(router, http.MethodPost, "/v1/predict", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var res domain.PredictionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("response: %v", err)
	}
	if res.Estimate < domain.MinPrice {
		t.Errorf("estimate %.2f below floor", res.Estimate)
	}
	if res.ModelVersion == "" {
		t.Error("model version missing from response")
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("request id header missing")
	}
}

func TestPredictEndpointBadRequests(t *testing.T) {
	router := newTestRouter(t, true)

	w := doJSON(router, http.MethodPost, "/v1/predict", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status %d", w.Code)
	}

	w = doJSON(router, http.MethodPost, "/v1/predict", `{"car":{"model":"Corolla","year":2020,"mileage":5}}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank make: status %d", w.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "invalid_record" {
		t.Errorf("error code = %q", env.Error.Code)
	}

	w = doJSON(router, http.MethodPost, "/v1/predict", `{"car":{"make":"a","model":"b","year":2020,"mileage":5},"image_base64":"$$$"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad base64: status %d", w.Code)
	}
}

func TestPredictEndpointNoModel(t *testing.T) {
	router := newTestRouter(t, false)
	year := time.Now().Year()

	body := `{"car":{"make":"Toyota","model":"Corolla","year":` + jsonInt(year-4) + `,"mileage":40000}}`
	w := doJSON(router, http.MethodPost, "/v1/predict", body)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var env ErrorEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "no_usable_model" {
		t.Errorf("error code = %q", env.Error.Code)
	}
}

func TestImageFeaturesEndpointAlwaysReturnsVector(t *testing.T) {
	router := newTestRouter(t, true)

	req := httptest.NewRequest(http.MethodPost, "/v1/images/features", bytes.NewReader([]byte("not really an image")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, extraction failure must not be an HTTP error", w.Code)
	}

	var res struct {
		Vector     []float64 `json:"vector"`
		Dim        int       `json:"dim"`
		ZeroVector bool      `json:"zero_vector"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Dim != 4 || len(res.Vector) != 4 {
		t.Errorf("dim = %d, vector len %d, want 4", res.Dim, len(res.Vector))
	}
	if !res.ZeroVector {
		t.Error("unextractable image should report the zero vector")
	}
}

func TestHealthEndpoints(t *testing.T) {
	ready := newTestRouter(t, true)
	w := doJSON(ready, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	w = doJSON(ready, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusOK {
		t.Errorf("readyz with model = %d, body %s", w.Code, w.Body.String())
	}

	empty := newTestRouter(t, false)
	w = doJSON(empty, http.MethodGet, "/readyz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz without model = %d, want 503", w.Code)
	}
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
