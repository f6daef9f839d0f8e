package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/dataset"
	"github.com/driveline/priceengine/internal/httpapi"
	"github.com/driveline/priceengine/internal/market"
	"github.com/driveline/priceengine/internal/model"
	"github.com/driveline/priceengine/internal/observability"
	"github.com/driveline/priceengine/internal/platform/logger"
	"github.com/driveline/priceengine/internal/predict"
	"github.com/driveline/priceengine/internal/vision"
)

// App owns the serving-side object graph: registry, image pipeline, market
// validator, prediction service and the HTTP server in front of them.
type App struct {
	cfg *config.Config
	log *logger.Logger

	server       *http.Server
	otelShutdown func(context.Context) error
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "priceengine",
		Environment: cfg.Env,
	})

	var cache vision.FeatureCache
	if cfg.Images.RedisAddr != "" {
		cache, err = vision.NewRedisCache(log, cfg.Images.RedisAddr, cfg.Images.CacheTTL.Duration)
		if err != nil {
			log.Warn("redis cache unavailable, using in-process cache", "error", err)
			cache = vision.NewMemoryCache()
		}
	} else {
		cache = vision.NewMemoryCache()
	}

	var backbone vision.Backbone
	if cfg.Images.Backbone.BaseURL != "" {
		backbone, err = vision.NewHTTPBackbone(cfg.Images.Backbone, cfg.Images.RawDim)
		if err != nil {
			return nil, fmt.Errorf("init backbone: %w", err)
		}
	} else {
		log.Warn("no image backbone configured, predictions run tabular-only")
	}
	pipeline := vision.NewPipeline(log, backbone, cache, cfg.Images.ReducedDim)

	registry := model.NewRegistry(log, cfg.Registry.Dir)

	// The market validator needs the corpus; a server that cannot see the
	// corpus still serves model-only estimates with no_market_data warnings.
	corpus, err := dataset.NewLoader(log, cfg.Dataset.Path).Load(ctx)
	if err != nil {
		if !errors.Is(err, dataset.ErrUnavailable) {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		log.Warn("corpus unavailable, market validation disabled", "error", err)
		corpus = dataset.NewRecordSet(nil)
	}
	validator := market.NewValidator(log, corpus, cfg.Market)

	svc := predict.NewService(log, registry, pipeline, validator)
	// The image-features endpoint depends on the artifact's fitted reducer;
	// warming here makes it live as soon as the server is.
	if err := svc.Warm(ctx); err != nil {
		log.Warn("model warm-up failed, first request will retry", "error", err)
	}

	router := httpapi.NewRouter(cfg, log, httpapi.Handlers{
		Predict: httpapi.NewPredictHandler(log, svc),
		Images:  httpapi.NewImagesHandler(log, pipeline, cfg.HTTP.MaxRequestBytes),
		Health:  httpapi.NewHealthHandler(registry),
	})

	return &App{
		cfg:          cfg,
		log:          log,
		server:       httpapi.NewServer(cfg, router),
		otelShutdown: otelShutdown,
	}, nil
}

func (a *App) Logger() *logger.Logger { return a.log }

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown window.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.HTTP.Addr, "env", a.cfg.Env)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout.Duration)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server shutdown failed", "error", err)
	}
	if err := a.otelShutdown(shutdownCtx); err != nil {
		a.log.Warn("otel shutdown failed", "error", err)
	}
	return <-errCh
}
