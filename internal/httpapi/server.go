package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/driveline/priceengine/internal/config"
	"github.com/driveline/priceengine/internal/platform/logger"
)

const readyTimeout = 5 * time.Second

type Handlers struct {
	Predict *PredictHandler
	Images  *ImagesHandler
	Health  *HealthHandler
}

func NewRouter(cfg *config.Config, log *logger.Logger, h Handlers) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(recoverMiddleware(log))
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware(log))
	router.Use(otelgin.Middleware("priceengine"))
	router.MaxMultipartMemory = cfg.HTTP.MaxRequestBytes

	if len(cfg.HTTP.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.HTTP.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
			AllowCredentials: true,
		}))
	}

	router.GET("/healthz", h.Health.Healthz)
	router.GET("/readyz", h.Health.Readyz)

	v1 := router.Group("/v1")
	{
		v1.POST("/predict", h.Predict.Predict)
		v1.POST("/images/features", h.Images.Features)
	}

	return router
}

func NewServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
	}
}
