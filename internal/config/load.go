package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		u, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		if strings.TrimSpace(u) == "" {
			d.Duration = 0
			return nil
		}
		dd, err := time.ParseDuration(u)
		if err != nil {
			return err
		}
		d.Duration = dd
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a JSON string like \"5s\" or an int nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

func defaultConfig() *Config {
	return &Config{
		Env: "development",
		HTTP: HTTPConfig{
			Addr:              ":8090",
			ReadHeaderTimeout: Duration{Duration: 5 * time.Second},
			IdleTimeout:       Duration{Duration: 2 * time.Minute},
			ShutdownTimeout:   Duration{Duration: 15 * time.Second},
			MaxRequestBytes:   16 << 20,
		},
		Dataset: DatasetConfig{
			Path: "data/listings.csv",
		},
		Images: ImagesConfig{
			Backbone: BackboneConfig{
				EmbeddingsPath: "/v1/embeddings",
				Model:          "resnet50-frozen",
				Timeout:        Duration{Duration: 10 * time.Second},
			},
			RawDim:     2048,
			ReducedDim: 512,
			CacheTTL:   Duration{Duration: 0},
		},
		Registry: RegistryConfig{
			Dir: "artifacts",
		},
		Training: TrainingConfig{
			Seed:              42,
			HoldoutFrac:       0.2,
			SearchTrials:      50,
			MinUtilizationPct: 10,
			UtilSampleEvery:   Duration{Duration: 500 * time.Millisecond},
		},
		Market: MarketConfig{
			TolerancePct: 0.30,
			YearWindow:   2,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("PE_CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.json")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}

	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, err
		}
		loaded := defaultConfig()
		if err := json.Unmarshal(b, loaded); err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("PE_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("PE_DATASET_PATH")); v != "" {
		cfg.Dataset.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("PE_IMAGE_FEATURES_PATH")); v != "" {
		cfg.Dataset.ImageFeaturesPath = v
	}
	if v := strings.TrimSpace(os.Getenv("PE_MODEL_DIR")); v != "" {
		cfg.Registry.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("PE_BACKBONE_URL")); v != "" {
		cfg.Images.Backbone.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PE_BACKBONE_API_KEY")); v != "" {
		cfg.Images.Backbone.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.Images.RedisAddr = v
	}

	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		cfg.HTTP.Addr = ":8090"
	}
	if cfg.HTTP.MaxRequestBytes <= 0 {
		cfg.HTTP.MaxRequestBytes = 16 << 20
	}
	if cfg.HTTP.ShutdownTimeout.Duration <= 0 {
		cfg.HTTP.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}
	if strings.TrimSpace(cfg.Registry.Dir) == "" {
		return nil, errors.New("registry.dir is required")
	}
	if strings.TrimSpace(cfg.Dataset.Path) == "" {
		return nil, errors.New("dataset.path is required")
	}

	cfg.Images.Backbone.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Images.Backbone.BaseURL), "/")
	if strings.TrimSpace(cfg.Images.Backbone.EmbeddingsPath) == "" {
		cfg.Images.Backbone.EmbeddingsPath = "/v1/embeddings"
	}
	if cfg.Images.Backbone.Timeout.Duration <= 0 {
		cfg.Images.Backbone.Timeout = Duration{Duration: 10 * time.Second}
	}
	if cfg.Images.RawDim <= 0 {
		cfg.Images.RawDim = 2048
	}
	if cfg.Images.ReducedDim <= 0 {
		cfg.Images.ReducedDim = 512
	}
	if cfg.Images.ReducedDim > cfg.Images.RawDim {
		return nil, fmt.Errorf("images.reduced_dim %d exceeds raw_dim %d", cfg.Images.ReducedDim, cfg.Images.RawDim)
	}

	if cfg.Training.HoldoutFrac <= 0 || cfg.Training.HoldoutFrac >= 1 {
		cfg.Training.HoldoutFrac = 0.2
	}
	if cfg.Training.SearchTrials <= 0 {
		cfg.Training.SearchTrials = 50
	}
	if cfg.Training.MinUtilizationPct <= 0 {
		cfg.Training.MinUtilizationPct = 10
	}
	if cfg.Training.UtilSampleEvery.Duration <= 0 {
		cfg.Training.UtilSampleEvery = Duration{Duration: 500 * time.Millisecond}
	}
	if cfg.Training.Seed == 0 {
		cfg.Training.Seed = 42
	}

	if cfg.Market.TolerancePct <= 0 {
		cfg.Market.TolerancePct = 0.30
	}
	if cfg.Market.YearWindow <= 0 {
		cfg.Market.YearWindow = 2
	}

	return cfg, nil
}
