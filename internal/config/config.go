package config

import "time"

type Duration struct {
	Duration time.Duration
}

type HTTPConfig struct {
	Addr              string   `json:"addr"`
	ReadHeaderTimeout Duration `json:"read_header_timeout"`
	IdleTimeout       Duration `json:"idle_timeout"`
	ShutdownTimeout   Duration `json:"shutdown_timeout"`
	MaxRequestBytes   int64    `json:"max_request_bytes"`
	CORSOrigins       []string `json:"cors_origins,omitempty"`
}

type DatasetConfig struct {
	// Path points at the tabular training corpus (CSV with header).
	Path string `json:"path"`

	// ImageFeaturesPath optionally points at a JSON array of per-row image
	// feature vectors; row order must match the tabular corpus 1:1.
	ImageFeaturesPath string `json:"image_features_path,omitempty"`
}

type BackboneConfig struct {
	// BaseURL is the frozen embedding server (OpenAI-style HTTP surface).
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key,omitempty"`

	// EmbeddingsPath defaults to /v1/embeddings.
	EmbeddingsPath string   `json:"embeddings_path,omitempty"`
	Model          string   `json:"model,omitempty"`
	Timeout        Duration `json:"timeout,omitempty"`
}

type ImagesConfig struct {
	Backbone BackboneConfig `json:"backbone"`

	// RawDim is the backbone's output width; ReducedDim is what the model
	// consumes after the fitted projection.
	RawDim     int `json:"raw_dim,omitempty"`
	ReducedDim int `json:"reduced_dim,omitempty"`

	// RedisAddr enables the shared read-through feature cache. Empty means
	// an in-process cache.
	RedisAddr string   `json:"redis_addr,omitempty"`
	CacheTTL  Duration `json:"cache_ttl,omitempty"`
}

type RegistryConfig struct {
	// Dir holds the versioned artifact bundles, newest tag wins.
	Dir string `json:"dir"`
}

type TrainingConfig struct {
	// CandidatesPath is the YAML file describing candidate algorithms and
	// their hyperparameter search spaces.
	CandidatesPath string `json:"candidates_path,omitempty"`

	Seed         int64   `json:"seed,omitempty"`
	HoldoutFrac  float64 `json:"holdout_frac,omitempty"`
	SearchTrials int     `json:"search_trials,omitempty"`

	// MinUtilizationPct is the accelerator utilization floor below which a
	// candidate run is treated as never having touched the device.
	MinUtilizationPct float64  `json:"min_utilization_pct,omitempty"`
	UtilSampleEvery   Duration `json:"util_sample_every,omitempty"`

	CheckpointPath string `json:"checkpoint_path,omitempty"`
	UseImages      bool   `json:"use_images,omitempty"`
}

type MarketConfig struct {
	// TolerancePct is the comparable band half-width; estimates outside
	// average*(1±tolerance) are clamped.
	TolerancePct float64 `json:"tolerance_pct,omitempty"`
	YearWindow   int     `json:"year_window,omitempty"`
}

type Config struct {
	Env      string         `json:"env"`
	HTTP     HTTPConfig     `json:"http"`
	Dataset  DatasetConfig  `json:"dataset"`
	Images   ImagesConfig   `json:"images"`
	Registry RegistryConfig `json:"registry"`
	Training TrainingConfig `json:"training"`
	Market   MarketConfig   `json:"market"`
}
