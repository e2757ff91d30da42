// Package config defines service configuration and its loading rules.
package config

import "time"

// Config contains process configuration
type Config struct {
	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// DataDir is where the prediction log database lives.
	DataDir string `koanf:"data_dir"`

	// ArtifactDir holds the local artifact bundle (metadata.json, model.json).
	ArtifactDir string `koanf:"artifact_dir"`

	// RegistryURL is the base URL of the external model registry. Empty
	// disables registry resolution and goes straight to the local bundle.
	RegistryURL string `koanf:"registry_url"`

	// ModelName is the registered model name to resolve.
	ModelName string `koanf:"model_name"`

	// ModelVersion is a numeric version or the literal "latest".
	ModelVersion string `koanf:"model_version"`

	// RegistryTimeout bounds each registry call.
	RegistryTimeout time.Duration `koanf:"registry_timeout"`

	// RegistryMaxAttempts caps resolve/fetch retries.
	RegistryMaxAttempts int `koanf:"registry_max_attempts"`

	// RecorderQueueSize bounds the async prediction log queue.
	RecorderQueueSize int `koanf:"recorder_queue_size"`

	// RecorderWriteTimeout bounds a single log store write.
	RecorderWriteTimeout time.Duration `koanf:"recorder_write_timeout"`

	// MaxBatchSize caps the number of records in one batch request.
	MaxBatchSize int `koanf:"max_batch_size"`

	// RateLimitPerMin is the per-IP request budget per minute.
	RateLimitPerMin int `koanf:"rate_limit_per_min"`

	// RequestTimeout bounds a single prediction request.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// New returns a Config populated with defaults
func New() *Config {
	return &Config{
		Addr:                 ":8080",
		LogLevel:             "info",
		DataDir:              "./data",
		ArtifactDir:          "./artifacts",
		RegistryURL:          "",
		ModelName:            "revenue_prediction_xgboost",
		ModelVersion:         "latest",
		RegistryTimeout:      5 * time.Second,
		RegistryMaxAttempts:  3,
		RecorderQueueSize:    1024,
		RecorderWriteTimeout: 2 * time.Second,
		MaxBatchSize:         500,
		RateLimitPerMin:      120,
		RequestTimeout:       10 * time.Second,
	}
}
