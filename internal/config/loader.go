package config

import (
	"errors"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REVPRED_CONFIG is set
//  3. env (prefix REVPRED_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("REVPRED_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Environment variables: REVPRED_ADDR, REVPRED_MODEL_NAME, ...
	// Keep underscores so keys match the koanf tags on the struct.
	envProvider := env.Provider("REVPRED_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "revpred_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.ArtifactDir == "" {
		return nil, errors.New("artifact_dir must not be empty")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model_name must not be empty")
	}
	if cfg.RecorderQueueSize <= 0 {
		return nil, errors.New("recorder_queue_size must be positive")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, errors.New("max_batch_size must be positive")
	}
	return &cfg, nil
}
