// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, applies environment
// overrides and validates the result. An empty path yields defaults plus
// environment only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides a small set of operational knobs from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MEDIATREE_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("MEDIATREE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEDIATREE_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("MEDIATREE_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("MEDIATREE_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("MEDIATREE_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
}

// Validate checks the configuration for inconsistencies. It returns the
// first problem found.
func Validate(cfg Config) error {
	switch cfg.Cache.Backend {
	case "badger", "redis", "memory", "off":
	default:
		return fmt.Errorf("cache.backend: unknown backend %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Backend == "badger" && cfg.Cache.Dir == "" {
		return fmt.Errorf("cache.dir: required for badger backend")
	}
	if cfg.Cache.Backend == "redis" && cfg.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr: required for redis backend")
	}
	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.Exporter {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.exporter: unknown exporter %q", cfg.Telemetry.Exporter)
		}
		if cfg.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint: required when telemetry is enabled")
		}
	}
	seen := make(map[string]struct{}, len(cfg.Shares))
	for i, s := range cfg.Shares {
		if s.Name == "" {
			return fmt.Errorf("shares[%d].name: required", i)
		}
		if s.Path == "" {
			return fmt.Errorf("shares[%d].path: required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("shares[%d].name: duplicate share name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	for i, r := range cfg.Renderers {
		if r.Name == "" {
			return fmt.Errorf("renderers[%d].name: required", i)
		}
		if r.ConcurrencyCap < 0 {
			return fmt.Errorf("renderers[%d].concurrency_cap: must be >= 0", i)
		}
	}
	if cfg.Resume.Enabled && cfg.Resume.DBPath == "" {
		return fmt.Errorf("resume.db_path: required when resume is enabled")
	}
	return nil
}
