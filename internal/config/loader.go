package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SANTA_"

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if SANTA_CONFIG is set
//  3. env (prefix SANTA_)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// SANTA_DISCORD_TOKEN -> discord_token
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would make the bot misbehave at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Prefix) == "" {
		return fmt.Errorf("%w: prefix must not be empty", ErrInvalidConfig)
	}
	switch c.StoreDriver {
	case "sqlite":
		if c.SqlitePath == "" {
			return fmt.Errorf("%w: sqlite_path must not be empty", ErrInvalidConfig)
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis_url must not be empty", ErrInvalidConfig)
		}
	case "memory":
	default:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	if c.MatchMaxAttempts <= 0 {
		return fmt.Errorf("%w: match_max_attempts must be positive", ErrInvalidConfig)
	}
	if c.MatchMaxRuns <= 0 {
		return fmt.Errorf("%w: match_max_runs must be positive", ErrInvalidConfig)
	}
	if c.DeadlineCheckSecs <= 0 {
		return fmt.Errorf("%w: deadline_check_secs must be positive", ErrInvalidConfig)
	}
	if c.DMRateRequests < 0 || c.DMRateWindowSecs < 0 {
		return fmt.Errorf("%w: dm rate limit must not be negative", ErrInvalidConfig)
	}
	return nil
}
