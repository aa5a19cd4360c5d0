// Package config defines the bot configuration and how it is loaded.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogPretty switches zerolog to its human readable console writer.
	LogPretty bool `koanf:"log_pretty"`

	// DiscordToken is the bot token, without the "Bot " prefix.
	DiscordToken string `koanf:"discord_token"`

	// Prefix every command must start with.
	Prefix string `koanf:"prefix"`

	// StoreDriver selects the persistent store: sqlite, redis or memory.
	StoreDriver string `koanf:"store_driver"`
	SqlitePath  string `koanf:"sqlite_path"`
	RedisURL    string `koanf:"redis_url"`

	// MatchMaxAttempts caps the shuffles of the cross-country pass.
	MatchMaxAttempts int `koanf:"match_max_attempts"`

	// MatchMaxRuns is how many times a match is retried when the engine gives up.
	MatchMaxRuns int `koanf:"match_max_runs"`

	// DeadlineCheckSecs is the period of the signup deadline check.
	DeadlineCheckSecs int `koanf:"deadline_check_secs"`

	// DM rate limit: at most DMRateRequests messages every DMRateWindowSecs.
	DMRateRequests   int `koanf:"dm_rate_requests"`
	DMRateWindowSecs int `koanf:"dm_rate_window_secs"`

	// MinLevel is how many days a member must have been in the server to
	// join. 0 lets everybody join.
	MinLevel int `koanf:"min_level"`

	// MetricsAddr serves /metrics when not empty, e.g. ":9090".
	MetricsAddr string `koanf:"metrics_addr"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:          "info",
		LogPretty:         false,
		Prefix:            "santa",
		StoreDriver:       "sqlite",
		SqlitePath:        "secretsanta.db",
		RedisURL:          "redis://localhost:6379/0",
		MatchMaxAttempts:  1000,
		MatchMaxRuns:      3,
		DeadlineCheckSecs: 60,
		DMRateRequests:    5,
		DMRateWindowSecs:  5,
		MinLevel:          0,
		MetricsAddr:       "",
	}
}

func (c *Config) DeadlineCheck() time.Duration {
	return time.Duration(c.DeadlineCheckSecs) * time.Second
}

func (c *Config) DMRateWindow() time.Duration {
	return time.Duration(c.DMRateWindowSecs) * time.Second
}
