package generation

import (
	"time"

	"swot-insights/internal/common/config"
)

type Config struct {
	EndpointURL    string
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffUnit    time.Duration
	SourceTag      string
}

// LoadConfig maps the generation section of the service configuration.
func LoadConfig(cfg config.GenerationConfig) *Config {
	c := &Config{
		EndpointURL:    cfg.EndpointURL,
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: config.GetDuration(cfg.AttemptTimeout),
		BackoffUnit:    config.GetDuration(cfg.BackoffUnit),
		SourceTag:      cfg.SourceTag,
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = 2 * time.Second
	}
	if c.SourceTag == "" {
		c.SourceTag = "generate-swot"
	}
}

// Backoff is the pause after a failed attempt: attempt × unit.
func (c *Config) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * c.BackoffUnit
}
