package analysis

import (
	"time"

	"swot-insights/internal/common/config"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

func LoadConfig(cfg config.LLMConfig) *Config {
	c := &Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		Timeout:     config.GetDuration(cfg.Timeout),
	}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 55 * time.Second
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		c.Temperature = 0.7
	}
}
