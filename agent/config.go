package agent

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds per-session tunables. Zero values fall back to the defaults
// from DefaultConfig.
type Config struct {
	// Model overrides the transport's default model identifier.
	Model string `env:"AGENT_MODEL"`
	// MaxIterations caps the number of model round trips per run. The cap
	// is a safety valve against infinite tool-use loops; hitting it is a
	// normal termination, not an error.
	MaxIterations int `env:"AGENT_MAX_ITERATIONS" envDefault:"10"`
	// MaxTokens is the per-turn generation limit.
	MaxTokens int `env:"AGENT_MAX_TOKENS" envDefault:"4096"`
	// Temperature is the sampling temperature.
	Temperature float64 `env:"AGENT_TEMPERATURE" envDefault:"1.0"`
	// HistoryWindow is how many prior-history messages are spliced into a
	// fresh session before the current message.
	HistoryWindow int `env:"AGENT_HISTORY_WINDOW" envDefault:"6"`
	// StreamTimeout bounds one streaming model turn. Model generation is
	// long-running, so the default is minutes-scale.
	StreamTimeout time.Duration `env:"AGENT_STREAM_TIMEOUT" envDefault:"5m"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 10,
		MaxTokens:     4096,
		Temperature:   1.0,
		HistoryWindow: 6,
		StreamTimeout: 5 * time.Minute,
	}
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when one is present.
func LoadConfig() (Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse agent config: %w", err)
	}
	return cfg, nil
}

// normalize fills zero fields with defaults.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = def.MaxTokens
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = def.StreamTimeout
	}
	return c
}
