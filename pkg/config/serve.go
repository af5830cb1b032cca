package config

// DefaultServeListen is the default report server listen address.
const DefaultServeListen = ":8080"

// ServeConfig contains HTTP report-server settings.
type ServeConfig struct {
	Listen      string          `yaml:"listen,omitempty"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty"`
}

func (c *ServeConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultServeListen
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
}
