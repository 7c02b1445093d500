package session

import "time"

// BackoffConfig defines how attempt timeouts grow across retries.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transaction reliability defaults.
type Config struct {
	// MaxAttempts bounds how many times one request is written.
	MaxAttempts int
	// AttemptTimeout is how long each attempt waits for its confirmation.
	AttemptTimeout time.Duration
	// ResultTimeout is how long a confirmed two-phase command waits for
	// its callback.
	ResultTimeout time.Duration
	MaxPending    int
	Backoff       BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 2 * time.Second,
		ResultTimeout:  10 * time.Second,
		MaxPending:     64,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
			Jitter:       false,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.ResultTimeout <= 0 {
		c.ResultTimeout = d.ResultTimeout
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	return c
}
