package session

import (
	"math"
	"math/rand"
	"time"
)

// AttemptTimeout is how long attempt n (1-based) waits for its confirmation.
// Retries add a backoff step to cfg.AttemptTimeout.
func AttemptTimeout(cfg Config, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.AttemptTimeout
	}
	return cfg.AttemptTimeout + backoffStep(cfg.Backoff, attempt-1, rng)
}

// backoffStep grows InitialDelay geometrically per retry, capped at MaxDelay.
// Jitter spreads the step over [step/2, 3*step/2).
func backoffStep(b BackoffConfig, retry int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 || retry < 1 {
		return 0
	}
	step := float64(b.InitialDelay) * math.Pow(math.Max(b.Multiplier, 1), float64(retry-1))
	if b.MaxDelay > 0 {
		step = math.Min(step, float64(b.MaxDelay))
	}
	if b.Jitter && rng != nil {
		step *= 0.5 + rng.Float64()
	}
	return time.Duration(step)
}
