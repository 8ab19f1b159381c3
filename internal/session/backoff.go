package session

import (
	"time"

	"github.com/cenkalti/backoff"
)

// Default reconnect policy parameters.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitter         = 0.25
)

// BackoffConfig describes an exponential reconnect policy. Zero fields
// take the defaults above.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewBackoff returns an exponential policy that never gives up. Each delay
// is multiplied by Multiplier up to Max and randomized by +/- Jitter.
func NewBackoff(cfg BackoffConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = orDuration(cfg.Initial, DefaultInitialBackoff)
	b.MaxInterval = orDuration(cfg.Max, DefaultMaxBackoff)
	b.Multiplier = DefaultMultiplier
	if cfg.Multiplier >= 1 {
		b.Multiplier = cfg.Multiplier
	}
	b.RandomizationFactor = DefaultJitter
	if cfg.Jitter > 0 && cfg.Jitter < 1 {
		b.RandomizationFactor = cfg.Jitter
	}
	// Reconnect forever.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextDelay returns the next wait of policy. A policy that signals Stop
// is treated as asking for its maximum interval, since the supervisor
// never stops retrying on its own.
func nextDelay(policy backoff.BackOff) time.Duration {
	d := policy.NextBackOff()
	if d == backoff.Stop {
		policy.Reset()
		d = policy.NextBackOff()
		if d == backoff.Stop {
			d = DefaultMaxBackoff
		}
	}
	return d
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
