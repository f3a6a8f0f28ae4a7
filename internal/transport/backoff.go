package transport

import (
	"math/rand"
	"time"
)

// BackoffConfig tunes the retry and heartbeat policy around a session.
type BackoffConfig struct {
	// BaseDelay seeds the exponential backoff (delay = base * 2^(attempt-1)).
	BaseDelay time.Duration
	// MaxDelay caps the exponential term.
	MaxDelay time.Duration
	// MaxJitter bounds the random component added to every delay.
	MaxJitter time.Duration
	// ColdStartFloor is the minimum delay once more than FloorAfterFailures
	// consecutive failures accumulate; it gives a serverless backend room to
	// come up before the next attempt.
	ColdStartFloor time.Duration
	// FloorAfterFailures is the consecutive-failure threshold for the floor.
	FloorAfterFailures int
	// ColdStartRetryDelay is the extra fixed delay after a close code that
	// indicates a backend-side failure (1006, 1011).
	ColdStartRetryDelay time.Duration
	// MaxAttempts is the hard ceiling; reaching it fails the pipeline.
	MaxAttempts int
	// HeartbeatInterval is how often staleness is checked.
	HeartbeatInterval time.Duration
	// StaleAfter is how long the connection may carry no traffic before it
	// is treated as silently dead.
	StaleAfter time.Duration
	// ConnectTimeout bounds the connection handshake.
	ConnectTimeout time.Duration
	// Jitter overrides the random component; tests inject a fixed one.
	Jitter func(max time.Duration) time.Duration
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxJitter < 0 {
		c.MaxJitter = 0
	} else if c.MaxJitter == 0 {
		c.MaxJitter = 2 * time.Second
	}
	if c.ColdStartFloor <= 0 {
		c.ColdStartFloor = 15 * time.Second
	}
	if c.FloorAfterFailures <= 0 {
		c.FloorAfterFailures = 3
	}
	if c.ColdStartRetryDelay <= 0 {
		c.ColdStartRetryDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Jitter == nil {
		c.Jitter = randomJitter
	}
	return c
}

// backoffDelay computes the wait before the given attempt number (1-based).
func backoffDelay(attempt, consecutiveFailures int, cfg BackoffConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := cfg.MaxDelay
	if shift := attempt - 1; shift < 32 {
		exp := cfg.BaseDelay << shift
		if exp > 0 && exp < cfg.MaxDelay {
			delay = exp
		}
	}

	if consecutiveFailures > cfg.FloorAfterFailures && delay < cfg.ColdStartFloor {
		delay = cfg.ColdStartFloor
	}

	if cfg.Jitter != nil {
		delay += cfg.Jitter(cfg.MaxJitter)
	}
	return delay
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
