package service

import (
	"time"

	"salesflow/internal/config"
)

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// RetryPolicy computes the delay before the next attempt of a failed entry.
type RetryPolicy struct {
	Kind string
	Base time.Duration
	Max  time.Duration
}

func NewRetryPolicy(cfg config.WorkersConfig) RetryPolicy {
	return RetryPolicy{Kind: cfg.Backoff, Base: cfg.RetryDelay, Max: cfg.MaxRetryDelay}
}

// Delay returns the wait after the given number of attempts. Exponential
// delays double per attempt starting at Base and are capped at Max.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if p.Kind != BackoffExponential || attempts <= 1 {
		return p.Base
	}
	d := p.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	return d
}
