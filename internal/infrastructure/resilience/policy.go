package resilience

import "time"

// RetryPolicy is an exponential backoff schedule capped at Max.
type RetryPolicy struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// Delay returns the wait before retrying after the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	wait := p.Initial
	for i := 1; i < attempt && wait < p.Max; i++ {
		wait = time.Duration(float64(wait) * p.Multiplier)
	}
	return min(wait, p.Max)
}

func (p RetryPolicy) orDefaults(def RetryPolicy) RetryPolicy {
	p.Attempts = positiveOr(p.Attempts, def.Attempts)
	p.Initial = positiveOr(p.Initial, def.Initial)
	p.Max = max(positiveOr(p.Max, def.Max), p.Initial)
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	return p
}

// BreakerPolicy trips an endpoint once FailureRatio of at least MinRequests
// calls in the current window failed.
type BreakerPolicy struct {
	Disabled     bool
	MinRequests  uint32
	FailureRatio float64
	OpenFor      time.Duration
	Probes       uint32
}

func (p BreakerPolicy) orDefaults(def BreakerPolicy) BreakerPolicy {
	p.MinRequests = positiveOr(p.MinRequests, def.MinRequests)
	if p.FailureRatio <= 0 || p.FailureRatio > 1 {
		p.FailureRatio = def.FailureRatio
	}
	p.OpenFor = positiveOr(p.OpenFor, def.OpenFor)
	p.Probes = positiveOr(p.Probes, def.Probes)
	return p
}

// Config tunes retries and the per-endpoint circuit breakers of the API client.
type Config struct {
	Retry   RetryPolicy
	Breaker BreakerPolicy

	// OnStateChange is called after a breaker moves between closed, half-open and open.
	OnStateChange func(operation, from, to string)
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryPolicy{
			Attempts:   3,
			Initial:    250 * time.Millisecond,
			Max:        2 * time.Second,
			Multiplier: 2,
		},
		Breaker: BreakerPolicy{
			MinRequests:  5,
			FailureRatio: 0.6,
			OpenFor:      20 * time.Second,
			Probes:       1,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Retry = c.Retry.orDefaults(def.Retry)
	c.Breaker = c.Breaker.orDefaults(def.Breaker)
	return c
}

func positiveOr[T int | uint32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
