// Package retry implements the fetch retry discipline: only transient failures are retried, with
// exponential backoff and symmetric jitter.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
)

// Config holds backoff parameters.
type Config struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
	// Jitter is the relative spread applied to each delay (0.25 means ±25%).
	Jitter float64
}

// DefaultConfig returns base 1s, factor 2, 4 attempts, ±25% jitter.
func DefaultConfig() Config {
	return Config{
		Base:        time.Second,
		Factor:      2,
		MaxAttempts: 4,
		Jitter:      0.25,
	}
}

// ExponentialPolicy implements jittered exponential backoff.
type ExponentialPolicy struct {
	cfg Config
}

// NewExponential builds a policy, filling zero fields from DefaultConfig.
func NewExponential(cfg Config) *ExponentialPolicy {
	def := DefaultConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Factor < 1 {
		cfg.Factor = def.Factor
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		cfg.Jitter = def.Jitter
	}
	return &ExponentialPolicy{cfg: cfg}
}

// MaxAttempts is the total number of attempts, including the first.
func (p *ExponentialPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}

// ShouldRetry reports whether the attempt that just failed with err should be repeated.
// attempt is 1-based.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.cfg.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, fetcher.ErrTransient)
}

// Backoff returns the wait before the attempt following attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.Base) * math.Pow(p.cfg.Factor, float64(attempt-1))
	spread := delay * p.cfg.Jitter
	if spread < 1 {
		return time.Duration(delay)
	}
	// uniform in [delay-spread, delay+spread]
	offset := p.randomJitter(time.Duration(2 * spread))
	return time.Duration(delay-spread) + offset
}

func (p *ExponentialPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)+1))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
