// Package ratelimit paces outbound requests per logical host. Each host has a one-slot semaphore so
// requests to it never overlap, plus a single-token bucket whose refill interval is redrawn from the
// profile's window after every send. Hosts are independent of each other.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/scholar-crawler/internal/fetcher"
	"github.com/JakeFAU/scholar-crawler/internal/metrics"
)

// Window is a jitter range for the minimum inter-request interval.
type Window struct {
	Min time.Duration
	Max time.Duration
}

// Config holds the interval windows per profile.
type Config struct {
	Aggressive Window
	Polite     Window
}

// DefaultConfig returns the stock windows: 1-3s for JSON APIs, 2-6s for HTML sources.
func DefaultConfig() Config {
	return Config{
		Aggressive: Window{Min: time.Second, Max: 3 * time.Second},
		Polite:     Window{Min: 2 * time.Second, Max: 6 * time.Second},
	}
}

// Gate manages per-host pacing.
type Gate struct {
	mu    sync.Mutex
	hosts map[string]*hostGate
	cfg   Config
}

type hostGate struct {
	slot    chan struct{}
	limiter *rate.Limiter
}

// New creates a Gate.
func New(cfg Config) *Gate {
	return &Gate{
		hosts: make(map[string]*hostGate),
		cfg:   cfg,
	}
}

// Ticket is exclusive access to one host. Release must be called exactly once.
type Ticket struct {
	host string
	hg   *hostGate
	cfg  Config
	once sync.Once
}

// Acquire blocks until no other request to host is in flight.
func (g *Gate) Acquire(ctx context.Context, host string) (*Ticket, error) {
	g.mu.Lock()
	hg, ok := g.hosts[host]
	if !ok {
		hg = &hostGate{
			slot:    make(chan struct{}, 1),
			limiter: rate.NewLimiter(every(g.cfg.Polite.Min), 1),
		}
		g.hosts[host] = hg
	}
	g.mu.Unlock()

	select {
	case hg.slot <- struct{}{}:
		return &Ticket{host: host, hg: hg, cfg: g.cfg}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire host slot %s: %w", host, ctx.Err())
	}
}

// Wait sleeps until the host's token is back, takes it, then sets the refill interval to one drawn
// from the profile's window. Call it immediately before every send; the returned time is the send
// time the interval runs from.
func (t *Ticket) Wait(ctx context.Context, profile fetcher.Profile) (time.Time, error) {
	start := time.Now()
	var sentAt time.Time
	for {
		now := time.Now()
		r := t.hg.limiter.ReserveN(now, 1)
		delay := r.DelayFrom(now)
		if delay == 0 {
			sentAt = now
			break
		}
		// Only the slot holder reserves, so the token is taken once the wait is over.
		r.CancelAt(now)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return time.Time{}, fmt.Errorf("rate limit wait: %w", ctx.Err())
		}
	}
	if waited := sentAt.Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(t.host, waited)
	}
	t.hg.limiter.SetLimitAt(sentAt, every(t.cfg.draw(profile)))
	return sentAt, nil
}

// Release frees the host for the next request.
func (t *Ticket) Release() {
	t.once.Do(func() {
		<-t.hg.slot
	})
}

func (c Config) draw(profile fetcher.Profile) time.Duration {
	w := c.Polite
	if profile == fetcher.Aggressive {
		w = c.Aggressive
	}
	if w.Max <= w.Min {
		return w.Min
	}
	return w.Min + time.Duration(rand.Int64N(int64(w.Max-w.Min)+1))
}

// every converts an interval into a limit. A zero interval stays finite so the bucket keeps counting.
func every(d time.Duration) rate.Limit {
	return rate.Every(max(d, time.Nanosecond))
}
