// Package ratelimit implements the adaptive delay controller that keeps
// the crawler under the publication APIs' unknown rate limits.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/havaian/sud-ai/internal/metrics"
)

const (
	serverErrorFactor = 1.5
	successDecay      = 0.9
	retryAfterMargin  = 500 * time.Millisecond
	lowQuotaThreshold = 10
	lowQuotaFloor     = 2 * time.Second
)

// Config holds the delay bounds for the controller.
type Config struct {
	// BaseDelay is the healthy-path pause between requests.
	BaseDelay time.Duration
	// MinDelay and MaxDelay clamp the adaptive delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// BackoffFactor scales CurrentDelay on each 429 without Retry-After.
	BackoffFactor float64
}

// State is the rate limit state observed so far. CurrentDelay only ever
// moves by multiplying with fixed factors and clamping into
// [MinDelay, MaxDelay].
type State struct {
	Limited           bool
	RetryAfter        time.Duration
	CurrentDelay      time.Duration
	ConsecutiveErrors int
	LastRequestAt     time.Time
}

// Controller classifies HTTP outcomes and computes the pause before the
// next request. It never fails; pausing is the caller's job. Safe for
// concurrent use: the attachment workers and the page loop share one
// instance.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	state  State
	pacer  *rate.Limiter
	logger *zap.Logger
}

// New creates a Controller. The token bucket pacer enforces the base
// delay on the healthy path so concurrent workers cannot collapse the
// spacing between requests.
func New(cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	pace := rate.Inf
	if cfg.BaseDelay > 0 {
		pace = rate.Every(cfg.BaseDelay)
	}
	initial := cfg.BaseDelay * 5
	if initial < cfg.MinDelay {
		initial = cfg.MinDelay
	}
	if initial > cfg.MaxDelay {
		initial = cfg.MaxDelay
	}
	return &Controller{
		cfg:    cfg,
		state:  State{CurrentDelay: initial},
		pacer:  rate.NewLimiter(pace, 1),
		logger: logger,
	}
}

// Observe feeds one completed HTTP exchange into the state machine and
// reports whether the caller may proceed without a backoff pause.
func (c *Controller) Observe(status int, header http.Header) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	proceed := true
	switch {
	case status == http.StatusTooManyRequests:
		c.state.Limited = true
		c.state.ConsecutiveErrors++
		proceed = false
		if ra := parseSeconds(header.Get("Retry-After")); ra > 0 {
			c.state.RetryAfter = ra
			c.logger.Warn("rate limit hit, server requested pause",
				zap.Duration("retry_after", ra))
		} else {
			c.escalate(c.cfg.BackoffFactor)
			c.logger.Warn("rate limit hit, escalating delay",
				zap.Duration("delay", c.state.CurrentDelay))
		}
	case status >= http.StatusInternalServerError:
		c.state.ConsecutiveErrors++
		c.escalate(serverErrorFactor)
		proceed = false
		c.logger.Warn("server error, escalating delay",
			zap.Int("status", status),
			zap.Duration("delay", c.state.CurrentDelay))
	case status == http.StatusOK:
		if c.state.ConsecutiveErrors > 0 {
			c.state.ConsecutiveErrors = 0
			c.decay()
			c.logger.Info("recovered, decaying delay",
				zap.Duration("delay", c.state.CurrentDelay))
		}
	}

	if remaining, ok := quotaRemaining(header); ok && remaining < lowQuotaThreshold {
		if c.state.CurrentDelay < lowQuotaFloor {
			c.state.CurrentDelay = lowQuotaFloor
		}
		c.logger.Warn("remote quota nearly exhausted",
			zap.Int("remaining", remaining))
	}
	return proceed
}

// ObserveFailure records a transport-level failure (timeout, connection
// reset), classified like a server error for backoff purposes.
func (c *Controller) ObserveFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ConsecutiveErrors++
	c.escalate(serverErrorFactor)
}

// NextDelay returns the pause to apply before the next request. A stored
// Retry-After value is consumed exactly once: returning it clears the
// value and the limited flag.
func (c *Controller) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LastRequestAt = time.Now().UTC()

	if c.state.RetryAfter > 0 {
		d := c.state.RetryAfter + retryAfterMargin
		c.state.RetryAfter = 0
		c.state.Limited = false
		return d
	}
	if c.state.ConsecutiveErrors > 0 {
		return c.state.CurrentDelay
	}
	return c.cfg.BaseDelay
}

// Wait suspends until the next request may be issued. On the healthy
// path it waits on the token bucket; otherwise it sleeps the adaptive
// delay computed by NextDelay.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	healthy := c.state.RetryAfter == 0 && c.state.ConsecutiveErrors == 0
	c.state.LastRequestAt = time.Now().UTC()
	c.mu.Unlock()

	if healthy {
		start := time.Now()
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		if waited := time.Since(start); waited > time.Millisecond {
			metrics.ObserveRateLimitDelay(waited)
		}
		return nil
	}

	d := c.NextDelay()
	metrics.ObserveRateLimitDelay(d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Snapshot returns a copy of the current state for reporting.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) escalate(factor float64) {
	d := time.Duration(float64(c.state.CurrentDelay) * factor)
	if d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	c.state.CurrentDelay = d
}

func (c *Controller) decay() {
	d := time.Duration(float64(c.state.CurrentDelay) * successDecay)
	if d < c.cfg.MinDelay {
		d = c.cfg.MinDelay
	}
	c.state.CurrentDelay = d
}

func parseSeconds(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func quotaRemaining(header http.Header) (int, bool) {
	v := header.Get("X-RateLimit-Remaining")
	if v == "" {
		v = header.Get("X-Rate-Limit-Remaining")
	}
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
