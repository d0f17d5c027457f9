// Package limiter provides token-bucket admission control for outbound
// calls to rate-limited external services. Admission never fails, it only
// delays; callers are served in strict FIFO order.
package limiter

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("limiter: closed")

const (
	defaultQueueDepth = 1024
	minBackoff        = 5 * time.Millisecond
	maxBackoff        = 250 * time.Millisecond
)

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithBurst sets the maximum number of tokens the bucket can accumulate.
// Values below the sustained rate are raised to it.
func WithBurst(burst float64) Option {
	return func(l *RateLimiter) {
		l.burst = burst
	}
}

// WithPerMinuteCap adds a hard cap on admissions per rolling 60-second
// window, gating independently of the token count.
func WithPerMinuteCap(cap int) Option {
	return func(l *RateLimiter) {
		l.perMinuteCap = cap
	}
}

type waiter struct {
	ctx  context.Context
	done chan struct{}
}

// RateLimiter is a token bucket drained by a single worker goroutine.
// Token count and the rolling window are mutated only inside the worker
// loop, never by callers.
type RateLimiter struct {
	rate         float64 // tokens per second
	burst        float64
	perMinuteCap int

	queue chan *waiter
	stop  chan struct{}

	// Worker-owned state.
	tokens     float64
	lastRefill time.Time
	window     []time.Time
}

// New builds a limiter sustaining rate tokens/second and starts its worker.
func New(rate float64, opts ...Option) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}

	l := &RateLimiter{
		rate:       rate,
		burst:      rate,
		queue:      make(chan *waiter, defaultQueueDepth),
		stop:       make(chan struct{}),
		lastRefill: time.Now(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.burst < rate {
		l.burst = rate
	}
	l.tokens = l.burst

	go l.run()
	return l
}

// Acquire blocks until one admission token is granted, the context is
// cancelled, or the limiter is closed.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	w := &waiter{ctx: ctx, done: make(chan struct{})}

	select {
	case l.queue <- w:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrClosed
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrClosed
	}
}

// Close stops the worker. Pending waiters are released with ErrClosed.
func (l *RateLimiter) Close() {
	close(l.stop)
}

func (l *RateLimiter) run() {
	for {
		select {
		case <-l.stop:
			return
		case w := <-l.queue:
			if !l.admit(w) {
				return
			}
		}
	}
}

// admit serves one waiter, sleeping in bounded increments until a token
// and, when configured, a rolling-window slot are both available. Returns
// false when the limiter shut down while waiting.
func (l *RateLimiter) admit(w *waiter) bool {
	for {
		// Abandoned waiters must not consume a token.
		if w.ctx.Err() != nil {
			return true
		}

		now := time.Now()
		l.refill(now)
		l.pruneWindow(now)

		if l.tokens >= 1 && (l.perMinuteCap <= 0 || len(l.window) < l.perMinuteCap) {
			l.tokens--
			if l.perMinuteCap > 0 {
				l.window = append(l.window, now)
			}
			close(w.done)
			return true
		}

		timer := time.NewTimer(l.backoff(now))
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			return true
		case <-l.stop:
			timer.Stop()
			return false
		}
	}
}

// refill accumulates tokens for elapsed time, capped at the burst size.
func (l *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// pruneWindow drops admissions older than one minute from the rolling window.
func (l *RateLimiter) pruneWindow(now time.Time) {
	if l.perMinuteCap <= 0 {
		return
	}
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.window) && l.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

// backoff computes how long to sleep before the next capacity check,
// clamped so the worker neither busy-loops nor oversleeps.
func (l *RateLimiter) backoff(now time.Time) time.Duration {
	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))

	if l.perMinuteCap > 0 && len(l.window) >= l.perMinuteCap {
		slot := l.window[0].Add(time.Minute).Sub(now)
		if slot > wait {
			wait = slot
		}
	}

	if wait < minBackoff {
		wait = minBackoff
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}
