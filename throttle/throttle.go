// Package throttle paces requests for a single crawl session.
//
// A Governor combines a sliding-window ceiling (at most Limit admissions in
// any trailing Window) with an optional adaptive delay that grows when the
// target pushes back and decays after sustained success. A Governor is owned
// by one session and is not safe for concurrent use.
package throttle

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	blockedFactor  = 2.0
	failureFactor  = 1.5
	decayFactor    = 0.9
	decayThreshold = 10
	slowFactor     = 0.5
)

// Options configures a Governor.
type Options struct {
	Limit  int
	Window time.Duration

	Adaptive     bool
	InitialDelay time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration

	// OnWait observes every blocking wait imposed by the window.
	OnWait func(time.Duration)
	Logger *slog.Logger
}

// Governor enforces the request-rate ceiling and adaptive backoff.
type Governor struct {
	limit  int
	window time.Duration

	admissions []time.Time

	adaptive  bool
	delay     time.Duration
	minDelay  time.Duration
	maxDelay  time.Duration
	successes int

	onWait func(time.Duration)
	logger *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New builds a Governor. A zero Window means one minute.
func New(opts Options) *Governor {
	if opts.Limit <= 0 {
		opts.Limit = 1
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	g := &Governor{
		limit:    opts.Limit,
		window:   opts.Window,
		adaptive: opts.Adaptive,
		minDelay: opts.MinDelay,
		maxDelay: opts.MaxDelay,
		onWait:   opts.OnWait,
		logger:   opts.Logger,
		now:      time.Now,
		sleep:    Sleep,
	}
	if g.adaptive {
		g.delay = g.clamp(opts.InitialDelay)
	}
	return g
}

// Wait blocks until one more request may be issued, then records it.
// When the adaptive layer is enabled the current delay is slept afterwards.
func (g *Governor) Wait(ctx context.Context) error {
	for {
		now := g.now()
		g.evict(now)
		if len(g.admissions) < g.limit {
			break
		}
		wait := g.window - now.Sub(g.admissions[0])
		if wait <= 0 {
			continue
		}
		g.logger.Info("rate limit reached, throttling",
			slog.Duration("wait", wait),
			slog.Int("limit", g.limit),
		)
		if g.onWait != nil {
			g.onWait(wait)
		}
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}
	g.admissions = append(g.admissions, g.now())

	if g.adaptive && g.delay > 0 {
		return g.sleep(ctx, g.delay)
	}
	return nil
}

// Observe feeds the outcome of a request into the adaptive layer.
// status is the HTTP status (0 when none was received) and latency the time
// the request took (0 when unknown). A response slower than twice the
// current delay raises the delay to half that latency.
func (g *Governor) Observe(status int, latency time.Duration, err error) {
	if !g.adaptive {
		return
	}
	if err != nil || status >= http.StatusBadRequest {
		g.successes = 0
		factor := failureFactor
		if status == http.StatusForbidden || status == http.StatusTooManyRequests {
			factor = blockedFactor
		}
		g.delay = g.clamp(scale(g.delay, factor))
	} else {
		g.successes++
		if g.successes >= decayThreshold {
			g.delay = g.clamp(scale(g.delay, decayFactor))
		}
	}
	if latency > 2*g.delay {
		g.delay = g.clamp(scale(latency, slowFactor))
	}
	g.logger.Debug("adjusted throttling delay", slog.Duration("delay", g.delay))
}

// Delay reports the current adaptive delay.
func (g *Governor) Delay() time.Duration {
	return g.delay
}

// InWindow reports how many admissions fall inside the trailing window.
func (g *Governor) InWindow() int {
	g.evict(g.now())
	return len(g.admissions)
}

func (g *Governor) evict(now time.Time) {
	cutoff := now.Add(-g.window)
	keep := 0
	for keep < len(g.admissions) && !g.admissions[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		g.admissions = append(g.admissions[:0], g.admissions[keep:]...)
	}
}

func (g *Governor) clamp(d time.Duration) time.Duration {
	if d < g.minDelay {
		d = g.minDelay
	}
	if g.maxDelay > 0 && d > g.maxDelay {
		d = g.maxDelay
	}
	return d
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
