// Package timing anchors the shared region's NTP clock to the engine's
// own audio clock and keeps the two resynchronized, per spec.md §4.4.
package timing

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/supersonic-audio/supersonic/internal/constants"
	"github.com/supersonic-audio/supersonic/internal/logging"
	"github.com/supersonic-audio/supersonic/internal/region"
)

// AudioClock is the minimal engine surface the timing model depends on:
// the engine's own notion of elapsed time, in seconds, since it started.
type AudioClock interface {
	ContextTime() float64
}

// NTPNow converts a wall-clock instant to NTP seconds (seconds since
// 1900-01-01), the epoch OSC timetags use (spec.md §6.2).
func NTPNow(now time.Time) float64 {
	return float64(now.UnixNano())/1e9 + constants.NTPEpochOffset
}

// Config tunes the resync cadence and drift-measurement warmup.
type Config struct {
	ResyncInterval time.Duration
	DriftWarmup    time.Duration
}

// DefaultConfig matches spec.md §4.4's defaults: a 1s resync period and a
// 500ms warmup before drift is trusted.
func DefaultConfig() Config {
	return Config{
		ResyncInterval: constants.DefaultResyncInterval,
		DriftWarmup:    constants.DriftWarmup,
	}
}

// Anchor owns the ntp_start/drift words of the shared region and keeps
// them current against one AudioClock.
type Anchor struct {
	region *region.Region
	engine AudioClock
	cfg    Config
	logger *logging.Logger

	startedAt time.Time
}

// NewAnchor constructs an Anchor. Resync/Run are not called until the
// host adaptor is ready to start the timing worker.
func NewAnchor(r *region.Region, engine AudioClock, cfg Config) *Anchor {
	return &Anchor{region: r, engine: engine, cfg: cfg, logger: logging.Default()}
}

// Resync recomputes ntp_start = wall_ntp(now) - context_time(now) and
// publishes it to the region (spec.md §4.4). Called once at startup and
// then on every resync tick.
func (a *Anchor) Resync(now time.Time) {
	audioTime := a.engine.ContextTime()
	ntpStart := NTPNow(now) - audioTime
	a.region.SetNTPStart(ntpStart)
}

// WaitUntilReady blocks until the engine's audio clock has started
// advancing, using a bounded exponential backoff ticker instead of a bare
// sleep loop (spec.md §5's WorkerInitTimeout path, §7's WorkerInitTimeout
// error).
func (a *Anchor) WaitUntilReady(ctx context.Context, maxElapsed time.Duration) error {
	if a.engine.ContextTime() > 0 {
		return nil
	}

	deadline := time.Now().Add(maxElapsed)
	ticker := backoff.NewTicker(&backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         200 * time.Millisecond,
	})
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if a.engine.ContextTime() > 0 {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("engine audio clock did not start within %s", maxElapsed)
			}
		}
	}
}

// Run anchors the clock immediately and then resyncs on every tick until
// ctx is cancelled. After DriftWarmup has elapsed since the first anchor,
// each tick also measures and publishes drift (spec.md §4.4, §9).
func (a *Anchor) Run(ctx context.Context) error {
	now := time.Now()
	a.startedAt = now
	a.Resync(now)

	ticker := time.NewTicker(a.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			if t.Sub(a.startedAt) >= a.cfg.DriftWarmup {
				a.measureDrift(t)
			}
			a.Resync(t)
		}
	}
}

// measureDrift compares the NTP time predicted by the region's current
// anchor against a fresh wall-clock reading, publishes the delta in
// milliseconds, and logs a warning when it exceeds ±50ms. The classifier
// (internal/classify) does not read this value: CurrentNTP is plain
// wall-clock NTP, with no drift folded in.
func (a *Anchor) measureDrift(now time.Time) {
	predicted := a.region.NTPStart() + a.engine.ContextTime()
	actual := NTPNow(now)
	driftMs := int32((actual - predicted) * 1000)
	a.region.SetDriftMs(driftMs)

	if driftMs > 50 || driftMs < -50 {
		a.logger.Warnf("audio clock drift %dms exceeds 50ms", driftMs)
	}
}

// CurrentNTP returns the current wall time expressed as NTP seconds,
// the value internal/classify.Classify expects as currentNTP.
func CurrentNTP() float64 {
	return NTPNow(time.Now())
}
