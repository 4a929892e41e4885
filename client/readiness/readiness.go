package readiness

import (
	"sync"
	"time"

	"warfront/pkg/log"
)

const (
	// pingWindow and fpsWindow are how many of the newest samples the
	// stability checks look at.
	pingWindow = 3
	fpsWindow  = 6

	// maxSamples bounds each sample buffer.
	maxSamples = 10

	minAverageFPS = 25.0
	minFloorFPS   = 15.0

	DefaultMinWarmup = 1 * time.Second
	DefaultMaxWarmup = 10 * time.Second
)

// Profile is the link-dependent ping stability bound in milliseconds.
type Profile struct {
	MaxPing   float64
	MaxJitter float64
}

// ProfileForLink returns the readiness profile for the link class.
// Tunneled links run against looser bounds so a healthy long-haul
// connection is not held at the loading screen forever.
func ProfileForLink(isTunnel bool) Profile {
	if isTunnel {
		return Profile{MaxPing: 260, MaxJitter: 120}
	}
	return Profile{MaxPing: 130, MaxJitter: 60}
}

// Aggregator decides when the client is ready to leave the loading
// screen. Readiness requires every named flag to be set and the
// connection and frame rate to look stable, held for at least the
// minimum warmup; the maximum warmup forces the exit regardless, so a
// flaky link degrades the experience instead of blocking it.
//
// The aggregator is polled: callers feed it flags and samples as they
// arrive and ask Ready on their own cadence.
type Aggregator struct {
	mu          sync.Mutex
	profile     Profile
	flags       map[string]bool
	pingSamples []float64
	fpsSamples  []float64
	startedAt   time.Time
	started     bool
	minWarmup   time.Duration
	maxWarmup   time.Duration
	forced      bool
}

type NewAggregatorOptions struct {
	Profile       Profile
	RequiredFlags []string
	MinWarmup     time.Duration
	MaxWarmup     time.Duration
}

// NewAggregator creates a new Aggregator.
func NewAggregator(opts NewAggregatorOptions) *Aggregator {
	a := &Aggregator{
		profile:   opts.Profile,
		flags:     make(map[string]bool),
		minWarmup: opts.MinWarmup,
		maxWarmup: opts.MaxWarmup,
	}
	for _, flag := range opts.RequiredFlags {
		a.flags[flag] = false
	}
	if a.minWarmup == 0 {
		a.minWarmup = DefaultMinWarmup
	}
	if a.maxWarmup == 0 {
		a.maxWarmup = DefaultMaxWarmup
	}
	return a
}

// Begin starts the warmup clock and clears previous samples and flags.
func (a *Aggregator) Begin(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startedAt = at
	a.started = true
	a.forced = false
	a.pingSamples = nil
	a.fpsSamples = nil
	for flag := range a.flags {
		a.flags[flag] = false
	}
}

// SetFlag marks a named readiness condition as satisfied. Unknown flags
// are added as already required and satisfied.
func (a *Aggregator) SetFlag(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flags[name] = true
}

// RecordPing adds a round-trip time sample in milliseconds.
func (a *Aggregator) RecordPing(ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pingSamples = appendCapped(a.pingSamples, ms)
}

// RecordFPS adds a frames-per-second sample.
func (a *Aggregator) RecordFPS(fps float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fpsSamples = appendCapped(a.fpsSamples, fps)
}

// Ready reports whether the client should leave the loading screen at
// the given time.
func (a *Aggregator) Ready(at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return false
	}
	elapsed := at.Sub(a.startedAt)
	if elapsed >= a.maxWarmup {
		if !a.forced {
			a.forced = true
			log.Warn("Warmup exceeded %s, forcing readiness", a.maxWarmup)
		}
		return true
	}
	if elapsed < a.minWarmup {
		return false
	}
	return a.flagsSetLocked() && a.pingStableLocked() && a.fpsStableLocked()
}

// PendingFlags returns the names of required flags not yet satisfied.
func (a *Aggregator) PendingFlags() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var pending []string
	for flag, set := range a.flags {
		if !set {
			pending = append(pending, flag)
		}
	}
	return pending
}

func (a *Aggregator) flagsSetLocked() bool {
	for _, set := range a.flags {
		if !set {
			return false
		}
	}
	return true
}

// pingStableLocked checks the newest ping samples: both the average and
// the spread must be inside the profile bounds.
func (a *Aggregator) pingStableLocked() bool {
	window := tail(a.pingSamples, pingWindow)
	if len(window) < pingWindow {
		return false
	}
	sum, min, max := window[0], window[0], window[0]
	for _, v := range window[1:] {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	avg := sum / float64(len(window))
	return avg <= a.profile.MaxPing && max-min <= a.profile.MaxJitter
}

// fpsStableLocked checks the newest frame rate samples: the average must
// clear the playable bar and no single sample may fall below the floor.
func (a *Aggregator) fpsStableLocked() bool {
	window := tail(a.fpsSamples, fpsWindow)
	if len(window) < fpsWindow {
		return false
	}
	sum := 0.0
	for _, v := range window {
		if v < minFloorFPS {
			return false
		}
		sum += v
	}
	return sum/float64(len(window)) >= minAverageFPS
}

func appendCapped(samples []float64, v float64) []float64 {
	samples = append(samples, v)
	for len(samples) > maxSamples {
		samples = samples[1:]
	}
	return samples
}

func tail(samples []float64, n int) []float64 {
	if len(samples) <= n {
		return samples
	}
	return samples[len(samples)-n:]
}
