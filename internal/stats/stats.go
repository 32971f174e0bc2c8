// Package stats keeps the process-wide request and error aggregates.
//
// An Accumulator is created once at startup and shared by every request.
// Counters only grow and reset only when the process restarts.
package stats

import (
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// Options controls logging policy. Zero thresholds take the defaults below;
// a zero MemorySampleRate disables memory sampling.
type Options struct {
	// SlowThreshold is the latency above which a request is logged at warn.
	SlowThreshold time.Duration
	// SummaryEvery emits a throughput summary every Nth completed request.
	SummaryEvery int64
	// ErrorSummaryEvery emits an error-rate summary every Nth error.
	ErrorSummaryEvery int64
	// MemorySampleRate is the per-request probability of logging memory usage.
	MemorySampleRate float64
}

// DefaultOptions returns the standard logging policy.
func DefaultOptions() Options {
	return Options{
		SlowThreshold:     time.Second,
		SummaryEvery:      1000,
		ErrorSummaryEvery: 50,
		MemorySampleRate:  0.0001,
	}
}

// Stats is a read-only snapshot of the accumulator.
type Stats struct {
	Uptime            float64   `json:"uptime"`
	TotalRequests     int64     `json:"totalRequests"`
	RequestsPerSecond float64   `json:"requestsPerSecond"`
	ErrorCount        int64     `json:"errorCount"`
	ErrorRate         float64   `json:"errorRate"`
	Memory            MemoryMB  `json:"memory"`
	Timestamp         time.Time `json:"timestamp"`
}

// Accumulator counts completed requests and errors.
type Accumulator struct {
	opts    Options
	logger  *slog.Logger
	memory  MemoryReader
	now     func() time.Time
	sample  func() float64
	started time.Time

	requests atomic.Int64
	errors   atomic.Int64
}

// Option customizes an Accumulator.
type Option func(*Accumulator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) { a.now = now }
}

// WithSampler replaces the random source used for memory sampling. It must
// return values in [0, 1).
func WithSampler(sample func() float64) Option {
	return func(a *Accumulator) { a.sample = sample }
}

// WithMemoryReader replaces the process memory source.
func WithMemoryReader(r MemoryReader) Option {
	return func(a *Accumulator) { a.memory = r }
}

// New creates an Accumulator whose uptime starts now.
func New(opts Options, logger *slog.Logger, options ...Option) *Accumulator {
	def := DefaultOptions()
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = def.SlowThreshold
	}
	if opts.SummaryEvery <= 0 {
		opts.SummaryEvery = def.SummaryEvery
	}
	if opts.ErrorSummaryEvery <= 0 {
		opts.ErrorSummaryEvery = def.ErrorSummaryEvery
	}
	if opts.MemorySampleRate < 0 {
		opts.MemorySampleRate = 0
	}

	a := &Accumulator{
		opts:   opts,
		logger: logger.With("component", "stats"),
		memory: &ProcessMemory{},
		now:    time.Now,
		sample: rand.Float64,
	}
	for _, o := range options {
		o(a)
	}
	a.started = a.now()
	return a
}

// ObserveLatency logs requests slower than the configured threshold.
func (a *Accumulator) ObserveLatency(method, path string, elapsed time.Duration) {
	if elapsed <= a.opts.SlowThreshold {
		return
	}
	a.logger.Warn("slow request",
		"method", method,
		"path", path,
		"duration_ms", elapsed.Milliseconds(),
	)
}

// ObserveCompletion records one finalized response.
func (a *Accumulator) ObserveCompletion(method, path string, status int) {
	// requests first: errors must never overtake it.
	total := a.requests.Add(1)

	if status >= 400 {
		errs := a.errors.Add(1)
		a.logError(method, path, status)
		if errs%a.opts.ErrorSummaryEvery == 0 {
			a.logger.Warn("error rate",
				"errors", errs,
				"requests", total,
				"error_rate_pct", percent(errs, total),
			)
		}
	}

	if total%a.opts.SummaryEvery == 0 {
		uptime := a.uptime()
		a.logger.Info("request summary",
			"requests", total,
			"requests_per_second", perSecond(total, uptime),
			"uptime_s", round2(uptime.Seconds()),
		)
	}

	if a.opts.MemorySampleRate > 0 && a.sample() < a.opts.MemorySampleRate {
		mem := a.Memory()
		a.logger.Info("memory usage",
			"rss_mb", mem.RSS,
			"heap_total_mb", mem.HeapTotal,
			"heap_used_mb", mem.HeapUsed,
			"external_mb", mem.External,
		)
	}
}

func (a *Accumulator) logError(method, path string, status int) {
	if status >= 500 {
		a.logger.Error("server error", "method", method, "path", path, "status", status)
		return
	}
	a.logger.Warn("client error", "method", method, "path", path, "status", status)
}

// Requests returns the number of completed requests.
func (a *Accumulator) Requests() int64 {
	return a.requests.Load()
}

// Errors returns the number of completed requests with status >= 400.
func (a *Accumulator) Errors() int64 {
	return a.errors.Load()
}

// Memory samples current process memory. Errors are logged at debug and the
// partial reading is returned.
func (a *Accumulator) Memory() MemoryMB {
	usage, err := a.memory.ReadMemory()
	if err != nil {
		a.logger.Debug("read process memory", "err", err)
	}
	return usage.MB()
}

// Uptime returns the time since the accumulator was created.
func (a *Accumulator) Uptime() time.Duration {
	return a.uptime()
}

// Snapshot returns the current aggregates.
func (a *Accumulator) Snapshot() Stats {
	errs := a.errors.Load()
	total := a.requests.Load()
	now := a.now()
	uptime := now.Sub(a.started)

	return Stats{
		Uptime:            round2(uptime.Seconds()),
		TotalRequests:     total,
		RequestsPerSecond: perSecond(total, uptime),
		ErrorCount:        errs,
		ErrorRate:         percent(errs, total),
		Memory:            a.Memory(),
		Timestamp:         now.UTC(),
	}
}

func (a *Accumulator) uptime() time.Duration {
	return a.now().Sub(a.started)
}

func perSecond(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return round2(float64(n) / d.Seconds())
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
