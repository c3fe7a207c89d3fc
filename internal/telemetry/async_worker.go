package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

// AsyncWorkerConfig controls how many reports reach the backend.
type AsyncWorkerConfig struct {
	QueueSize int // pending reports; further reports are dropped

	// Each error title may report Burst times, then once per Every.
	Every time.Duration
	Burst int
	// All titles together may report TotalBurst times, then once per TotalEvery.
	TotalEvery time.Duration
	TotalBurst int

	FailureThreshold int           // consecutive slow reports that open the breaker
	RecoveryTimeout  time.Duration // open time before trying again
	HalfOpenMax      int           // successful trial reports needed to close the breaker
	SlowThreshold    time.Duration // a report slower than this counts as a failure
}

// DefaultAsyncWorkerConfig returns the defaults used by InitSentry.
func DefaultAsyncWorkerConfig() AsyncWorkerConfig {
	return AsyncWorkerConfig{
		QueueSize:        64,
		Every:            time.Minute,
		Burst:            3,
		TotalEvery:       2 * time.Second,
		TotalBurst:       30,
		FailureThreshold: 10,
		RecoveryTimeout:  5 * time.Minute,
		HalfOpenMax:      3,
		SlowThreshold:    100 * time.Millisecond,
	}
}

// AsyncWorkerStats counts what happened to reports handed to the worker.
type AsyncWorkerStats struct {
	Processed   uint64
	Dropped     uint64 // queue full, stopped or breaker open
	RateLimited uint64
	Slow        uint64
	BreakerOpen bool
}

// AsyncWorker is an errors.TelemetryReporter that moves reporting off the
// goroutine that built the error. A failing camera builds an error every
// frame, so reports are limited per error title and in total.
type AsyncWorker struct {
	reporter errors.TelemetryReporter
	config   AsyncWorkerConfig
	limiter  *keyedLimiter
	breaker  *circuitBreaker
	log      logger.Logger

	mu      sync.RWMutex
	stopped bool
	queue   chan *errors.EnhancedError
	done    chan struct{}

	processed atomic.Uint64
	dropped   atomic.Uint64
	limited   atomic.Uint64
	slow      atomic.Uint64
}

var _ errors.TelemetryReporter = (*AsyncWorker)(nil)

// NewAsyncWorker starts a worker delivering to reporter. Call Stop to drain
// the queue and end the worker goroutine.
func NewAsyncWorker(reporter errors.TelemetryReporter, config AsyncWorkerConfig) *AsyncWorker {
	def := DefaultAsyncWorkerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Every <= 0 || config.Burst <= 0 {
		config.Every, config.Burst = def.Every, def.Burst
	}
	if config.TotalEvery <= 0 || config.TotalBurst <= 0 {
		config.TotalEvery, config.TotalBurst = def.TotalEvery, def.TotalBurst
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = def.RecoveryTimeout
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = def.SlowThreshold
	}

	w := &AsyncWorker{
		reporter: reporter,
		config:   config,
		limiter: newKeyedLimiter(rate.Every(config.Every), config.Burst,
			rate.NewLimiter(rate.Every(config.TotalEvery), config.TotalBurst)),
		breaker: newCircuitBreaker(config.FailureThreshold, config.RecoveryTimeout, config.HalfOpenMax),
		log:     GetLogger().Module("worker"),
		queue:   make(chan *errors.EnhancedError, config.QueueSize),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// IsEnabled implements errors.TelemetryReporter.
func (w *AsyncWorker) IsEnabled() bool {
	return w.reporter.IsEnabled()
}

// ReportError implements errors.TelemetryReporter. It never blocks.
func (w *AsyncWorker) ReportError(ee *errors.EnhancedError) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- ee:
	default:
		w.dropped.Add(1)
	}
}

// Stop delivers what is queued and ends the worker. Reports arriving after
// Stop are dropped. Safe to call more than once.
func (w *AsyncWorker) Stop() {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

// Stats returns the worker counters.
func (w *AsyncWorker) Stats() AsyncWorkerStats {
	return AsyncWorkerStats{
		Processed:   w.processed.Load(),
		Dropped:     w.dropped.Load(),
		RateLimited: w.limited.Load(),
		Slow:        w.slow.Load(),
		BreakerOpen: w.breaker.isOpen(),
	}
}

func (w *AsyncWorker) run() {
	defer close(w.done)
	for ee := range w.queue {
		w.process(ee)
	}
}

func (w *AsyncWorker) process(ee *errors.EnhancedError) {
	if !w.breaker.canProceed() {
		w.dropped.Add(1)
		return
	}

	title := ee.Title()
	if !w.limiter.allow(title) {
		w.limited.Add(1)
		w.log.Debug("error report rate limited", logger.String("title", title))
		return
	}

	start := time.Now()
	w.reporter.ReportError(ee)
	elapsed := time.Since(start)
	w.processed.Add(1)

	if elapsed > w.config.SlowThreshold {
		w.slow.Add(1)
		w.breaker.recordFailure()
		w.log.Warn("slow error report",
			logger.String("title", title),
			logger.Duration("elapsed", elapsed),
			logger.Duration("threshold", w.config.SlowThreshold))
		return
	}
	w.breaker.recordSuccess()
}

// maxLimiterKeys bounds the per-title limiter map.
const maxLimiterKeys = 256

// keyedLimiter is a token bucket per key behind a shared total bucket.
type keyedLimiter struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	total *rate.Limiter
	keys  map[string]*rate.Limiter
}

func newKeyedLimiter(every rate.Limit, burst int, total *rate.Limiter) *keyedLimiter {
	return &keyedLimiter{every: every, burst: burst, total: total, keys: make(map[string]*rate.Limiter)}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.keys[key]
	if !ok {
		if len(k.keys) >= maxLimiterKeys {
			k.pruneLocked()
		}
		l = rate.NewLimiter(k.every, k.burst)
		k.keys[key] = l
	}

	now := time.Now()
	if l.TokensAt(now) < 1 {
		return false
	}
	if !k.total.AllowN(now, 1) {
		return false
	}
	return l.AllowN(now, 1)
}

// pruneLocked forgets keys whose bucket has refilled; a refilled bucket
// behaves the same as a new one.
func (k *keyedLimiter) pruneLocked() {
	now := time.Now()
	for key, l := range k.keys {
		if l.TokensAt(now) >= float64(k.burst) {
			delete(k.keys, key)
		}
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// circuitBreaker stops reporting after repeated failures and tries again
// after a recovery timeout.
type circuitBreaker struct {
	mu              sync.Mutex
	state           breakerState
	failures        int
	successes       int
	lastFailure     time.Time
	threshold       int
	recoveryTimeout time.Duration
	halfOpenMax     int
}

func newCircuitBreaker(threshold int, recoveryTimeout time.Duration, halfOpenMax int) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, recoveryTimeout: recoveryTimeout, halfOpenMax: halfOpenMax}
}

func (cb *circuitBreaker) canProceed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if time.Since(cb.lastFailure) <= cb.recoveryTimeout {
			return false
		}
		cb.state = breakerHalfOpen
		cb.successes = 0
		return true
	case breakerHalfOpen:
		return cb.successes < cb.halfOpenMax
	default:
		return true
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.state = breakerClosed
			cb.failures = 0
		}
	case breakerClosed:
		cb.failures = 0
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()
	switch cb.state {
	case breakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = breakerOpen
		}
	case breakerHalfOpen:
		cb.state = breakerOpen
	}
}

func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == breakerOpen
}
