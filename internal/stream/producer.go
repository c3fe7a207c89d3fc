package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/framestore"
	"github.com/tphakala/feedercam/internal/logger"
)

// ProducerState is the producer's run state.
type ProducerState int32

const (
	// ProducerSuspended means no clients are connected and the camera is idle.
	ProducerSuspended ProducerState = iota
	// ProducerRunning means the producer acquires a frame every interval.
	ProducerRunning
)

func (s ProducerState) String() string {
	if s == ProducerRunning {
		return "running"
	}
	return "suspended"
}

// producer pulls frames from the camera into the store while clients are
// connected.
type producer struct {
	cam      camera.Camera
	store    *framestore.Store
	interval time.Duration
	clients  *atomic.Int32
	rec      Recorder
	emit     func(Event)
	log      logger.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	state atomic.Int32

	published atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
	lastFrame atomic.Int64 // unix nanos of the last publish

	errLimiter *rate.Limiter
}

func newProducer(cam camera.Camera, store *framestore.Store, interval time.Duration, clients *atomic.Int32, rec Recorder, emit func(Event), log logger.Logger) *producer {
	p := &producer{
		cam:        cam,
		store:      store,
		interval:   interval,
		clients:    clients,
		rec:        rec,
		emit:       emit,
		log:        log,
		errLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// State returns the current producer state.
func (p *producer) State() ProducerState {
	return ProducerState(p.state.Load())
}

// Wake signals the producer that the client count may have changed.
func (p *producer) Wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// run is the producer loop. It returns when ctx ends.
func (p *producer) run(ctx context.Context) {
	// sync.Cond cannot select on ctx, so cancellation broadcasts instead
	stop := context.AfterFunc(ctx, p.Wake)
	defer stop()

	var ref time.Time
	var tick int64
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		if p.clients.Load() == 0 || ref.IsZero() {
			if !p.waitForClients(ctx) {
				return
			}
			ref = time.Now()
			tick = 0
		}

		p.cycle(ctx)

		var next time.Time
		tick, next = nextTick(ref, tick, p.interval, time.Now())
		timer.Reset(time.Until(next))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// nextTick returns the tick after tick and its deadline, ref + k*interval.
// Ticks that have already passed are skipped, never run back to back.
func nextTick(ref time.Time, tick int64, interval time.Duration, now time.Time) (int64, time.Time) {
	tick++
	next := ref.Add(time.Duration(tick) * interval)
	if next.Before(now) {
		tick = int64(now.Sub(ref)/interval) + 1
		next = ref.Add(time.Duration(tick) * interval)
	}
	return tick, next
}

// waitForClients parks until at least one client is registered. It returns
// false if ctx ended first.
func (p *producer) waitForClients(ctx context.Context) bool {
	p.mu.Lock()
	if p.clients.Load() == 0 && ctx.Err() == nil {
		if p.state.CompareAndSwap(int32(ProducerRunning), int32(ProducerSuspended)) {
			p.rec.SetProducerRunning(false)
			p.emit(Event{Type: EventProducerSuspended, Clients: 0})
			p.log.Info("no clients, producer suspended")
		}
		for p.clients.Load() == 0 && ctx.Err() == nil {
			p.cond.Wait()
		}
	}
	p.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}

	p.state.Store(int32(ProducerRunning))
	p.rec.SetProducerRunning(true)
	clients := int(p.clients.Load())
	p.emit(Event{Type: EventProducerResumed, Clients: clients})
	p.log.Info("producer running", logger.Int("clients", clients))
	return true
}

// cycle acquires one frame and publishes it. Failures drop the cycle.
func (p *producer) cycle(ctx context.Context) {
	frame, err := p.cam.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.dropped.Add(1)
		p.rec.FrameDropped(DropReasonCamera)
		if p.errLimiter.Allow() {
			p.log.Warn("frame acquisition failed",
				logger.String("camera", p.cam.Name()),
				logger.Error(err))
		}
		return
	}
	defer p.cam.Release(frame)

	if frame == nil || len(frame.Data) == 0 {
		p.dropped.Add(1)
		p.rec.FrameDropped(DropReasonEmpty)
		p.log.Debug("camera returned no frame, cycle dropped")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.interval)
	start := time.Now()
	err = p.store.Publish(pubCtx, frame.Data)
	cancel()

	switch {
	case err == nil:
		p.published.Add(1)
		p.lastFrame.Store(time.Now().UnixNano())
		p.rec.FramePublished(len(frame.Data), time.Since(start))
	case errors.Is(err, framestore.ErrGateBusy):
		p.skipped.Add(1)
		p.rec.FrameSkipped()
		p.log.Debug("frame hand-off timed out, frame skipped",
			logger.Int("frame_bytes", len(frame.Data)))
	default:
		// allocation failures already went through the fatal handler
		p.dropped.Add(1)
		p.log.Error("frame publish failed", logger.Error(err))
	}
}
