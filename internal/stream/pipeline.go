package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/framestore"
	"github.com/tphakala/feedercam/internal/logger"
)

// Config holds the pipeline parameters.
type Config struct {
	MaxClients    int           // concurrent stream clients
	FrameInterval time.Duration // producer tick
	PollInterval  time.Duration // consumer polling cadence, defaults to FrameInterval
	EventBuffer   int           // event queue capacity
}

// DefaultConfig returns the default pipeline parameters.
func DefaultConfig() Config {
	return Config{
		MaxClients:    3,
		FrameInterval: 50 * time.Millisecond,
		PollInterval:  50 * time.Millisecond,
		EventBuffer:   64,
	}
}

// Status is a point-in-time view of the pipeline.
type Status struct {
	Clients         int       `json:"clients"`
	MaxClients      int       `json:"max_clients"`
	Producer        string    `json:"producer"`
	Seq             uint64    `json:"seq"`
	FramesPublished uint64    `json:"frames_published"`
	FramesSkipped   uint64    `json:"frames_skipped"`
	FramesDropped   uint64    `json:"frames_dropped"`
	LastFrame       time.Time `json:"last_frame,omitzero"`
	Camera          string    `json:"camera"`
}

// Pipeline owns the frame store, the producer, the dispatcher and the
// consumers. Create it with New and start it with Run.
type Pipeline struct {
	cfg     Config
	cam     camera.Camera
	store   *framestore.Store
	rec     Recorder
	log     logger.Logger
	events  *EventBus
	spawner Spawner

	clients    atomic.Int32
	producer   *producer
	dispatcher *dispatcher

	started atomic.Bool
	done    chan struct{}
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	rec        Recorder
	log        logger.Logger
	spawner    Spawner
	storeOpts  []framestore.Option
	eventsSize int
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *pipelineOptions) { o.rec = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *pipelineOptions) { o.log = l }
}

// WithSpawner replaces the errgroup that runs consumers.
func WithSpawner(s Spawner) Option {
	return func(o *pipelineOptions) { o.spawner = s }
}

// WithStoreOptions passes options to the frame store.
func WithStoreOptions(opts ...framestore.Option) Option {
	return func(o *pipelineOptions) { o.storeOpts = append(o.storeOpts, opts...) }
}

// New creates a pipeline reading from cam.
func New(cfg Config, cam camera.Camera, opts ...Option) *Pipeline {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = def.FrameInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = cfg.FrameInterval
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	o := pipelineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rec == nil {
		o.rec = noopRecorder{}
	}
	if o.log == nil {
		o.log = GetLogger()
	}
	if o.spawner == nil {
		// consumers decrement the counter just before their goroutine ends,
		// so the group needs headroom beyond the client limit
		o.spawner = newGroupSpawner(2 * cfg.MaxClients)
	}

	p := &Pipeline{
		cfg:     cfg,
		cam:     cam,
		store:   framestore.New(o.storeOpts...),
		rec:     o.rec,
		log:     o.log,
		events:  NewEventBus(cfg.EventBuffer),
		spawner: o.spawner,
		done:    make(chan struct{}),
	}
	p.events.onDrop = p.rec.EventDropped
	p.producer = newProducer(cam, p.store, cfg.FrameInterval, &p.clients, p.rec, p.emit, p.log.Module("producer"))
	p.dispatcher = newDispatcher(p)
	return p
}

// Run starts the producer, the dispatcher and the event bus and blocks until
// ctx ends. On return every consumer has exited. Run may only be called once.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New(ErrStopped).
			Component("stream").
			Category(errors.CategoryState).
			Context("operation", "run_pipeline").
			Build()
	}

	p.log.Info("stream pipeline started",
		logger.String("camera", p.cam.Name()),
		logger.Int("max_clients", p.cfg.MaxClients),
		logger.Duration("frame_interval", p.cfg.FrameInterval))

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	var eventsDone sync.WaitGroup
	eventsDone.Go(func() { p.events.Run(eventsCtx) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.producer.run(gctx)
		return nil
	})
	g.Go(func() error {
		p.dispatcher.run(gctx)
		return nil
	})
	_ = g.Wait()

	close(p.done)

	// consumers see the same cancellation and tear down on their own
	_ = p.spawner.Wait()

	// disconnect events from the consumers are delivered before returning
	stopEvents()
	eventsDone.Wait()

	p.log.Info("stream pipeline stopped")
	return nil
}

// Admit hands conn to the dispatcher. On Admitted the pipeline owns conn and
// closes it when the client goes away; otherwise the caller must close it.
func (p *Pipeline) Admit(ctx context.Context, conn Conn) (Decision, error) {
	reply := make(chan admitResult, 1)
	select {
	case p.dispatcher.requests <- admitRequest{conn: conn, reply: reply}:
	case <-p.done:
		return Failed, ErrStopped
	case <-ctx.Done():
		return Failed, ctx.Err()
	}
	res := <-reply
	return res.decision, res.err
}

// Snapshot copies the current frame into dst. See framestore.Store.Snapshot.
func (p *Pipeline) Snapshot(ctx context.Context, dst *framestore.Buffer) (n int, seq uint64, err error) {
	return p.store.Snapshot(ctx, dst)
}

// Seq returns the sequence number of the current frame, 0 if none yet.
func (p *Pipeline) Seq() uint64 {
	return p.store.Seq()
}

// Clients returns the number of connected stream clients.
func (p *Pipeline) Clients() int {
	return int(p.clients.Load())
}

// ProducerState returns the producer state.
func (p *Pipeline) ProducerState() ProducerState {
	return p.producer.State()
}

// LastFrameTime returns when the last frame was published, zero if never.
func (p *Pipeline) LastFrameTime() time.Time {
	ns := p.producer.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Events returns the pipeline event bus.
func (p *Pipeline) Events() *EventBus {
	return p.events
}

// Status returns a snapshot of the pipeline state.
func (p *Pipeline) Status() Status {
	return Status{
		Clients:         p.Clients(),
		MaxClients:      p.cfg.MaxClients,
		Producer:        p.ProducerState().String(),
		Seq:             p.Seq(),
		FramesPublished: p.producer.published.Load(),
		FramesSkipped:   p.producer.skipped.Load(),
		FramesDropped:   p.producer.dropped.Load(),
		LastFrame:       p.LastFrameTime(),
		Camera:          p.cam.Name(),
	}
}

// emit publishes an event without blocking.
func (p *Pipeline) emit(ev Event) {
	p.events.TryPublish(ev)
}
