package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

// Spawner starts consumer goroutines. TryGo returns false when the goroutine
// could not be started.
type Spawner interface {
	TryGo(f func() error) bool
	Wait() error
}

// newGroupSpawner returns an errgroup limited to limit goroutines.
func newGroupSpawner(limit int) *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(limit)
	return g
}

// Decision is the outcome of an admission request.
type Decision int

const (
	// Admitted means a consumer now owns the connection.
	Admitted Decision = iota
	// Rejected means the client limit was reached. The caller closes the
	// connection without writing anything.
	Rejected
	// Failed means the consumer could not be started. The caller closes the
	// connection.
	Failed
)

func (d Decision) String() string {
	switch d {
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

var (
	// ErrSpawnFailed is returned when a consumer goroutine could not be started.
	ErrSpawnFailed = errors.NewStd("consumer could not be started")
	// ErrStopped is returned by Admit when the pipeline is not running.
	ErrStopped = errors.NewStd("pipeline stopped")
)

type admitRequest struct {
	conn  Conn
	reply chan admitResult
}

type admitResult struct {
	decision Decision
	clientID string
	err      error
}

// dispatcher owns admission. All admission decisions happen on its
// goroutine, so the check against the client limit and the increment are
// never interleaved with another admission.
type dispatcher struct {
	p        *Pipeline
	requests chan admitRequest

	rejectLimiter *rate.Limiter
	suppressed    int
}

func newDispatcher(p *Pipeline) *dispatcher {
	return &dispatcher{
		p:             p,
		requests:      make(chan admitRequest),
		rejectLimiter: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			req.reply <- d.admit(ctx, req.conn)
		}
	}
}

// admit registers conn as a new client if there is room.
func (d *dispatcher) admit(ctx context.Context, conn Conn) admitResult {
	p := d.p
	maxClients := int32(p.cfg.MaxClients)

	if p.clients.Load() >= maxClients {
		p.rec.ClientRejected()
		p.emit(Event{Type: EventClientRejected, RemoteAddr: conn.RemoteAddr(), Clients: int(p.clients.Load())})
		d.logRejected(conn)
		return admitResult{decision: Rejected}
	}

	c := newConsumer(p, conn, uuid.NewString(), p.store.Seq()-1)
	if !p.spawner.TryGo(func() error {
		c.run(ctx)
		return nil
	}) {
		c.free()
		p.rec.SpawnFailed()
		err := errors.New(fmt.Errorf("%w for %s", ErrSpawnFailed, conn.RemoteAddr())).
			Component("stream").
			Category(errors.CategoryAdmission).
			Context("operation", "spawn_consumer").
			Context("clients", int(p.clients.Load())).
			Build()
		p.log.Warn("stream client dropped, consumer could not be started",
			logger.String("remote_addr", conn.RemoteAddr()),
			logger.Error(err))
		return admitResult{decision: Failed, err: err}
	}

	n := int(p.clients.Add(1))
	close(c.admitted)
	p.producer.Wake()

	p.rec.ClientAdmitted()
	p.rec.SetActiveClients(n)
	p.emit(Event{Type: EventClientAdmitted, ClientID: c.id, RemoteAddr: conn.RemoteAddr(), Clients: n})

	fields := []logger.Field{
		logger.String("client_id", c.id),
		logger.String("remote_addr", conn.RemoteAddr()),
		logger.Int("clients", n),
		logger.Int("max_clients", p.cfg.MaxClients),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields = append(fields, logger.Uint64("free_memory", vm.Available))
	}
	p.log.Info("stream client admitted", fields...)

	return admitResult{decision: Admitted, clientID: c.id}
}

// logRejected logs capacity rejections at most once per limiter period.
func (d *dispatcher) logRejected(conn Conn) {
	if !d.rejectLimiter.Allow() {
		d.suppressed++
		return
	}
	d.p.log.Warn("stream client rejected, client limit reached",
		logger.String("remote_addr", conn.RemoteAddr()),
		logger.Int("max_clients", d.p.cfg.MaxClients),
		logger.Int("suppressed", d.suppressed))
	d.suppressed = 0
}
