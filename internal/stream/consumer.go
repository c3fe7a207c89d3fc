package stream

import (
	"context"
	"time"

	"github.com/tphakala/feedercam/internal/framestore"
	"github.com/tphakala/feedercam/internal/logger"
)

// consumer streams frames to one client. It is created by the dispatcher
// and destroyed by its own goroutine.
type consumer struct {
	p        *Pipeline
	conn     Conn
	id       string
	buf      *framestore.Buffer
	scratch  []byte
	lastSeq  uint64
	admitted chan struct{}
	broken   bool

	started    time.Time
	framesSent uint64
	bytesSent  uint64
}

func newConsumer(p *Pipeline, conn Conn, id string, lastSeq uint64) *consumer {
	return &consumer{
		p:        p,
		conn:     conn,
		id:       id,
		buf:      framestore.NewBuffer(0),
		scratch:  make([]byte, 0, 64),
		lastSeq:  lastSeq,
		admitted: make(chan struct{}),
	}
}

// free releases the state of a consumer whose goroutine never ran.
func (c *consumer) free() {
	c.buf.Release()
	c.scratch = nil
}

// run writes the preamble and then polls for new frames until the client
// disconnects or ctx ends.
func (c *consumer) run(ctx context.Context) {
	// the dispatcher counts the client before the consumer may leave
	<-c.admitted
	c.started = time.Now()
	defer c.teardown()

	if _, err := c.conn.Write([]byte(Preamble)); err != nil {
		return
	}
	if err := c.conn.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(c.p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if c.broken || !c.conn.IsOpen() {
			return
		}

		if seq := c.p.store.Seq(); seq != 0 && seq != c.lastSeq {
			c.send(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// send copies the current frame out of the store and writes it as one part.
func (c *consumer) send(ctx context.Context) {
	n, seq, err := c.p.store.Snapshot(ctx, c.buf)
	if err != nil || n == 0 {
		return
	}

	c.scratch, err = writePart(c.conn, c.scratch, c.buf.Bytes())
	if err != nil {
		c.broken = true
		c.p.log.Debug("stream write failed",
			logger.String("client_id", c.id),
			logger.Error(err))
		return
	}

	c.lastSeq = seq
	c.framesSent++
	c.bytesSent += uint64(n)
	c.p.rec.FrameSent(n)
}

// teardown runs exactly once, deferred from run.
func (c *consumer) teardown() {
	c.free()
	n := int(c.p.clients.Add(-1))
	c.p.rec.SetActiveClients(n)

	c.p.emit(Event{
		Type:       EventClientDisconnected,
		ClientID:   c.id,
		RemoteAddr: c.conn.RemoteAddr(),
		Clients:    n,
		FramesSent: c.framesSent,
		BytesSent:  c.bytesSent,
	})
	c.p.log.Info("stream client disconnected",
		logger.String("client_id", c.id),
		logger.String("remote_addr", c.conn.RemoteAddr()),
		logger.Uint64("frames_sent", c.framesSent),
		logger.Duration("duration", time.Since(c.started)),
		logger.Int("clients", n))

	_ = c.conn.Close()
}
