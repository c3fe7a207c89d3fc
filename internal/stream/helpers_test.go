package stream

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/logger"
)

// fakeConn records everything written to it.
type fakeConn struct {
	addr string

	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int

	open       atomic.Bool
	failWrites atomic.Bool
	closes     atomic.Int32
}

func newFakeConn(addr string) *fakeConn {
	c := &fakeConn{addr: addr}
	c.open.Store(true)
	return c
}

func (c *fakeConn) IsOpen() bool { return c.open.Load() }

func (c *fakeConn) Write(p []byte) (int, error) {
	if !c.open.Load() {
		return 0, fmt.Errorf("write to closed connection")
	}
	if c.failWrites.Load() {
		return 0, fmt.Errorf("connection reset by peer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *fakeConn) Flush() error {
	c.mu.Lock()
	c.flushes++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.open.Store(false)
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

// hangup simulates the client going away.
func (c *fakeConn) hangup() { c.open.Store(false) }

func (c *fakeConn) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

// parts parses the stream written so far and returns the frame payloads.
func (c *fakeConn) parts(t *testing.T) [][]byte {
	t.Helper()
	parts, err := parseStream(c.bytes())
	require.NoError(t, err)
	return parts
}

// partCount returns the number of complete parts written so far, -1 if the
// stream is malformed.
func (c *fakeConn) partCount() int {
	parts, err := parseStream(c.bytes())
	if err != nil {
		return -1
	}
	return len(parts)
}

// parseStream splits an MJPEG stream into frame payloads. A partial trailing
// part is ignored.
func parseStream(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if !bytes.HasPrefix(data, []byte(Preamble)) {
		return nil, fmt.Errorf("stream does not start with the preamble")
	}
	data = data[len(Preamble):]

	var parts [][]byte
	for len(data) > 0 {
		if !bytes.HasPrefix(data, []byte(partHeaderPrefix)) {
			return nil, fmt.Errorf("part %d: bad header %q", len(parts), data[:min(len(data), 40)])
		}
		rest := data[len(partHeaderPrefix):]
		end := bytes.Index(rest, []byte(partHeaderSuffix))
		if end < 0 {
			return parts, nil
		}
		n, err := strconv.Atoi(string(rest[:end]))
		if err != nil {
			return nil, fmt.Errorf("part %d: bad length: %w", len(parts), err)
		}
		rest = rest[end+len(partHeaderSuffix):]
		if len(rest) < n+len(BoundaryLine) {
			return parts, nil
		}
		if string(rest[n:n+len(BoundaryLine)]) != BoundaryLine {
			return nil, fmt.Errorf("part %d: missing boundary", len(parts))
		}
		parts = append(parts, rest[:n])
		data = rest[n+len(BoundaryLine):]
	}
	return parts, nil
}

// chanCamera hands out frames pushed by the test.
type chanCamera struct {
	frames   chan []byte
	acquired atomic.Int64
}

func newChanCamera() *chanCamera {
	return &chanCamera{frames: make(chan []byte, 16)}
}

func (c *chanCamera) Acquire(ctx context.Context) (*camera.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data := <-c.frames:
		c.acquired.Add(1)
		if data == nil {
			return nil, nil
		}
		return &camera.Frame{Data: data, Captured: time.Now()}, nil
	}
}

func (c *chanCamera) Release(*camera.Frame) {}
func (c *chanCamera) Close() error          { return nil }
func (c *chanCamera) Name() string          { return "chan" }

// funcCamera calls fn for every acquisition.
type funcCamera struct {
	fn       func(n int64) (*camera.Frame, error)
	acquired atomic.Int64
}

func (c *funcCamera) Acquire(ctx context.Context) (*camera.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.fn(c.acquired.Add(1))
}

func (c *funcCamera) Release(*camera.Frame) {}
func (c *funcCamera) Close() error          { return nil }
func (c *funcCamera) Name() string          { return "func" }

// patternCamera returns frames of a fixed size filled with the frame number.
func patternCamera(size int) *funcCamera {
	return &funcCamera{fn: func(n int64) (*camera.Frame, error) {
		return &camera.Frame{Data: bytes.Repeat([]byte{byte(n)}, size)}, nil
	}}
}

// countingRecorder counts every Recorder call.
type countingRecorder struct {
	mu            sync.Mutex
	active        int
	running       bool
	published     int
	skipped       int
	dropped       map[string]int
	sent          int
	bytesSent     int
	admitted      int
	rejected      int
	spawnFailed   int
	eventsDropped int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{dropped: map[string]int{}}
}

func (r *countingRecorder) SetActiveClients(n int) { r.mu.Lock(); r.active = n; r.mu.Unlock() }
func (r *countingRecorder) SetProducerRunning(b bool) {
	r.mu.Lock()
	r.running = b
	r.mu.Unlock()
}
func (r *countingRecorder) FramePublished(int, time.Duration) {
	r.mu.Lock()
	r.published++
	r.mu.Unlock()
}
func (r *countingRecorder) FrameSkipped() { r.mu.Lock(); r.skipped++; r.mu.Unlock() }
func (r *countingRecorder) FrameDropped(reason string) {
	r.mu.Lock()
	r.dropped[reason]++
	r.mu.Unlock()
}
func (r *countingRecorder) FrameSent(n int) {
	r.mu.Lock()
	r.sent++
	r.bytesSent += n
	r.mu.Unlock()
}
func (r *countingRecorder) ClientAdmitted() { r.mu.Lock(); r.admitted++; r.mu.Unlock() }
func (r *countingRecorder) ClientRejected() { r.mu.Lock(); r.rejected++; r.mu.Unlock() }
func (r *countingRecorder) SpawnFailed()    { r.mu.Lock(); r.spawnFailed++; r.mu.Unlock() }
func (r *countingRecorder) EventDropped()   { r.mu.Lock(); r.eventsDropped++; r.mu.Unlock() }

func (r *countingRecorder) snapshot() *countingRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &countingRecorder{
		active: r.active, running: r.running, published: r.published, skipped: r.skipped,
		sent: r.sent, bytesSent: r.bytesSent, admitted: r.admitted, rejected: r.rejected,
		spawnFailed: r.spawnFailed, eventsDropped: r.eventsDropped, dropped: map[string]int{},
	}
	for k, v := range r.dropped {
		out.dropped[k] = v
	}
	return out
}

// eventLog collects events delivered by the bus.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Name() string { return "test" }

func (l *eventLog) ProcessEvent(ev Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) types() []EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventType, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) count(t EventType) int {
	n := 0
	for _, et := range l.types() {
		if et == t {
			n++
		}
	}
	return n
}

// testConfig returns fast pipeline timings for tests.
func testConfig() Config {
	return Config{
		MaxClients:    3,
		FrameInterval: 10 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		EventBuffer:   256,
	}
}

// startPipeline runs p until the test ends and returns a stop function that
// cancels it and waits for Run to return.
func startPipeline(t *testing.T, p *Pipeline) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("pipeline did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return stop
}

func quietLogger() logger.Logger {
	return logger.NewDiscardLogger()
}
