package httpcontroller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/stream"
)

// countingCamera wraps a camera and counts acquisitions.
type countingCamera struct {
	camera.Camera
	acquired atomic.Int64
}

func (c *countingCamera) Acquire(ctx context.Context) (*camera.Frame, error) {
	c.acquired.Add(1)
	return c.Camera.Acquire(ctx)
}

func newTestCamera() *countingCamera {
	return &countingCamera{Camera: camera.NewTestPattern(64, 48, 70, 50)}
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Main.SystemID = "test-system"
	s.WebServer.Enabled = true
	s.WebServer.MaxConnections = 16
	s.WebServer.JPGCacheTTL = time.Minute
	s.WebServer.ShutdownTimeout = time.Second
	s.Camera.Timeout = 2 * time.Second
	return s
}

func testPipelineConfig() stream.Config {
	return stream.Config{
		MaxClients:    2,
		FrameInterval: 20 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		EventBuffer:   64,
	}
}

// startPipeline runs p until the test ends.
func startPipeline(t *testing.T, p *stream.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

// startServer serves s on a loopback port until the test ends and returns
// the listen address.
func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

// newTestServer wires a running pipeline and server around cam.
func newTestServer(t *testing.T, settings *conf.Settings, cam camera.Camera, opts ...Option) (addr string, p *stream.Pipeline) {
	t.Helper()
	p = stream.New(testPipelineConfig(), cam, stream.WithLogger(logger.NewDiscardLogger()))
	startPipeline(t, p)

	opts = append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)
	s := New(settings, p, cam, opts...)
	return startServer(t, s), p
}

// httpClient does not keep idle connections, so no transport goroutines
// outlive a test.
func httpClient() *http.Client {
	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &http.Transport{DisableKeepAlives: true},
	}
}

func get(t *testing.T, addr, path string) *http.Response {
	t.Helper()
	resp, err := httpClient().Get("http://" + addr + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// rawGet sends a bare GET and returns the connection for reading.
func rawGet(t *testing.T, addr, path string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: feedercam\r\n\r\n", path)
	require.NoError(t, err)
	return conn
}

// readPart reads one multipart part and its trailing boundary.
func readPart(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if line != "Content-Type: image/jpeg\r\n" {
		return nil, fmt.Errorf("unexpected part header %q", line)
	}
	line, err = r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "Content-Length: "), "\r\n"))
	if err != nil {
		return nil, fmt.Errorf("bad length line %q: %w", line, err)
	}
	if line, err = r.ReadString('\n'); err != nil || line != "\r\n" {
		return nil, fmt.Errorf("missing blank line: %q %w", line, err)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	boundary := make([]byte, len(stream.BoundaryLine))
	if _, err := io.ReadFull(r, boundary); err != nil {
		return nil, err
	}
	if string(boundary) != stream.BoundaryLine {
		return nil, fmt.Errorf("bad boundary %q", boundary)
	}
	return frame, nil
}

func netListen() (net.Listener, error) {
	return net.Listen("tcp", "127.0.0.1:0")
}
