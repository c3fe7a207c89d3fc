package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

const defaultUserAgent = "feedercam"

// HTTPSnapshot polls a snapshot URL, such as an IP camera's /jpg endpoint,
// once per Acquire.
type HTTPSnapshot struct {
	url      string
	timeout  time.Duration
	maxBytes int64
	client   *http.Client
}

// HTTPOption configures an HTTPSnapshot.
type HTTPOption func(*HTTPSnapshot)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPSnapshot) {
		if c != nil {
			h.client = c
		}
	}
}

// NewHTTPSnapshot returns a source fetching url with a per-request timeout.
// Responses larger than maxBytes are rejected.
func NewHTTPSnapshot(url string, timeout time.Duration, maxBytes int, opts ...HTTPOption) *HTTPSnapshot {
	h := &HTTPSnapshot{
		url:      url,
		timeout:  timeout,
		maxBytes: int64(maxBytes),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   2,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Camera.
func (h *HTTPSnapshot) Name() string {
	return "http:" + logger.RedactURL(h.url)
}

// Acquire implements Camera.
func (h *HTTPSnapshot) Acquire(ctx context.Context) (*Frame, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, http.NoBody)
	if err != nil {
		return nil, h.wrapErr(err, "create_request", start)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "image/jpeg")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, h.wrapErr(err, "fetch_snapshot", start)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, h.wrapErr(fmt.Errorf("unexpected status %s", resp.Status), "fetch_snapshot", start)
	}

	buf := framePool.Get().(*[]byte)
	data, err := readLimited(resp.Body, (*buf)[:0], h.maxBytes)
	if err != nil {
		*buf = data[:0]
		framePool.Put(buf)
		return nil, h.wrapErr(err, "read_snapshot", start)
	}
	if !isJPEG(data) {
		*buf = data[:0]
		framePool.Put(buf)
		return nil, h.wrapErr(ErrNotJPEG, "read_snapshot", start)
	}

	*buf = data
	return &Frame{Data: data, Captured: time.Now(), buf: buf}, nil
}

// readLimited appends r to dst, failing when more than limit bytes arrive.
func readLimited(r io.Reader, dst []byte, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = 1 << 30
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}
	for {
		if len(dst) == cap(dst) {
			dst = append(dst, 0)[:len(dst)]
		}
		n, err := lr.Read(dst[len(dst):cap(dst)])
		dst = dst[:len(dst)+n]
		if int64(len(dst)) > limit {
			return dst, fmt.Errorf("snapshot exceeds %d bytes", limit)
		}
		if err == io.EOF {
			return dst, nil
		}
		if err != nil {
			return dst, err
		}
	}
}

func (h *HTTPSnapshot) wrapErr(err error, op string, start time.Time) error {
	return errors.New(err).
		Component("camera").
		Category(errors.CategoryCamera).
		NetworkContext(h.url, h.timeout).
		Timing(op, time.Since(start)).
		Context("operation", op).
		Build()
}

// Release implements Camera.
func (h *HTTPSnapshot) Release(f *Frame) {
	releaseFrame(f)
}

// Close implements Camera.
func (h *HTTPSnapshot) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
