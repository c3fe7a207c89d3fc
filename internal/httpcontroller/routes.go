// internal/httpcontroller/routes.go
package httpcontroller

import (
	"context"
	"crypto/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/framestore"
	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/stream"
)

const (
	jpgCacheKey = "capture"

	// recentFrameAge is how old a pipeline frame may be and still be served
	// by /jpg instead of a fresh capture.
	recentFrameAge = time.Second

	defaultCaptureTimeout = 5 * time.Second

	defaultSessionLimit = 50
	maxSessionLimit     = 500
)

// initRoutes registers all routes.
func (s *Server) initRoutes() {
	s.Echo.GET("/mjpeg/1", s.handleMJPEG)
	s.Echo.GET("/jpg", s.handleJPG)

	api := s.Echo.Group("/api/v1")
	api.GET("/status", s.handleStatus)
	api.GET("/sessions", s.handleSessions)

	if s.metrics != nil && s.Settings.WebServer.Metrics {
		s.Echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	s.Echo.RouteNotFound("/*", s.handleNotFound)
}

// handleMJPEG hands the raw connection to the stream pipeline. Rejected
// clients are closed without a response.
func (s *Server) handleMJPEG(c echo.Context) error {
	conn, rw, err := c.Response().Hijack()
	if err != nil {
		return s.HandleError(c, err, "streaming not supported on this connection", http.StatusInternalServerError)
	}
	sc := stream.NewNetConn(conn, rw, streamWriteTimeout)

	decision, err := s.pipeline.Admit(c.Request().Context(), sc)
	if decision == stream.Admitted {
		return nil
	}

	_ = sc.Close()
	if err != nil && !errors.Is(err, stream.ErrSpawnFailed) {
		s.log.WithContext(c.Request().Context()).Debug("stream client not admitted",
			logger.String("remote_addr", sc.RemoteAddr()),
			logger.String("decision", decision.String()),
			logger.Error(err))
	}
	return nil
}

// handleJPG serves a single JPEG capture with a fixed raw header.
func (s *Server) handleJPG(c echo.Context) error {
	ctx := c.Request().Context()

	var data []byte
	if v, ok := s.jpgCache.Get(jpgCacheKey); ok {
		data = v.([]byte)
	} else {
		var err error
		data, err = s.capture(ctx)
		if err != nil {
			return s.HandleError(c, err, "capture failed", http.StatusServiceUnavailable)
		}
		if s.Settings.WebServer.JPGCacheTTL > 0 {
			s.jpgCache.SetDefault(jpgCacheKey, data)
		}
	}

	return s.writeJPEG(c, data)
}

// capture returns the pipeline's current frame when it is recent, otherwise
// it acquires one frame from the camera.
func (s *Server) capture(ctx context.Context) ([]byte, error) {
	if last := s.pipeline.LastFrameTime(); !last.IsZero() && time.Since(last) < recentFrameAge {
		buf := framestore.NewBuffer(0)
		n, _, err := s.pipeline.Snapshot(ctx, buf)
		if err == nil && n > 0 {
			return buf.Bytes(), nil
		}
	}

	timeout := s.Settings.Camera.Timeout
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	frame, err := s.cam.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.cam.Release(frame)
	if frame == nil || len(frame.Data) == 0 {
		return nil, errors.Newf("camera %s returned no frame", s.cam.Name()).
			Component("http").
			Category(errors.CategoryCamera).
			Context("operation", "single_capture").
			Build()
	}

	data := make([]byte, len(frame.Data))
	copy(data, frame.Data)
	return data, nil
}

// writeJPEG writes the capture on the raw connection so the response is
// exactly the JPEG header followed by the image, delimited by close.
func (s *Server) writeJPEG(c echo.Context, data []byte) error {
	conn, rw, err := c.Response().Hijack()
	if err != nil {
		return c.Blob(http.StatusOK, "image/jpeg", data)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if _, err = rw.WriteString(stream.JPEGHeader); err == nil {
		if _, err = rw.Write(data); err == nil {
			err = rw.Flush()
		}
	}
	if err != nil {
		s.log.WithContext(c.Request().Context()).Debug("capture write failed",
			logger.String("remote_addr", conn.RemoteAddr().String()),
			logger.Error(err))
	}
	return nil
}

// MemoryStatus is the system memory part of the status response.
type MemoryStatus struct {
	TotalBytes     uint64  `json:"total_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// StatusResponse is returned by /api/v1/status.
type StatusResponse struct {
	stream.Status
	Version       string        `json:"version"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Memory        *MemoryStatus `json:"memory,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{
		Status:        s.pipeline.Status(),
		Version:       s.build.Version(),
		UptimeSeconds: time.Since(s.startTime).Seconds(),
	}
	if vm, err := mem.VirtualMemoryWithContext(c.Request().Context()); err == nil {
		resp.Memory = &MemoryStatus{
			TotalBytes:     vm.Total,
			AvailableBytes: vm.Available,
			UsedPercent:    vm.UsedPercent,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSessions(c echo.Context) error {
	if s.sessions == nil {
		return s.HandleError(c, nil, "session history is disabled", http.StatusNotFound)
	}

	limit := defaultSessionLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return s.HandleError(c, err, "limit must be a positive integer", http.StatusBadRequest)
		}
		limit = min(n, maxSessionLimit)
	}

	list, err := s.sessions.Recent(c.Request().Context(), limit)
	if err != nil {
		return s.HandleError(c, err, "failed to load sessions", http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleNotFound(c echo.Context) error {
	return c.String(http.StatusNotFound, stream.NotFoundBody)
}

// ErrorResponse is the JSON body of API errors.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // Unique identifier for tracking this error
}

// NewErrorResponse creates a new API error response
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// HandleError logs err and writes it as a JSON error response.
func (s *Server) HandleError(c echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)

	log := s.log.WithContext(c.Request().Context())
	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("path", c.Request().URL.Path),
		logger.String("ip", c.RealIP()),
		logger.Int("code", code),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Debug(message, fields...)
	}

	return c.JSON(code, resp)
}

// generateCorrelationID creates a short random id for error tracking
func generateCorrelationID() string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
