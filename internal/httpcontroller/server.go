// internal/httpcontroller/server.go
package httpcontroller

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/netutil"

	"github.com/tphakala/feedercam/internal/buildinfo"
	"github.com/tphakala/feedercam/internal/camera"
	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/observability"
	"github.com/tphakala/feedercam/internal/sessions"
	"github.com/tphakala/feedercam/internal/stream"
)

// streamWriteTimeout bounds a single write to a stream or capture client.
const streamWriteTimeout = 10 * time.Second

// SessionLister returns recent client sessions for the sessions API.
type SessionLister interface {
	Recent(ctx context.Context, limit int) ([]sessions.Session, error)
}

// Server encapsulates the Echo server and the components its routes serve.
type Server struct {
	Echo     *echo.Echo
	Settings *conf.Settings

	pipeline *stream.Pipeline
	cam      camera.Camera
	metrics  *observability.Metrics
	sessions SessionLister
	build    buildinfo.BuildInfo

	jpgCache  *cache.Cache
	startTime time.Time
	log       logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /metrics and records request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSessions enables the sessions API.
func WithSessions(l SessionLister) Option {
	return func(s *Server) { s.sessions = l }
}

// WithBuildInfo sets the version reported by the status API.
func WithBuildInfo(b buildinfo.BuildInfo) Option {
	return func(s *Server) { s.build = b }
}

// WithLogger replaces the module logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates the HTTP server. cam is used for single-shot captures when
// the pipeline has no recent frame.
func New(settings *conf.Settings, pipeline *stream.Pipeline, cam camera.Camera, opts ...Option) *Server {
	configureDefaultSettings(settings)

	s := &Server{
		Echo:      echo.New(),
		Settings:  settings,
		pipeline:  pipeline,
		cam:       cam,
		build:     buildinfo.NewContext("", "", settings.Main.SystemID),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	// no janitor; expired captures are simply not returned by Get
	s.jpgCache = cache.New(settings.WebServer.JPGCacheTTL, 0)

	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.initializeServer()
	return s
}

// initializeServer configures and initializes the server.
func (s *Server) initializeServer() {
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.initLogger()
	s.configureMiddleware()
	s.initRoutes()
}

// configureDefaultSettings sets default values for server settings.
func configureDefaultSettings(settings *conf.Settings) {
	if settings.WebServer.Port == "" {
		settings.WebServer.Port = "80"
	}
	if settings.WebServer.ShutdownTimeout <= 0 {
		settings.WebServer.ShutdownTimeout = 5 * time.Second
	}
}

// Serve listens on the configured port and serves until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.Settings.WebServer.Port)
	if err != nil {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("operation", "listen").
			Context("port", s.Settings.WebServer.Port).
			Build()
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx ends, then shuts down gracefully.
// ln is wrapped so that at most webserver.maxconnections sockets are open,
// hijacked stream connections included.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	if limit := s.Settings.WebServer.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}

	srv := s.Echo.Server
	if s.Settings.WebServer.AutoTLS {
		tlsConfig, err := s.autoTLSConfig()
		if err != nil {
			_ = ln.Close()
			return err
		}
		srv = s.Echo.TLSServer
		srv.TLSConfig = tlsConfig
		s.Echo.TLSListener = tls.NewListener(ln, tlsConfig)
	} else {
		s.Echo.Listener = ln
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Echo.StartServer(srv)
	}()

	s.log.Info("HTTP server started",
		logger.String("addr", ln.Addr().String()),
		logger.Bool("auto_tls", s.Settings.WebServer.AutoTLS),
		logger.Int("max_connections", s.Settings.WebServer.MaxConnections))

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("operation", "serve").
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.Settings.WebServer.ShutdownTimeout)
	defer cancel()
	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", logger.Error(err))
		_ = s.Echo.Close()
	}
	<-errChan

	s.jpgCache.Flush()
	s.log.Info("HTTP server stopped")
	return nil
}

// Addr returns the address the server listens on, nil before ServeListener.
func (s *Server) Addr() net.Addr {
	if s.Settings.WebServer.AutoTLS {
		return s.Echo.TLSListenerAddr()
	}
	return s.Echo.ListenerAddr()
}

// autoTLSConfig prepares the ACME certificate manager the way echo's
// StartAutoTLS does, with the cache stored next to the config file.
func (s *Server) autoTLSConfig() (*tls.Config, error) {
	configPaths, err := conf.GetDefaultConfigPaths()
	if err != nil {
		return nil, errors.New(err).
			Component("http").
			Category(errors.CategoryConfiguration).
			Context("operation", "autotls_cache_dir").
			Build()
	}

	m := &s.Echo.AutoTLSManager
	m.Prompt = autocert.AcceptTOS
	m.Cache = autocert.DirCache(filepath.Join(configPaths[0], "autocert"))
	m.HostPolicy = autocert.HostWhitelist(s.Settings.WebServer.TLSHost)

	// no h2: stream handlers hijack the connection
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"http/1.1", acme.ALPNProto},
	}, nil
}
