package httpcontroller

import (
	stdlog "log"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/feedercam/internal/logger"
)

// echoLogAdapter adapts our Logger to implement io.Writer for Echo
type echoLogAdapter struct {
	logger logger.Logger
}

// Write implements io.Writer for echoLogAdapter
func (a *echoLogAdapter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		a.logger.Info(msg)
	}
	return len(p), nil
}

// initLogger routes Echo's own output and the http.Server error log through
// the module logger.
func (s *Server) initLogger() {
	echoLogWriter := &echoLogAdapter{logger: s.log.Module("echo")}
	s.Echo.Logger.SetOutput(echoLogWriter)
	s.Echo.StdLogger = stdlog.New(echoLogWriter, "", 0)
}

// requestLogger logs one line per request, at a level chosen by status code.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	httpLogger := s.log.Module("request")

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:          true,
		LogStatus:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogMethod:       true,
		LogError:        true,
		LogResponseSize: true,
		LogUserAgent:    true,
		HandleError:     true,
		Skipper: func(c echo.Context) bool {
			// scraped every few seconds
			return c.Path() == "/metrics"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log := httpLogger.WithContext(c.Request().Context())

			var logMethod func(string, ...logger.Field)
			switch {
			case v.Status >= 500:
				logMethod = log.Error
			case v.Status >= 400:
				logMethod = log.Warn
			default:
				logMethod = log.Info
			}

			fields := []logger.Field{
				logger.String("remote_ip", v.RemoteIP),
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Float64("latency_ms", float64(v.Latency)/float64(time.Millisecond)),
			}
			if v.ResponseSize > 0 {
				fields = append(fields, logger.Int64("resp_size", v.ResponseSize))
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			if v.Status >= 400 && v.UserAgent != "" {
				fields = append(fields, logger.String("user_agent", v.UserAgent))
			}

			logMethod("HTTP request", fields...)
			return nil
		},
	})
}
