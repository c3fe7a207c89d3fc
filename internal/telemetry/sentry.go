// Package telemetry provides opt-in, privacy-filtered error reporting to Sentry.
package telemetry

import (
	"fmt"
	"runtime"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/feedercam/internal/buildinfo"
	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

// flushTimeout bounds the wait for queued events before the process exits.
const flushTimeout = 2 * time.Second

// Option configures InitSentry.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) { o.Transport = t }
}

// InitSentry initializes the Sentry SDK when settings.Enabled is set and
// installs an AsyncWorker feeding it as the errors telemetry reporter. The
// returned flush func delivers queued reports and stops the worker; it is
// safe to call more than once and when Sentry is disabled.
func InitSentry(settings *conf.SentrySettings, build buildinfo.BuildInfo, opts ...Option) (flush func(), err error) {
	log := GetLogger()
	if !settings.Enabled {
		log.Info("Sentry telemetry is disabled (opt-in required)")
		return func() {}, nil
	}

	clientOptions := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       settings.SampleRate,
		Environment:      settings.Environment,
		Release:          fmt.Sprintf("feedercam@%s", build.Version()),
		AttachStacktrace: false,
		ServerName:       "", // keep the hostname out of events
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&clientOptions)
	}

	if err := sentry.Init(clientOptions); err != nil {
		return func() {}, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	configureSentryScope(build)
	errors.SetPrivacyScrubber(logger.RedactSensitiveData)
	worker := NewAsyncWorker(errors.NewSentryReporter(true), DefaultAsyncWorkerConfig())
	errors.SetTelemetryReporter(worker)

	log.Info("Sentry telemetry initialized",
		logger.String("system_id", build.SystemID()),
		logger.String("version", build.Version()),
		logger.String("environment", settings.Environment))

	return func() {
		worker.Stop()
		Flush()
	}, nil
}

// Flush waits for queued events to be delivered.
func Flush() {
	if !sentry.Flush(flushTimeout) {
		GetLogger().Warn("Sentry flush timed out", logger.Duration("timeout", flushTimeout))
	}
}

// applyPrivacyFilters removes host and user identifying data from event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}

// configureSentryScope tags all events with the install and platform.
func configureSentryScope(build buildinfo.BuildInfo) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("system_id", build.SystemID())
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)

		scope.SetContext("application", map[string]any{
			"name":       "feedercam",
			"version":    build.Version(),
			"build_date": build.BuildDate(),
			"go_version": runtime.Version(),
		})
	})
}
