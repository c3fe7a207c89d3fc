// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateCameraSettings,
		validateStreamSettings,
		validateWebServerSettings,
		validateMQTTSettings,
		validateSentrySettings,
		validateSessionsSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateCameraSettings(s *Settings) []string {
	var errs []string
	c := &s.Camera

	if c.FPS < 1 || c.FPS > 60 {
		errs = append(errs, fmt.Sprintf("camera.fps must be between 1 and 60, got %d", c.FPS))
	}

	switch c.Source {
	case SourceTestPattern:
		if c.Width < 16 || c.Height < 16 {
			errs = append(errs, fmt.Sprintf("camera test pattern size %dx%d is too small", c.Width, c.Height))
		}
		if c.Quality < 1 || c.Quality > 100 {
			errs = append(errs, fmt.Sprintf("camera.quality must be between 1 and 100, got %d", c.Quality))
		}
	case SourceDirectory:
		if c.Directory == "" {
			errs = append(errs, "camera.directory is required for the directory source")
		}
	case SourceExec:
		if c.Command == "" {
			errs = append(errs, "camera.command is required for the exec source")
		}
	case SourceHTTP:
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, "camera.url must be an http or https URL for the http source")
		}
	default:
		errs = append(errs, fmt.Sprintf("camera.source %q is not one of testpattern, directory, exec, http", c.Source))
	}

	if (c.Source == SourceExec || c.Source == SourceHTTP) && c.Timeout <= 0 {
		errs = append(errs, "camera.timeout must be positive")
	}

	return errs
}

func validateStreamSettings(s *Settings) []string {
	var errs []string
	st := &s.Stream

	if st.MaxClients < 1 {
		errs = append(errs, fmt.Sprintf("stream.maxclients must be at least 1, got %d", st.MaxClients))
	}
	if st.PollInterval < 0 {
		errs = append(errs, "stream.pollinterval must not be negative")
	}
	if st.MaxFrameBytes < 1024 {
		errs = append(errs, fmt.Sprintf("stream.maxframebytes must be at least 1024, got %d", st.MaxFrameBytes))
	}
	if st.RestartDelay < 0 {
		errs = append(errs, "stream.restartdelay must not be negative")
	}
	if st.EventBuffer < 1 {
		errs = append(errs, "stream.eventbuffer must be at least 1")
	}

	return errs
}

func validateWebServerSettings(s *Settings) []string {
	var errs []string
	ws := &s.WebServer

	if !ws.Enabled {
		return nil
	}

	port, err := strconv.Atoi(ws.Port)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("webserver.port %q is not a valid port", ws.Port))
	}
	if ws.MaxConnections < s.Stream.MaxClients+1 {
		errs = append(errs, fmt.Sprintf("webserver.maxconnections (%d) must leave room for %d stream clients plus one request",
			ws.MaxConnections, s.Stream.MaxClients))
	}
	if ws.JPGCacheTTL < 0 {
		errs = append(errs, "webserver.jpgcachettl must not be negative")
	}
	if ws.AutoTLS && ws.TLSHost == "" {
		errs = append(errs, "webserver.tlshost is required when autotls is enabled")
	}

	return errs
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}

	var errs []string
	u, err := url.Parse(s.MQTT.Broker)
	if err != nil || !slices.Contains([]string{"tcp", "ssl", "ws", "wss", "mqtt", "mqtts"}, u.Scheme) {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q must be a tcp://, ssl://, ws:// or wss:// URL", s.MQTT.Broker))
	}
	if strings.TrimSpace(s.MQTT.Topic) == "" || strings.ContainsAny(s.MQTT.Topic, "#+") {
		errs = append(errs, "mqtt.topic must be set and must not contain wildcards")
	}
	return errs
}

func validateSentrySettings(s *Settings) []string {
	if !s.Sentry.Enabled {
		return nil
	}

	var errs []string
	if s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn is required when sentry is enabled")
	}
	if s.Sentry.SampleRate < 0 || s.Sentry.SampleRate > 1 {
		errs = append(errs, "sentry.samplerate must be between 0 and 1")
	}
	return errs
}

func validateSessionsSettings(s *Settings) []string {
	if !s.Sessions.Enabled {
		return nil
	}

	switch s.Sessions.Type {
	case SessionStoreSQLite:
		if s.Sessions.Path == "" {
			return []string{"sessions.path is required for the sqlite store"}
		}
	case SessionStoreMySQL:
		if s.Sessions.MySQL.Host == "" || s.Sessions.MySQL.Database == "" {
			return []string{"sessions.mysql.host and sessions.mysql.database are required for the mysql store"}
		}
	default:
		return []string{fmt.Sprintf("sessions.type %q is not one of sqlite, mysql", s.Sessions.Type)}
	}
	return nil
}
