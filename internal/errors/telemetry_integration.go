package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every enhanced error built while it is installed.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// PrivacyScrubber removes credentials and identifiers from text before it
// leaves the device.
type PrivacyScrubber func(string) string

var (
	telemetryMu       sync.RWMutex
	telemetryReporter TelemetryReporter
	privacyScrubber   PrivacyScrubber
)

// SetTelemetryReporter installs reporter; nil turns reporting off.
func SetTelemetryReporter(reporter TelemetryReporter) {
	telemetryMu.Lock()
	telemetryReporter = reporter
	telemetryMu.Unlock()
	refreshReportingState()
}

// GetTelemetryReporter returns the installed reporter or nil.
func GetTelemetryReporter() TelemetryReporter {
	telemetryMu.RLock()
	defer telemetryMu.RUnlock()
	return telemetryReporter
}

// SetPrivacyScrubber replaces the built-in scrubber used for report text.
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	telemetryMu.Lock()
	privacyScrubber = scrubber
	telemetryMu.Unlock()
}

// reportToTelemetry forwards ee to the reporter. Low priority errors are
// routine (gate timeouts, client disconnects) and only reach hooks.
func reportToTelemetry(ee *EnhancedError) {
	if ee.Priority == PriorityLow {
		return
	}
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// SentryReporter sends enhanced errors to Sentry as events titled
// "<Component> <Category> <Operation>", grouped by that title.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a reporter. A disabled reporter drops everything.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled implements TelemetryReporter.
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError implements TelemetryReporter. Each error is sent at most once.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	title := generateErrorTitle(ee)
	component := ee.GetComponent()
	message := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	level := getErrorLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("error_title", title)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessageForPrivacy(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		scope.SetLevel(level)
		scope.SetFingerprint([]string{title, component, string(ee.Category)})

		// Sentry shows the exception type as the issue title
		event := sentry.NewEvent()
		event.Message = message
		event.Level = level
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

var categoryTitles = map[ErrorCategory]string{
	CategoryValidation:    "Validation Error",
	CategoryCamera:        "Camera Error",
	CategoryFrameBuffer:   "Frame Buffer Error",
	CategoryAllocation:    "Allocation Failure",
	CategoryStream:        "Stream Error",
	CategoryAdmission:     "Admission Error",
	CategoryNetwork:       "Network Error",
	CategoryDatabase:      "Database Error",
	CategoryFileIO:        "File I/O Error",
	CategoryConfiguration: "Configuration Error",
	CategorySystem:        "System Error",
}

// Title returns the report title, "<Component> <Category> <Operation>".
// Errors with the same title are grouped into one issue.
func (ee *EnhancedError) Title() string {
	return generateErrorTitle(ee)
}

// generateErrorTitle builds the issue title from component, category and the
// "operation" context value, falling back to the Go type of the cause.
func generateErrorTitle(ee *EnhancedError) string {
	var parts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		parts = append(parts, capitalize(component))
	}

	if title, ok := categoryTitles[ee.Category]; ok {
		parts = append(parts, title)
	} else if ee.Category != "" {
		parts = append(parts, string(ee.Category))
	}

	if op, _ := ee.GetContext()["operation"].(string); op != "" {
		for word := range strings.FieldsSeq(strings.ReplaceAll(op, "_", " ")) {
			parts = append(parts, capitalize(word))
		}
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}
	return strings.Join(parts, " ")
}

func capitalize(s string) string {
	for i, r := range s {
		return string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}

// getErrorLevel maps a category to a Sentry level. Allocation failures are
// fatal since the process restarts right after reporting them; camera and
// client side problems are usually transient.
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryAllocation:
		return sentry.LevelFatal
	case CategoryNetwork, CategoryCamera, CategoryStream,
		CategoryFileIO, CategoryHTTP, CategoryAdmission:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

func scrubMessageForPrivacy(message string) string {
	telemetryMu.RLock()
	scrubber := privacyScrubber
	telemetryMu.RUnlock()

	if scrubber != nil {
		return scrubber(message)
	}
	return basicURLScrub(message)
}

var (
	urlQueryPattern   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamPattern = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`auth[=:]\S+`),
		regexp.MustCompile(`key[=:][0-9a-fA-F]{8,}`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
	identifierPatterns = []*regexp.Regexp{
		regexp.MustCompile(`camera[_-]?id[=:]\S+`),
		regexp.MustCompile(`user[_-]?id[=:]\S+`),
		regexp.MustCompile(`device[_-]?id[=:]\S+`),
		regexp.MustCompile(`client[_-]?id[=:]\S+`),
	}
)

// basicURLScrub is the scrubber used until SetPrivacyScrubber installs one.
// It drops URL query strings and redacts key, token and id assignments.
func basicURLScrub(message string) string {
	scrubbed := urlQueryPattern.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = queryParamPattern.ReplaceAllString(scrubbed, "?[REDACTED]")
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	for _, re := range identifierPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, "[ID_REDACTED]")
	}
	return scrubbed
}
