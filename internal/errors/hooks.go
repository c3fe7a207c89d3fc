// Package errors - error hooks
package errors

import "sync"

// ErrorHook is called synchronously for every error built while reporting is active.
// Hooks must be cheap and must not block.
type ErrorHook func(ee *EnhancedError)

var (
	errorHooks   []ErrorHook
	errorHooksMu sync.RWMutex
)

// AddErrorHook registers a hook that observes every built error.
func AddErrorHook(hook ErrorHook) {
	if hook == nil {
		return
	}
	errorHooksMu.Lock()
	errorHooks = append(errorHooks, hook)
	errorHooksMu.Unlock()
	refreshReportingState()
}

// ClearErrorHooks removes all registered hooks.
func ClearErrorHooks() {
	errorHooksMu.Lock()
	errorHooks = nil
	errorHooksMu.Unlock()
	refreshReportingState()
}

func runErrorHooks(ee *EnhancedError) {
	errorHooksMu.RLock()
	hooks := errorHooks
	errorHooksMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
}

// refreshReportingState switches Build between the fast path and the full path.
func refreshReportingState() {
	errorHooksMu.RLock()
	hooksActive := len(errorHooks) > 0
	errorHooksMu.RUnlock()

	reporter := GetTelemetryReporter()
	hasActiveReporting.Store(hooksActive || (reporter != nil && reporter.IsEnabled()))
}
