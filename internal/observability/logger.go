// Package observability provides Prometheus metrics for feedercam.
package observability

import "github.com/tphakala/feedercam/internal/logger"

// GetLogger returns the observability logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
