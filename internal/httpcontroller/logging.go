package httpcontroller

import (
	"github.com/tphakala/feedercam/internal/logger"
)

// GetLogger returns the http module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("http")
}
