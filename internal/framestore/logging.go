package framestore

import "github.com/tphakala/feedercam/internal/logger"

// GetLogger returns the framestore logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("framestore")
}
