package stream

import "github.com/tphakala/feedercam/internal/logger"

// GetLogger returns the stream logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("stream")
}
