package sessions

import "github.com/tphakala/feedercam/internal/logger"

// GetLogger returns the sessions module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("sessions")
}
