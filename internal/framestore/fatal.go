package framestore

import (
	"os"
	"time"

	"github.com/tphakala/feedercam/internal/logger"
)

// FatalHandler is called when the store cannot continue, currently only on
// allocation failure. Production handlers do not return.
type FatalHandler func(err error)

// exitFunc is swapped in tests
var exitFunc = os.Exit

// NewRestartHandler returns a FatalHandler that logs err, runs the flush
// functions (log sync, Sentry flush), waits delay and exits with status 1 so
// the service supervisor restarts the process with a clean heap.
func NewRestartHandler(log logger.Logger, delay time.Duration, flush ...func()) FatalHandler {
	if log == nil {
		log = GetLogger()
	}
	return func(err error) {
		log.Error("frame buffer allocation failed, restarting",
			logger.Error(err),
			logger.Duration("restart_delay", delay))

		for _, f := range flush {
			if f != nil {
				f()
			}
		}

		time.Sleep(delay)
		exitFunc(1)
	}
}

// noopFatal is the default handler for stores built without one. It only
// logs, the caller still receives the error.
func noopFatal(err error) {
	GetLogger().Error("frame buffer allocation failed", logger.Error(err))
}
