package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	// Minimal device images often ship without /usr/share/zoneinfo.
	_ "time/tzdata"

	"github.com/tphakala/feedercam/internal/errors"
)

const (
	// traceLevelValue sits one step below slog.LevelDebug.
	traceLevelValue = slog.Level(-8)

	// maxLevelWidth pads level names in console output.
	maxLevelWidth = 5

	moduleKey  = "module"
	traceIDKey = "trace_id"

	logDirPerm = 0o700
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal installs cl as the process wide logger. Called once after the
// configuration is loaded.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	globalLogger = cl
	globalLoggerMu.Unlock()
}

// Global returns the process wide logger. Before SetGlobal it is a console
// logger at info level, which is what tests and early startup get.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = &CentralLogger{
			config:   &LoggingConfig{DefaultLevel: DefaultLogLevel},
			timezone: time.Local,
			base:     newTextHandler(os.Stdout, slog.LevelInfo, time.Local),
			writers:  map[string]*BufferedFileWriter{},
			levels:   map[string]slog.Level{},
		}
	}
	return globalLogger
}

// CentralLogger routes module loggers to the console, the main log file and
// optional per-module files.
type CentralLogger struct {
	mu       sync.RWMutex
	config   *LoggingConfig
	timezone *time.Location

	// base serves every module without its own output
	base    slog.Handler
	main    *BufferedFileWriter
	writers map[string]*BufferedFileWriter
	levels  map[string]slog.Level
}

// NewCentralLogger opens the outputs described by cfg. Close flushes and
// closes the files on shutdown.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.NewStd("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		config:   cfg,
		timezone: tz,
		writers:  make(map[string]*BufferedFileWriter, len(cfg.ModuleOutputs)),
		levels:   make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}

	if err := cl.openBase(); err != nil {
		return nil, err
	}
	if err := cl.openModuleFiles(); err != nil {
		_ = cl.closeWriters()
		return nil, err
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

// openBase builds the console text handler and the main JSON file handler.
func (cl *CentralLogger) openBase() error {
	var handlers []slog.Handler

	if console := cl.config.Console; console != nil && console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(console.Level), cl.timezone))
	}

	if file := cl.config.FileOutput; file != nil && file.Enabled {
		w, err := cl.openFile(file.Path)
		if err != nil {
			return fmt.Errorf("failed to open main log file: %w", err)
		}
		cl.main = w
		handlers = append(handlers, newJSONHandler(w, parseLogLevel(file.Level), cl.timezone))
	}

	if len(handlers) == 0 {
		handlers = append(handlers, newTextHandler(os.Stdout, parseLogLevel(cl.config.DefaultLevel), cl.timezone))
	}
	cl.base = combineHandlers(handlers)
	return nil
}

// openModuleFiles opens one writer per configured module file. Modules that
// name the same path share a writer.
func (cl *CentralLogger) openModuleFiles() error {
	opened := make(map[string]*BufferedFileWriter)
	for module, out := range cl.config.ModuleOutputs {
		if !out.Enabled {
			continue
		}
		if w, ok := opened[out.FilePath]; ok {
			cl.writers[module] = w
			continue
		}
		w, err := cl.openFile(out.FilePath)
		if err != nil {
			return fmt.Errorf("failed to open log file for module %s: %w", module, err)
		}
		opened[out.FilePath] = w
		cl.writers[module] = w
	}
	return nil
}

func (cl *CentralLogger) openFile(path string) (*BufferedFileWriter, error) {
	if dir := filepath.Dir(path); path != "" && dir != "." {
		if err := os.MkdirAll(dir, logDirPerm); err != nil {
			return nil, err
		}
	}
	return NewBufferedFileWriter(path, WithFlushInterval(cl.config.flushInterval()))
}

// Module returns a logger for the named module. A module with its own file
// output logs there (and to the console when console_also is set) instead of
// the main outputs.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level, ok := cl.levels[name]
	if !ok {
		level = parseLogLevel(cl.config.DefaultLevel)
	}

	handler := cl.base
	if out, ok := cl.config.ModuleOutputs[name]; ok && out.Enabled {
		if out.Level != "" {
			level = parseLogLevel(out.Level)
		}
		var handlers []slog.Handler
		if w := cl.writers[name]; w != nil {
			handlers = append(handlers, newJSONHandler(w, level, cl.timezone))
		}
		if out.ConsoleAlso && cl.config.Console != nil && cl.config.Console.Enabled {
			handlers = append(handlers, newTextHandler(os.Stdout, level, cl.timezone))
		}
		if len(handlers) > 0 {
			handler = combineHandlers(handlers)
		}
	}

	return &moduleLogger{
		module:   name,
		logger:   slog.New(handler),
		level:    level,
		timezone: cl.timezone,
	}
}

// Flush pushes buffered file output to the OS without fsync.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	for _, w := range cl.files() {
		if err := w.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", w.FilePath(), err))
		}
	}
	return errors.Join(errs...)
}

// Sync flushes and fsyncs every log file. Used right before a forced restart.
func (cl *CentralLogger) Sync() error {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	for _, w := range cl.files() {
		errs = append(errs, w.Sync())
	}
	return errors.Join(errs...)
}

// Close flushes, syncs and closes every log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.closeWriters()
}

func (cl *CentralLogger) closeWriters() error {
	var errs []error
	for _, w := range cl.files() {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", w.FilePath(), err))
		}
	}
	cl.main = nil
	cl.writers = nil
	return errors.Join(errs...)
}

// files returns each open writer once.
func (cl *CentralLogger) files() []*BufferedFileWriter {
	seen := make(map[*BufferedFileWriter]bool, len(cl.writers)+1)
	var out []*BufferedFileWriter
	add := func(w *BufferedFileWriter) {
		if w != nil && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	add(cl.main)
	for _, w := range cl.writers {
		add(w)
	}
	return out
}

func combineHandlers(handlers []slog.Handler) slog.Handler {
	if len(handlers) == 1 {
		return handlers[0]
	}
	return newMultiWriterHandler(handlers...)
}

// parseLogLevel maps a configured level name to a slog level. Unknown names
// log at info.
func parseLogLevel(level string) slog.Level {
	switch LogLevel(level) {
	case LogLevelTrace:
		return traceLevelValue
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
