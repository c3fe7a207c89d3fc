package logger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tphakala/feedercam/internal/errors"
)

const (
	// DefaultBufferSize batches roughly a second of debug-level stream logging.
	DefaultBufferSize = 16 * 1024

	// DefaultFlushInterval is how often buffered lines reach the file.
	DefaultFlushInterval = 2 * time.Second

	// LogFilePermissions keeps log files private; access logs carry client addresses.
	LogFilePermissions = 0o600
)

var errWriterClosed = errors.NewStd("log writer is closed")

// BufferedFileWriter appends to a log file through a buffer that a
// background goroutine flushes periodically. SD cards on the target devices
// wear quickly under many small writes. Rotation is left to logrotate with
// copytruncate.
type BufferedFileWriter struct {
	mu   sync.Mutex
	path string
	file *os.File
	buf  *bufio.Writer

	size     int
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
}

// BufferedWriterOption configures a BufferedFileWriter.
type BufferedWriterOption func(*BufferedFileWriter)

// WithBufferSize sets the buffer size. Non-positive sizes are ignored.
func WithBufferSize(size int) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		if size > 0 {
			w.size = size
		}
	}
}

// WithFlushInterval sets the auto-flush interval; 0 disables auto-flush.
func WithFlushInterval(interval time.Duration) BufferedWriterOption {
	return func(w *BufferedFileWriter) { w.interval = max(interval, 0) }
}

// NewBufferedFileWriter opens path for appending, creating it if needed.
// The directory must exist.
func NewBufferedFileWriter(path string, opts ...BufferedWriterOption) (*BufferedFileWriter, error) {
	w := &BufferedFileWriter{
		path:     path,
		size:     DefaultBufferSize,
		interval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	w.file = f
	w.buf = bufio.NewWriterSize(f, w.size)

	if w.interval > 0 {
		w.stop = make(chan struct{})
		w.stopped = make(chan struct{})
		go w.flushLoop()
	}
	return w, nil
}

func (w *BufferedFileWriter) flushLoop() {
	defer close(w.stopped)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			// a failing flush shows up again on the next Write
			_ = w.Flush()
		}
	}
}

// Write buffers p. Safe for concurrent use.
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return 0, errWriterClosed
	}
	return w.buf.Write(p)
}

// Flush hands buffered data to the OS without fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(false)
}

// Sync flushes and fsyncs. The restart path calls it so the last lines
// survive the process exit.
func (w *BufferedFileWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(true)
}

func (w *BufferedFileWriter) flushLocked(sync bool) error {
	if w.buf == nil {
		return nil
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush log buffer: %w", err)
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync log file: %w", err)
		}
	}
	return nil
}

// Close stops auto-flush, syncs and closes the file. Later calls return nil.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.buf == nil {
		w.mu.Unlock()
		return nil
	}
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()

	if stop != nil {
		close(stop)
		<-w.stopped
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return nil
	}

	err := w.flushLocked(true)
	if cerr := w.file.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("failed to close log file: %w", cerr))
	}
	w.buf = nil
	w.file = nil
	return err
}

// FilePath returns the path the writer appends to.
func (w *BufferedFileWriter) FilePath() string {
	return w.path
}

// Buffered returns the number of bytes not yet handed to the OS.
func (w *BufferedFileWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf == nil {
		return 0
	}
	return w.buf.Buffered()
}

var _ io.WriteCloser = (*BufferedFileWriter)(nil)
