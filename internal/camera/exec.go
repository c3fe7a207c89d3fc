package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

const (
	stderrTailSize      = 4096
	execRestartBackoff  = 2 * time.Second
	execWaitDelay       = 2 * time.Second
	execInitialScanSize = 64 * 1024
)

// ErrTimeout is returned when a source produced no frame within its timeout.
var ErrTimeout = errors.NewStd("timed out waiting for frame")

// Exec runs an external capture command that writes an MJPEG stream to
// stdout, for example rpicam-vid --codec mjpeg -o - or ffmpeg -f mjpeg -.
// A reader goroutine splits the stream into frames and keeps only the latest;
// Acquire hands out each frame at most once.
//
// The command starts on the first Acquire. If it exits, the next Acquire
// after a short backoff starts it again.
type Exec struct {
	command  string
	args     []string
	timeout  time.Duration
	maxBytes int
	stderr   *tailBuffer

	mu        sync.Mutex
	latest    []byte
	latestSeq uint64
	taken     uint64
	notify    chan struct{}
	running   bool
	lastStart time.Time
	exitErr   error
	cancel    context.CancelFunc
	done      chan struct{}
	closed    bool
}

// NewExec returns a source for command. timeout bounds the wait for a new
// frame and maxBytes bounds a single frame.
func NewExec(command string, args []string, timeout time.Duration, maxBytes int) *Exec {
	return &Exec{
		command:  command,
		args:     slices.Clone(args),
		timeout:  timeout,
		maxBytes: maxBytes,
		stderr:   newTailBuffer(stderrTailSize),
		notify:   make(chan struct{}),
	}
}

// Name implements Camera.
func (e *Exec) Name() string {
	return "exec:" + e.command
}

// Acquire implements Camera.
func (e *Exec) Acquire(ctx context.Context) (*Frame, error) {
	var timeout <-chan time.Time
	if e.timeout > 0 {
		timer := time.NewTimer(e.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, ErrClosed
		}
		if e.latestSeq > e.taken {
			f := newFrame(e.latest)
			e.taken = e.latestSeq
			e.mu.Unlock()
			return f, nil
		}
		if !e.running {
			if time.Since(e.lastStart) < execRestartBackoff && e.exitErr != nil {
				err := e.exitErr
				e.mu.Unlock()
				return nil, err
			}
			if err := e.startLocked(); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		}
		notify, done := e.notify, e.done
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-notify:
		case <-done:
			// a frame may have arrived just before exit, the next pass returns it or the exit error
		case <-timeout:
			return nil, errors.New(fmt.Errorf("%w: %s produced no frame in %s", ErrTimeout, e.command, e.timeout)).
				Component("camera").
				Category(errors.CategoryTimeout).
				Context("operation", "acquire_frame").
				Context("command", e.command).
				Build()
		}
	}
}

// startLocked launches the capture command. Caller holds e.mu.
func (e *Exec) startLocked() error {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, e.command, e.args...) //nolint:gosec // G204: command comes from validated settings
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = execWaitDelay

	e.stderr.Reset()
	cmd.Stderr = e.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return e.processErr(fmt.Errorf("failed to create stdout pipe: %w", err), "start_process")
	}

	e.lastStart = time.Now()
	if err := cmd.Start(); err != nil {
		cancel()
		e.exitErr = e.processErr(fmt.Errorf("failed to start capture command: %w", err), "start_process")
		return e.exitErr
	}

	e.running = true
	e.exitErr = nil
	e.cancel = cancel
	e.done = make(chan struct{})

	GetLogger().Info("capture command started",
		logger.String("command", e.command),
		logger.Int("pid", cmd.Process.Pid))

	go e.readFrames(cmd, stdout, cancel, e.done)
	return nil
}

// readFrames scans stdout for JPEG frames until the command exits.
func (e *Exec) readFrames(cmd *exec.Cmd, stdout io.Reader, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, execInitialScanSize), max(e.maxBytes, execInitialScanSize))
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		e.mu.Lock()
		e.latest = append(e.latest[:0], scanner.Bytes()...)
		e.latestSeq++
		close(e.notify)
		e.notify = make(chan struct{})
		e.mu.Unlock()
	}
	scanErr := scanner.Err()

	// stop the process if the scanner gave up first, e.g. on an oversized frame
	cancel()
	waitErr := cmd.Wait()

	exitErr := waitErr
	if scanErr != nil {
		exitErr = scanErr
	}
	if exitErr == nil {
		exitErr = io.EOF
	}

	e.mu.Lock()
	closed := e.closed
	e.running = false
	e.exitErr = e.processErr(fmt.Errorf("capture command exited: %w", exitErr), "read_frames")
	e.mu.Unlock()

	if !closed {
		GetLogger().Warn("capture command exited",
			logger.String("command", e.command),
			logger.Error(exitErr),
			logger.String("stderr", lastLines(e.stderr.String(), 5)))
	}
}

func (e *Exec) processErr(err error, op string) error {
	return errors.New(err).
		Component("camera").
		Category(errors.CategoryCommand).
		Context("operation", op).
		Context("command", e.command).
		Context("stderr", e.stderr.String()).
		Build()
}

// Release implements Camera.
func (e *Exec) Release(f *Frame) {
	releaseFrame(f)
}

// Close stops the capture command and waits for the reader to finish.
func (e *Exec) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, done, running := e.cancel, e.done, e.running
	e.mu.Unlock()

	if running && cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// splitJPEG is a bufio.SplitFunc returning one complete JPEG image, SOI
// through EOI, per token. Bytes outside a frame are skipped and a truncated
// frame at EOF is dropped.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		// a trailing 0xFF may be the first half of an SOI marker
		if !atEOF && len(data) > 0 && data[len(data)-1] == 0xFF {
			return len(data) - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// drop leading garbage, then ask for more
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}

// lastLines returns at most n trailing lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
