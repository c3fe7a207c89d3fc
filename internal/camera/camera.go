// Package camera provides the frame sources feeding the stream pipeline.
//
// Every source hands out already encoded JPEG frames. Frames come from a
// shared pool and must be returned with Release once the caller has copied
// them into the frame store.
package camera

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

// Camera is a source of encoded JPEG frames.
type Camera interface {
	// Acquire blocks until a frame is available or ctx ends.
	Acquire(ctx context.Context) (*Frame, error)
	// Release returns a frame obtained from Acquire. Nil is ignored.
	Release(f *Frame)
	// Close stops the source and frees its resources.
	Close() error
	// Name identifies the source in logs.
	Name() string
}

// Frame is one encoded image.
type Frame struct {
	Data     []byte
	Captured time.Time
	buf      *[]byte
}

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.NewStd("camera closed")
	// ErrNotJPEG is returned when a source delivers something that does not
	// start with a JPEG SOI marker.
	ErrNotJPEG = errors.NewStd("frame is not a JPEG image")
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// isJPEG reports whether b starts with the JPEG start-of-image marker.
func isJPEG(b []byte) bool {
	return bytes.HasPrefix(b, jpegSOI)
}

// framePool recycles frame buffers across sources and acquisitions.
var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 64*1024)
		return &b
	},
}

// newFrame returns a pooled frame holding a copy of data.
func newFrame(data []byte) *Frame {
	buf := framePool.Get().(*[]byte)
	*buf = append((*buf)[:0], data...)
	return &Frame{Data: *buf, Captured: time.Now(), buf: buf}
}

// releaseFrame returns f's buffer to the pool.
func releaseFrame(f *Frame) {
	if f == nil || f.buf == nil {
		return
	}
	*f.buf = f.Data[:0]
	framePool.Put(f.buf)
	f.Data = nil
	f.buf = nil
}

// GetLogger returns the camera logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("camera")
}
