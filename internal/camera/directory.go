package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
)

// Directory cycles through the JPEG files of a directory at the configured
// frame rate. Files are read once at construction.
type Directory struct {
	dir      string
	interval time.Duration

	mu     sync.Mutex
	frames [][]byte
	pos    int
	next   time.Time
	closed bool
}

// NewDirectory loads every .jpg and .jpeg file in dir, sorted by name.
func NewDirectory(dir string, fps int) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryFileIO).
			Context("operation", "read_frame_directory").
			Context("directory", dir).
			Build()
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var frames [][]byte
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.New(err).
				Component("camera").
				Category(errors.CategoryFileIO).
				Context("operation", "read_frame_file").
				Context("file", name).
				Build()
		}
		if !isJPEG(data) {
			GetLogger().Warn("skipping file that is not a JPEG image", logger.String("file", name))
			continue
		}
		frames = append(frames, data)
	}

	if len(frames) == 0 {
		return nil, errors.New(fmt.Errorf("no JPEG files found in %s", dir)).
			Component("camera").
			Category(errors.CategoryNotFound).
			Context("operation", "read_frame_directory").
			Build()
	}

	if fps <= 0 {
		fps = 1
	}
	return &Directory{
		dir:      dir,
		interval: time.Second / time.Duration(fps),
		frames:   frames,
	}, nil
}

// Name implements Camera.
func (d *Directory) Name() string {
	return "directory:" + d.dir
}

// Len returns the number of frames loaded.
func (d *Directory) Len() int {
	return len(d.frames)
}

// Acquire implements Camera.
func (d *Directory) Acquire(ctx context.Context) (*Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	if wait := time.Until(d.next); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	d.next = time.Now().Add(d.interval)

	f := newFrame(d.frames[d.pos])
	d.pos = (d.pos + 1) % len(d.frames)
	return f, nil
}

// Release implements Camera.
func (d *Directory) Release(f *Frame) {
	releaseFrame(f)
}

// Close implements Camera.
func (d *Directory) Close() error {
	d.mu.Lock()
	d.closed = true
	d.frames = nil
	d.mu.Unlock()
	return nil
}
