package framestore

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/tphakala/feedercam/internal/errors"
)

var (
	// ErrEmptyFrame is returned by Publish for a nil or zero length frame.
	ErrEmptyFrame = errors.NewStd("empty frame")
	// ErrGateBusy is returned by Publish when the hand-off gate could not be
	// taken before the context ended.
	ErrGateBusy = errors.NewStd("frame hand-off gate busy")
)

// Store is a two-slot frame store. Publish must only be called from a single
// producer goroutine; Snapshot may be called concurrently by any number of readers.
type Store struct {
	alloc Allocator
	fatal FatalHandler

	// gate guards active and the slot it points to
	gate   *semaphore.Weighted
	slots  [2]Buffer
	active int

	// seq is written only while gate is held; 0 means nothing published yet
	seq atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithAllocator sets the allocator used to grow slots and reader buffers.
func WithAllocator(a Allocator) Option {
	return func(s *Store) {
		if a != nil {
			s.alloc = a
		}
	}
}

// WithFatalHandler sets the handler invoked on allocation failure.
func WithFatalHandler(h FatalHandler) Option {
	return func(s *Store) {
		if h != nil {
			s.fatal = h
		}
	}
}

// New creates an empty store. Slots are allocated on first publish.
func New(opts ...Option) *Store {
	s := &Store{
		alloc: HeapAllocator{},
		fatal: noopFatal,
		gate:  semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish copies frame into the inactive slot and makes it the active frame.
// The copy happens outside the gate; ctx bounds only the wait for the gate.
// On ErrGateBusy the frame is discarded and the previous frame stays current.
func (s *Store) Publish(ctx context.Context, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}

	// Only the producer changes active, so reading it here without the gate is safe.
	next := 1 - s.active
	slot := &s.slots[next]
	if err := slot.ensure(len(frame), s.alloc); err != nil {
		s.fatal(err)
		return err
	}
	slot.set(frame)

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return errors.New(fmt.Errorf("%w: %w", ErrGateBusy, err)).
			Component("framestore").
			Category(errors.CategoryFrameBuffer).
			Priority(errors.PriorityLow).
			FrameContext(len(frame)).
			Context("operation", "publish").
			Build()
	}
	s.active = next
	s.seq.Add(1)
	s.gate.Release(1)

	return nil
}

// Snapshot copies the active frame into dst, growing it if needed, and
// returns the frame length and its sequence number. Before the first publish
// it returns (0, 0, nil) and leaves dst untouched.
func (s *Store) Snapshot(ctx context.Context, dst *Buffer) (n int, seq uint64, err error) {
	if err := s.gate.Acquire(ctx, 1); err != nil {
		return 0, 0, errors.New(err).
			Component("framestore").
			Category(errors.CategoryCancellation).
			Priority(errors.PriorityLow).
			Context("operation", "snapshot").
			Build()
	}
	defer s.gate.Release(1)

	seq = s.seq.Load()
	if seq == 0 {
		return 0, 0, nil
	}

	src := &s.slots[s.active]
	if err := dst.ensure(src.n, s.alloc); err != nil {
		s.fatal(err)
		return 0, 0, err
	}
	dst.set(src.Bytes())

	return dst.n, seq, nil
}

// Seq returns the sequence number of the current frame without taking the
// gate. Readers use it to skip the snapshot when nothing changed.
func (s *Store) Seq() uint64 {
	return s.seq.Load()
}
