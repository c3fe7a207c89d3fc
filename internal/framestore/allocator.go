package framestore

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/feedercam/internal/errors"
)

// ErrOutOfMemory is returned when a frame buffer cannot be grown.
var ErrOutOfMemory = errors.NewStd("frame buffer allocation failed: out of memory")

// Allocator hands out frame buffer memory. Alloc returns a slice whose length
// is at least minSize and at most preferred, or an error wrapping ErrOutOfMemory.
type Allocator interface {
	Alloc(minSize, preferred int) ([]byte, error)
}

// HeapAllocator allocates from the Go heap with no limits. Used in tests and
// by the snapshot command.
type HeapAllocator struct{}

// Alloc implements Allocator.
func (HeapAllocator) Alloc(_, preferred int) ([]byte, error) {
	return make([]byte, preferred), nil
}

// MemoryAllocator caps buffer sizes and refuses growth that would leave less
// than MinFree bytes of system memory available.
type MemoryAllocator struct {
	maxBytes int
	minFree  uint64
	vmem     func() (*mem.VirtualMemoryStat, error)
}

// NewMemoryAllocator returns an allocator limited to maxBytes per buffer that
// keeps minFree bytes of system memory available. A zero limit disables that check.
func NewMemoryAllocator(maxBytes int, minFree uint64) *MemoryAllocator {
	return &MemoryAllocator{
		maxBytes: maxBytes,
		minFree:  minFree,
		vmem:     mem.VirtualMemory,
	}
}

// Alloc implements Allocator. The result never exceeds maxBytes, so a frame
// larger than half the limit gets less than the preferred 2x headroom.
func (a *MemoryAllocator) Alloc(minSize, preferred int) ([]byte, error) {
	if a.maxBytes > 0 && minSize > a.maxBytes {
		return nil, errors.New(fmt.Errorf("%w: frame of %d bytes exceeds limit of %d bytes", ErrOutOfMemory, minSize, a.maxBytes)).
			Component("framestore").
			Category(errors.CategoryAllocation).
			Priority(errors.PriorityCritical).
			FrameContext(minSize).
			Context("operation", "grow_buffer").
			Build()
	}

	size := max(preferred, minSize)
	if a.maxBytes > 0 {
		size = min(size, a.maxBytes)
	}

	if a.minFree > 0 {
		// Probe errors are ignored
		if vm, err := a.vmem(); err == nil && vm.Available < uint64(size)+a.minFree {
			return nil, errors.New(fmt.Errorf("%w: %d bytes requested, %d bytes available", ErrOutOfMemory, size, vm.Available)).
				Component("framestore").
				Category(errors.CategoryAllocation).
				Priority(errors.PriorityCritical).
				FrameContext(size).
				Context("operation", "grow_buffer").
				Context("available_bytes", vm.Available).
				Build()
		}
	}

	return make([]byte, size), nil
}
