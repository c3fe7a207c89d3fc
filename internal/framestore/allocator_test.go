package framestore

import (
	"fmt"
	"testing"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/errors"
)

func fixedMemory(available uint64) func() (*mem.VirtualMemoryStat, error) {
	return func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Available: available}, nil
	}
}

func TestMemoryAllocator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		maxBytes  int
		minFree   uint64
		vmem      func() (*mem.VirtualMemoryStat, error)
		minSize   int
		preferred int
		wantLen   int
		wantErr   bool
	}{
		{
			name:      "preferred size within limit",
			maxBytes:  1000,
			vmem:      fixedMemory(1 << 30),
			minSize:   100,
			preferred: 200,
			wantLen:   200,
		},
		{
			name:      "preferred clamped to limit",
			maxBytes:  150,
			vmem:      fixedMemory(1 << 30),
			minSize:   100,
			preferred: 200,
			wantLen:   150,
		},
		{
			name:      "frame larger than limit",
			maxBytes:  50,
			vmem:      fixedMemory(1 << 30),
			minSize:   100,
			preferred: 200,
			wantErr:   true,
		},
		{
			name:      "system memory below reserve",
			minFree:   1000,
			vmem:      fixedMemory(1100),
			minSize:   100,
			preferred: 200,
			wantErr:   true,
		},
		{
			name:      "system memory probe fails",
			minFree:   1000,
			vmem:      func() (*mem.VirtualMemoryStat, error) { return nil, fmt.Errorf("no /proc") },
			minSize:   100,
			preferred: 200,
			wantLen:   200,
		},
		{
			name:      "no limits",
			vmem:      fixedMemory(0),
			minSize:   10,
			preferred: 20,
			wantLen:   20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewMemoryAllocator(tt.maxBytes, tt.minFree)
			a.vmem = tt.vmem

			buf, err := a.Alloc(tt.minSize, tt.preferred)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrOutOfMemory)
				assert.True(t, errors.IsCategory(err, errors.CategoryAllocation))
				return
			}
			require.NoError(t, err)
			assert.Len(t, buf, tt.wantLen)
		})
	}
}

func TestStore_WithMemoryAllocatorClampsSlot(t *testing.T) {
	t.Parallel()

	a := NewMemoryAllocator(150, 0)
	s := New(WithAllocator(a))

	require.NoError(t, s.Publish(t.Context(), patternFrame(100, 1)))
	assert.Equal(t, 150, s.slots[1].Cap())

	var fatal error
	s.fatal = func(err error) { fatal = err }
	require.ErrorIs(t, s.Publish(t.Context(), patternFrame(151, 2)), ErrOutOfMemory)
	require.ErrorIs(t, fatal, ErrOutOfMemory)
}
