package camera

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFramePool(t *testing.T) {
	t.Parallel()

	f := newFrame([]byte{0xFF, 0xD8, 1, 2, 3})
	assert.Equal(t, []byte{0xFF, 0xD8, 1, 2, 3}, f.Data)
	assert.False(t, f.Captured.IsZero())

	releaseFrame(f)
	assert.Nil(t, f.Data)

	// double release and nil are no-ops
	releaseFrame(f)
	releaseFrame(nil)
}

func TestIsJPEG(t *testing.T) {
	t.Parallel()

	assert.True(t, isJPEG([]byte{0xFF, 0xD8, 0xFF}))
	assert.False(t, isJPEG([]byte{0x89, 'P', 'N', 'G'}))
	assert.False(t, isJPEG(nil))
}
