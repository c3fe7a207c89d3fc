//go:build !windows

package camera

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/errors"
)

func TestSplitJPEG(t *testing.T) {
	t.Parallel()

	frameA := []byte{0xFF, 0xD8, 'a', 'a', 0xFF, 0xD9}
	frameB := []byte{0xFF, 0xD8, 'b', 0xFF, 0x00, 'b', 0xFF, 0xD9}

	tests := []struct {
		name  string
		input []byte
		want  [][]byte
	}{
		{"back to back", concat(frameA, frameB), [][]byte{frameA, frameB}},
		{"garbage between frames", concat([]byte("junk"), frameA, []byte{0xFF, 0x00}, frameB), [][]byte{frameA, frameB}},
		{"truncated tail dropped", concat(frameA, []byte{0xFF, 0xD8, 'c'}), [][]byte{frameA}},
		{"no frames", []byte("nothing here"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// a tiny reader forces markers to straddle reads
			scanner := bufio.NewScanner(&oneByteReader{data: tt.input})
			scanner.Split(splitJPEG)

			var got [][]byte
			for scanner.Scan() {
				got = append(got, bytes.Clone(scanner.Bytes()))
			}
			require.NoError(t, scanner.Err())
			assert.Equal(t, tt.want, got)
		})
	}
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()

	tb := newTailBuffer(8)
	n, err := tb.Write([]byte("hello "))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	_, _ = tb.Write([]byte("world"))
	assert.Equal(t, "lo world", tb.String())
	// reading is not destructive
	assert.Equal(t, "lo world", tb.String())

	n, _ = tb.Write([]byte("0123456789abc"))
	assert.Equal(t, 13, n)
	assert.Equal(t, "56789abc", tb.String())

	tb.Reset()
	assert.Empty(t, tb.String())
}

// shellFrame is a printf format producing one tiny JPEG
const shellFrame = `\377\330frame\377\331`

func TestExec_AcquireAndClose(t *testing.T) {
	t.Parallel()

	e := NewExec("sh", []string{"-c", "printf '" + shellFrame + "'; exec sleep 30"}, 5*time.Second, 1<<20)

	f, err := e.Acquire(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []byte("\xFF\xD8frame\xFF\xD9"), f.Data)
	e.Release(f)

	start := time.Now()
	require.NoError(t, e.Close())
	assert.Less(t, time.Since(start), 5*time.Second, "close must kill the command")

	_, err = e.Acquire(t.Context())
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, e.Close())
}

func TestExec_Timeout(t *testing.T) {
	t.Parallel()

	e := NewExec("sh", []string{"-c", "exec sleep 30"}, 100*time.Millisecond, 1<<20)
	defer func() { _ = e.Close() }()

	_, err := e.Acquire(t.Context())
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
}

func TestExec_ExitReportsStderr(t *testing.T) {
	t.Parallel()

	e := NewExec("sh", []string{"-c", "printf '" + shellFrame + "'; echo 'sensor not found' >&2; exit 3"}, 5*time.Second, 1<<20)
	defer func() { _ = e.Close() }()

	f, err := e.Acquire(t.Context())
	require.NoError(t, err)
	e.Release(f)

	_, err = e.Acquire(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCommand))
	assert.Contains(t, err.Error(), "exit status 3")

	var ee *errors.EnhancedError
	require.ErrorAs(t, err, &ee)
	stderr, _ := ee.GetContext()["stderr"].(string)
	assert.True(t, strings.Contains(stderr, "sensor not found"), "stderr tail should be attached, got %q", stderr)
}

func TestExec_StartFailure(t *testing.T) {
	t.Parallel()

	e := NewExec("/nonexistent/capture-binary", nil, time.Second, 1<<20)
	defer func() { _ = e.Close() }()

	_, err := e.Acquire(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCommand))
}
