package camera

import (
	"sync"

	"github.com/smallnest/ringbuffer"
)

// tailBuffer is an io.Writer that keeps only the last size bytes written.
// Capture commands log to stderr continuously; only the tail matters when
// they exit.
type tailBuffer struct {
	mu   sync.Mutex
	rb   *ringbuffer.RingBuffer
	size int
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{rb: ringbuffer.New(size), size: size}
}

// Write never fails; older bytes are discarded to make room.
func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) > t.size {
		p = p[len(p)-t.size:]
	}
	if over := len(p) - t.rb.Free(); over > 0 {
		discard := make([]byte, over)
		_, _ = t.rb.Read(discard)
	}
	_, _ = t.rb.Write(p)

	return n, nil
}

// String returns the buffered tail without consuming it.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf := make([]byte, t.rb.Length())
	n, _ := t.rb.Read(buf)
	buf = buf[:n]
	_, _ = t.rb.Write(buf)
	return string(buf)
}

// Reset drops all buffered bytes.
func (t *tailBuffer) Reset() {
	t.mu.Lock()
	t.rb.Reset()
	t.mu.Unlock()
}
