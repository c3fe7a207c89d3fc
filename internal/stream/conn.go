package stream

import (
	"bufio"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the client side of a stream. Implementations must be safe for
// IsOpen and Close to be called from any goroutine.
type Conn interface {
	IsOpen() bool
	Write(p []byte) (int, error)
	Flush() error
	Close() error
	RemoteAddr() string
}

// NetConn adapts a hijacked network connection. A background reader marks
// the connection closed as soon as the client hangs up, so idle consumers
// notice a disconnect without having to write.
type NetConn struct {
	conn         net.Conn
	bw           *bufio.Writer
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	readDone  chan struct{}
}

// NewNetConn wraps conn. rw is the buffered reader/writer returned by the
// hijack and may be nil. writeTimeout bounds every write and flush.
func NewNetConn(conn net.Conn, rw *bufio.ReadWriter, writeTimeout time.Duration) *NetConn {
	var r io.Reader = conn
	bw := bufio.NewWriterSize(conn, 32*1024)
	if rw != nil {
		r = rw.Reader
		bw = rw.Writer
	}

	c := &NetConn{
		conn:         conn,
		bw:           bw,
		writeTimeout: writeTimeout,
		readDone:     make(chan struct{}),
	}
	go c.watch(r)
	return c
}

// watch drains anything the client sends and marks the connection closed
// when the read side ends.
func (c *NetConn) watch(r io.Reader) {
	defer close(c.readDone)
	buf := make([]byte, 512)
	for {
		if _, err := r.Read(buf); err != nil {
			c.closed.Store(true)
			return
		}
	}
}

// IsOpen implements Conn.
func (c *NetConn) IsOpen() bool {
	return !c.closed.Load()
}

// Write implements Conn. Any error marks the connection closed.
func (c *NetConn) Write(p []byte) (int, error) {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.bw.Write(p)
	if err != nil {
		c.closed.Store(true)
	}
	return n, err
}

// Flush implements Conn.
func (c *NetConn) Flush() error {
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := c.bw.Flush()
	if err != nil {
		c.closed.Store(true)
	}
	return err
}

// Close implements Conn. It waits for the background reader to exit.
func (c *NetConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		<-c.readDone
	})
	return err
}

// RemoteAddr implements Conn.
func (c *NetConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
