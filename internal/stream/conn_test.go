package stream

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetConn_WriteAndFlush(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	conn := NewNetConn(server, nil, time.Second)
	defer func() { _ = conn.Close() }()

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 5)
		_, _ = io.ReadFull(client, buf)
		got <- string(buf)
		_ = client.Close()
	}()

	_, err := conn.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, conn.Flush())
	assert.Equal(t, "hello", <-got)
	assert.Equal(t, "pipe", conn.RemoteAddr())
}

func TestNetConn_DetectsHangup(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	conn := NewNetConn(server, nil, time.Second)
	assert.True(t, conn.IsOpen())

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return !conn.IsOpen() }, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")
}

func TestNetConn_UsesHijackedBuffers(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	rw := bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server))
	conn := NewNetConn(server, rw, time.Second)

	go func() {
		_, _ = io.Copy(io.Discard, client)
	}()

	_, err := conn.Write([]byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, 5, rw.Writer.Buffered(), "writes go through the hijacked writer")
	require.NoError(t, conn.Flush())
	assert.Equal(t, 0, rw.Writer.Buffered())

	require.NoError(t, conn.Close())
	_ = client.Close()
}

func TestNetConn_WriteTimeoutMarksClosed(t *testing.T) {
	t.Parallel()

	server, client := net.Pipe()
	defer func() { _ = client.Close() }()
	conn := NewNetConn(server, nil, 20*time.Millisecond)

	// nobody reads from client, so the flush blocks until the deadline
	_, err := conn.Write([]byte("frame"))
	require.NoError(t, err)
	require.Error(t, conn.Flush())
	assert.False(t, conn.IsOpen())

	require.NoError(t, conn.Close())
}
