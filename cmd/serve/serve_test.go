package serve

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/buildinfo"
	"github.com/tphakala/feedercam/internal/conf"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s := &conf.Settings{}
	s.Main.Name = "test-node"
	s.Camera = conf.CameraSettings{
		Source:  conf.SourceTestPattern,
		FPS:     20,
		Width:   64,
		Height:  48,
		Quality: 70,
		Timeout: time.Second,
	}
	s.Stream = conf.StreamSettings{
		MaxClients:    2,
		PollInterval:  10 * time.Millisecond,
		MaxFrameBytes: 1 << 20,
		RestartDelay:  time.Second,
		EventBuffer:   16,
	}
	s.WebServer = conf.WebServerSettings{
		Enabled:         true,
		Port:            "0",
		MaxConnections:  8,
		ShutdownTimeout: time.Second,
	}
	s.Sessions = conf.SessionsSettings{
		Enabled: true,
		Type:    conf.SessionStoreSQLite,
		Path:    filepath.Join(t.TempDir(), "sessions.db"),
	}
	return s
}

func TestRunStopsOnCancel(t *testing.T) {
	settings := testSettings(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := Run(ctx, settings, buildinfo.NewContext("test", "", ""))
	require.NoError(t, err)
	assert.FileExists(t, settings.Sessions.Path)
}

func TestRunHeadless(t *testing.T) {
	settings := testSettings(t)
	settings.WebServer.Enabled = false
	settings.Sessions.Enabled = false

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, Run(ctx, settings, buildinfo.NewContext("test", "", "")))
}

func TestRunFailsWhenPortTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	settings := testSettings(t)
	settings.Sessions.Enabled = false
	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	settings.WebServer.Port = port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = Run(ctx, settings, buildinfo.NewContext("test", "", ""))
	require.Error(t, err)
	assert.NoError(t, ctx.Err(), "Run should fail fast instead of waiting for the deadline")
}

func TestRunUnknownCamera(t *testing.T) {
	settings := testSettings(t)
	settings.Camera.Source = "webcam"

	err := Run(context.Background(), settings, buildinfo.NewContext("test", "", ""))
	require.Error(t, err)
}
