package sessions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/stream"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(&conf.SessionsSettings{Enabled: true, Type: conf.SessionStoreSQLite, Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func admitted(id string, at time.Time) stream.Event {
	return stream.Event{Type: stream.EventClientAdmitted, ClientID: id, RemoteAddr: "192.0.2.1:4000", Clients: 1, Time: at}
}

func disconnected(id string, at time.Time, frames, bytes uint64) stream.Event {
	return stream.Event{
		Type: stream.EventClientDisconnected, ClientID: id, RemoteAddr: "192.0.2.1:4000",
		FramesSent: frames, BytesSent: bytes, Time: at,
	}
}

func TestStore_RecordsSessionLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	start := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

	require.NoError(t, s.ProcessEvent(admitted("c1", start)))

	list, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].ClientID)
	assert.True(t, list[0].Active())

	end := start.Add(90 * time.Second)
	require.NoError(t, s.ProcessEvent(disconnected("c1", end, 1800, 9_000_000)))

	list, err = s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.False(t, got.Active())
	assert.Equal(t, uint64(1800), got.FramesSent)
	assert.Equal(t, uint64(9_000_000), got.BytesSent)
	assert.Equal(t, 90*time.Second, got.Duration(time.Now()))
}

func TestStore_IgnoresOtherEvents(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	for _, typ := range []stream.EventType{stream.EventClientRejected, stream.EventProducerResumed, stream.EventProducerSuspended} {
		require.NoError(t, s.ProcessEvent(stream.Event{Type: typ, Time: time.Now()}))
	}

	list, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStore_DisconnectWithoutAdmission(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, s.ProcessEvent(disconnected("lost", time.Now(), 3, 300)))

	list, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "lost", list[0].ClientID)
	assert.False(t, list[0].Active())
	assert.Equal(t, uint64(300), list[0].BytesSent)
}

func TestStore_RecentOrderAndLimit(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	base := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.ProcessEvent(admitted(id, base.Add(time.Duration(i)*time.Minute))))
	}

	list, err := s.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "d", list[0].ClientID)
	assert.Equal(t, "c", list[1].ClientID)
}

func TestStore_ClosesStaleSessionsOnOpen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(&conf.SessionsSettings{Type: conf.SessionStoreSQLite, Path: path})
	require.NoError(t, err)
	require.NoError(t, s.ProcessEvent(admitted("crashed", time.Now().Add(-time.Hour))))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	list, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active(), "sessions from a previous run are ended")
}

func TestStore_CreatesDatabaseDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "sessions.db")
	openTestStore(t, path)
	assert.FileExists(t, path)
}

func TestOpen_UnsupportedType(t *testing.T) {
	t.Parallel()

	_, err := Open(&conf.SessionsSettings{Type: "postgres"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestStore_AsEventConsumer(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	bus := stream.NewEventBus(8)
	bus.RegisterConsumer(s)

	bus.TryPublish(admitted("via-bus", time.Now()))
	bus.TryPublish(disconnected("via-bus", time.Now(), 1, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	list, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint64(10), list[0].BytesSent)
	assert.Zero(t, bus.Stats().ConsumerErrors)
}
