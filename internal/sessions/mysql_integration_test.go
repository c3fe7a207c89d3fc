//go:build integration

package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/tphakala/feedercam/internal/conf"
)

func TestStore_MySQL(t *testing.T) {
	ctx := context.Background()

	ctr, err := tcmysql.Run(ctx, "mysql:8.0.36",
		tcmysql.WithDatabase("feedercam"),
		tcmysql.WithUsername("feedercam"),
		tcmysql.WithPassword("feedercam"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	s, err := Open(&conf.SessionsSettings{
		Enabled: true,
		Type:    conf.SessionStoreMySQL,
		MySQL: conf.MySQLSettings{
			Host:     host,
			Port:     port.Port(),
			Username: "feedercam",
			Password: "feedercam",
			Database: "feedercam",
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	start := time.Now().Truncate(time.Second)
	require.NoError(t, s.ProcessEvent(admitted("mysql-1", start)))
	require.NoError(t, s.ProcessEvent(disconnected("mysql-1", start.Add(time.Minute), 60, 6000)))

	list, err := s.Recent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mysql-1", list[0].ClientID)
	assert.Equal(t, uint64(6000), list[0].BytesSent)
	assert.False(t, list[0].Active())
}
