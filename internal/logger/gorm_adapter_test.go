package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestGormLoggerAdapter_Trace(t *testing.T) {
	t.Parallel()

	stmt := func() (string, int64) { return "INSERT INTO sessions", 1 }

	tests := []struct {
		name    string
		level   LogLevel
		elapsed time.Duration
		err     error
		want    string
	}{
		{"statement at trace", LogLevelTrace, 0, nil, "level=TRACE"},
		{"statement hidden at debug", LogLevelDebug, 0, nil, ""},
		{"slow", LogLevelInfo, time.Second, nil, "slow session store query"},
		{"failed", LogLevelInfo, 0, errors.New("database is locked"), "session store query failed"},
		{"record not found", LogLevelInfo, 0, gorm.ErrRecordNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := &bytes.Buffer{}
			a := NewGormLoggerAdapter(NewSlogLogger(buf, tt.level, time.UTC), 200*time.Millisecond)
			a.Trace(context.Background(), time.Now().Add(-tt.elapsed), stmt, tt.err)

			if tt.want == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.want)
			assert.Contains(t, buf.String(), `sql="INSERT INTO sessions"`)
		})
	}
}
