// Package sessions keeps a history of stream client sessions in SQLite or
// MySQL. The store subscribes to pipeline events: a session row is created
// on admission and completed with the transfer totals on disconnect.
package sessions

import "time"

// Session is one stream client connection.
type Session struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ClientID   string     `gorm:"size:36;uniqueIndex" json:"client_id"`
	RemoteAddr string     `gorm:"size:64" json:"remote_addr"`
	StartedAt  time.Time  `gorm:"index" json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	FramesSent uint64     `json:"frames_sent"`
	BytesSent  uint64     `json:"bytes_sent"`
}

// Active reports whether the session has not ended yet.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Duration returns how long the session lasted, or has lasted so far.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}
