package sessions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/feedercam/internal/conf"
	"github.com/tphakala/feedercam/internal/errors"
	"github.com/tphakala/feedercam/internal/logger"
	"github.com/tphakala/feedercam/internal/stream"
)

const (
	slowQueryThreshold = 200 * time.Millisecond
	writeTimeout       = 5 * time.Second
)

// Store records client sessions with gorm.
type Store struct {
	db     *gorm.DB
	dbType string
	log    logger.Logger
}

// Open connects to the backend selected by settings.Type and migrates the
// schema. Sessions left open by a previous run are closed.
func Open(settings *conf.SessionsSettings) (*Store, error) {
	switch settings.Type {
	case conf.SessionStoreSQLite, "":
		return openSQLite(settings.Path)
	case conf.SessionStoreMySQL:
		return openMySQL(&settings.MySQL)
	default:
		return nil, errors.Newf("unsupported session store type %q", settings.Type).
			Component("sessions").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func openSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("sessions").
				Category(errors.CategoryFileIO).
				Context("operation", "create_db_dir").
				Context("path", dir).
				Build()
		}
	}
	return OpenDialector(sqlite.Open(path), conf.SessionStoreSQLite)
}

func openMySQL(settings *conf.MySQLSettings) (*Store, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		settings.Username, settings.Password, settings.Host, settings.Port, settings.Database)
	return OpenDialector(mysql.Open(dsn), conf.SessionStoreMySQL)
}

// OpenDialector opens a store on an arbitrary gorm dialector.
func OpenDialector(dialector gorm.Dialector, dbType string) (*Store, error) {
	log := GetLogger().With(logger.String("db_type", dbType))

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(log, slowQueryThreshold),
	})
	if err != nil {
		return nil, errors.New(err).
			Component("sessions").
			Category(errors.CategoryDatabase).
			Context("operation", "open").
			Context("db_type", dbType).
			Build()
	}

	s := &Store{db: db, dbType: dbType, log: log}

	if err := db.AutoMigrate(&Session{}); err != nil {
		_ = s.Close()
		return nil, s.dbError(err, "migrate")
	}

	closed, err := s.closeStale(time.Now())
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	log.Info("session store opened", logger.Int64("stale_sessions_closed", closed))
	return s, nil
}

// closeStale ends sessions that never saw a disconnect, which happens when
// the process stops without a clean shutdown.
func (s *Store) closeStale(now time.Time) (int64, error) {
	res := s.db.Model(&Session{}).Where("ended_at IS NULL").Update("ended_at", now)
	if res.Error != nil {
		return 0, s.dbError(res.Error, "close_stale")
	}
	return res.RowsAffected, nil
}

// Name implements stream.EventConsumer.
func (s *Store) Name() string {
	return "sessions"
}

// ProcessEvent implements stream.EventConsumer.
func (s *Store) ProcessEvent(ev stream.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch ev.Type {
	case stream.EventClientAdmitted:
		return s.start(ctx, ev)
	case stream.EventClientDisconnected:
		return s.end(ctx, ev)
	default:
		return nil
	}
}

func (s *Store) start(ctx context.Context, ev stream.Event) error {
	session := Session{
		ClientID:   ev.ClientID,
		RemoteAddr: ev.RemoteAddr,
		StartedAt:  ev.Time,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return s.dbError(err, "create_session")
	}
	return nil
}

func (s *Store) end(ctx context.Context, ev stream.Event) error {
	endedAt := ev.Time
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("client_id = ?", ev.ClientID).
		Updates(map[string]any{
			"ended_at":    endedAt,
			"frames_sent": ev.FramesSent,
			"bytes_sent":  ev.BytesSent,
		})
	if res.Error != nil {
		return s.dbError(res.Error, "end_session")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// the admission event was dropped; keep the totals anyway
	session := Session{
		ClientID:   ev.ClientID,
		RemoteAddr: ev.RemoteAddr,
		StartedAt:  endedAt,
		EndedAt:    &endedAt,
		FramesSent: ev.FramesSent,
		BytesSent:  ev.BytesSent,
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return s.dbError(err, "create_ended_session")
	}
	s.log.Debug("session recorded without admission event", logger.String("client_id", ev.ClientID))
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Session, error) {
	var list []Session
	err := s.db.WithContext(ctx).
		Order("started_at DESC").Order("id DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, s.dbError(err, "recent_sessions")
	}
	return list, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return s.dbError(err, "close")
	}
	return sqlDB.Close()
}

func (s *Store) dbError(err error, op string) error {
	return errors.New(err).
		Component("sessions").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("db_type", s.dbType).
		Build()
}
