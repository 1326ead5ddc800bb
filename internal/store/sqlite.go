package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ShiftEvent represents the shift_events table
type ShiftEvent struct {
	ShiftKey  string    `gorm:"primaryKey" json:"shift_key"`
	EventID   string    `gorm:"not null" json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SQLStore keeps the sync state in a SQLite database.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens (or creates) the database at path and migrates the schema.
func OpenSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sync state database: %w", err)
	}
	if err := db.AutoMigrate(&ShiftEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sync state database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var row ShiftEvent
	err := s.db.WithContext(ctx).First(&row, "shift_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sync state: %w", err)
	}
	return row.EventID, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, eventID string) error {
	row := ShiftEvent{ShiftKey: key, EventID: eventID}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "shift_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_id", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&ShiftEvent{}, "shift_key = ?", key).Error; err != nil {
		return fmt.Errorf("failed to remove sync state: %w", err)
	}
	return nil
}

func (s *SQLStore) All(ctx context.Context) (map[string]string, error) {
	var rows []ShiftEvent
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync state: %w", err)
	}
	state := make(map[string]string, len(rows))
	for _, r := range rows {
		state[r.ShiftKey] = r.EventID
	}
	return state, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
