package mutes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMuteNotFound = errors.New("mute not found")

type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "mutes"),
	}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Mute{})
}

func (s *Store) Get(ctx context.Context, communityID, targetID uint64) (*Mute, error) {
	var m Mute
	err := s.db.WithContext(ctx).Where("community_id = ? AND target_id = ?", communityID, targetID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMuteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Upsert writes the mute, replacing any existing row for the same community and target.
func (s *Store) Upsert(ctx context.Context, m *Mute) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.StartTime = m.StartTime.UTC()
	if m.EndTime != nil {
		end := m.EndTime.UTC()
		m.EndTime = &end
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "community_id"}, {Name: "target_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"case_id", "pending", "start_time", "end_time"}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("upserting mute: %w", err)
	}
	return nil
}

// Activate marks a pending mute as confirmed. Returns false if there was no pending row.
func (s *Store) Activate(ctx context.Context, communityID, targetID uint64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Mute{}).
		Where("community_id = ? AND target_id = ? AND pending = ?", communityID, targetID, true).
		Update("pending", false)
	if res.Error != nil {
		return false, fmt.Errorf("activating mute: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// SetEndTime moves the expiry of an existing mute; nil makes it indefinite.
func (s *Store) SetEndTime(ctx context.Context, communityID, targetID uint64, end *time.Time) error {
	m, err := s.Get(ctx, communityID, targetID)
	if err != nil {
		return err
	}
	m.EndTime = end
	if err := m.Validate(); err != nil {
		return err
	}
	var val any
	if end != nil {
		val = end.UTC()
	}
	return s.update(ctx, communityID, targetID, "end_time", val)
}

func (s *Store) update(ctx context.Context, communityID, targetID uint64, column string, val any) error {
	res := s.db.WithContext(ctx).Model(&Mute{}).
		Where("community_id = ? AND target_id = ?", communityID, targetID).
		Update(column, val)
	if res.Error != nil {
		return fmt.Errorf("updating mute %s: %w", column, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMuteNotFound
	}
	return nil
}

// Delete removes the mute for the target. Returns false if there was none.
func (s *Store) Delete(ctx context.Context, communityID, targetID uint64) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("community_id = ? AND target_id = ?", communityID, targetID).
		Delete(&Mute{})
	if res.Error != nil {
		return false, fmt.Errorf("deleting mute: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeletePending removes the mute only if it has not been confirmed yet.
func (s *Store) DeletePending(ctx context.Context, communityID, targetID uint64) error {
	res := s.db.WithContext(ctx).
		Where("community_id = ? AND target_id = ? AND pending = ?", communityID, targetID, true).
		Delete(&Mute{})
	if res.Error != nil {
		return fmt.Errorf("deleting pending mute: %w", res.Error)
	}
	return nil
}

// Expired returns every non-pending mute whose end time is at or before now, oldest expiry first.
func (s *Store) Expired(ctx context.Context, now time.Time) ([]Mute, error) {
	found := []Mute{}
	err := s.db.WithContext(ctx).
		Where("end_time IS NOT NULL AND end_time <= ? AND pending = ?", now.UTC(), false).
		Order("end_time ASC").
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("querying expired mutes: %w", err)
	}
	return found, nil
}
