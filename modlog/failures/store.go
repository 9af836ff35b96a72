package failures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	Backoff     Backoff
	MaxAttempts int
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:          db,
		logger:      logger.With("component", "failures"),
		Backoff:     DefaultBackoff,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Failure{})
}

// Get returns the failure record for the job, or nil if the job has not failed (or has been cleared).
func (s *Store) Get(ctx context.Context, failureID string) (*Failure, error) {
	var f Failure
	err := s.db.WithContext(ctx).Where("failure_id = ?", failureID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching failure %s: %w", failureID, err)
	}
	return &f, nil
}

// RecordFailure creates the record on the first failure, or increments the attempt count of an existing one, and schedules the next attempt.
func (s *Store) RecordFailure(ctx context.Context, failureID string, now time.Time) (*Failure, error) {
	now = now.UTC()
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := s.Backoff
	if backoff == nil {
		backoff = DefaultBackoff
	}

	var out Failure
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Failure{
			FailureID:    failureID,
			MaxAttempts:  maxAttempts,
			AttemptCount: 1,
			LastAttempt:  now,
			NextAttempt:  now.Add(backoff(1)),
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "failure_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"attempt_count": gorm.Expr("failures.attempt_count + 1"),
				"last_attempt":  now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		if err := tx.Where("failure_id = ?", failureID).First(&out).Error; err != nil {
			return err
		}
		out.NextAttempt = now.Add(backoff(out.AttemptCount))
		return tx.Model(&Failure{}).Where("failure_id = ?", failureID).Update("next_attempt", out.NextAttempt).Error
	})
	if err != nil {
		return nil, fmt.Errorf("recording failure %s: %w", failureID, err)
	}
	s.logger.Debug("recorded job failure", "failure_id", failureID, "attempt", out.AttemptCount, "next_attempt", out.NextAttempt)
	return &out, nil
}

func (s *Store) Delete(ctx context.Context, failureID string) error {
	if err := s.db.WithContext(ctx).Where("failure_id = ?", failureID).Delete(&Failure{}).Error; err != nil {
		return fmt.Errorf("deleting failure %s: %w", failureID, err)
	}
	return nil
}
