package failures

import (
	"time"
)

// DefaultMaxAttempts is how many failures a job is allowed before it is given up on
var DefaultMaxAttempts = 25

// Failure tracks repeated failed attempts of a single retryable background job.
type Failure struct {
	// deterministic identifier derived from the job's subject, eg "unmute:{community}:{target}"
	FailureID    string    `gorm:"column:failure_id;primaryKey"`
	MaxAttempts  int       `gorm:"column:max_attempts;not null;default:25"`
	AttemptCount int       `gorm:"column:attempt_count;not null;default:1"`
	LastAttempt  time.Time `gorm:"column:last_attempt;not null"`
	NextAttempt  time.Time `gorm:"column:next_attempt;not null"`
}

func (Failure) TableName() string {
	return "failures"
}

// Exceeded indicates the job has failed enough times that it should be abandoned.
func (f *Failure) Exceeded() bool {
	return f.AttemptCount >= f.MaxAttempts
}

// ShouldAttempt is false while still inside the backoff window.
func (f *Failure) ShouldAttempt(now time.Time) bool {
	return !now.Before(f.NextAttempt)
}
