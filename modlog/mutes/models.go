package mutes

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Mute is the record of a restriction currently in effect for a target.
type Mute struct {
	CommunityID uint64 `gorm:"column:community_id;primaryKey;autoIncrement:false"`
	TargetID    uint64 `gorm:"column:target_id;primaryKey;autoIncrement:false"`
	// case that created this mute, once it has been written
	CaseID *int64 `gorm:"column:case_id"`
	// pending while the executor is still waiting on the platform to confirm
	Pending   bool       `gorm:"column:pending;not null;default:false"`
	StartTime time.Time  `gorm:"column:start_time;not null"`
	EndTime   *time.Time `gorm:"column:end_time;index:idx_mutes_end_time"`
}

func (Mute) TableName() string {
	return "mutes"
}

func (m *Mute) Validate() error {
	if m.EndTime != nil && m.EndTime.Before(m.StartTime) {
		return fmt.Errorf("mute end time %s is before start time %s", m.EndTime.Format(time.RFC3339), m.StartTime.Format(time.RFC3339))
	}
	return nil
}

// Duration returns the total length of the mute, and false if it is indefinite.
func (m *Mute) Duration() (time.Duration, bool) {
	if m.EndTime == nil {
		return 0, false
	}
	return m.EndTime.Sub(m.StartTime), true
}

// Remaining returns how long is left before expiry. Zero or negative when already expired; false if indefinite.
func (m *Mute) Remaining(now time.Time) (time.Duration, bool) {
	if m.EndTime == nil {
		return 0, false
	}
	return m.EndTime.Sub(now), true
}

func (m *Mute) Expired(now time.Time) bool {
	return m.EndTime != nil && !m.EndTime.After(now)
}

func (m *Mute) HumanDuration() string {
	d, ok := m.Duration()
	if !ok {
		return "Indefinite"
	}
	return HumanDuration(d)
}

// HumanDuration renders a duration the way it is shown in audit messages, eg "1 hour" or "3 days".
func HumanDuration(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}
	start := time.Unix(0, 0)
	return strings.TrimSpace(humanize.RelTime(start, start.Add(d), "", ""))
}
