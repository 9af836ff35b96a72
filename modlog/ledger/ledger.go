package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

var ErrCaseNotFound = errors.New("case not found")

// MaxReserveAttempts bounds how many times a reservation is retried after losing a case number race to a concurrent insert
var MaxReserveAttempts = 5

// DefaultLatestCount is used by Latest when the caller does not give a positive count
var DefaultLatestCount = 10

// The case number is computed by the database inside the insert statement, never in application code.
//
// Parameters sit in a VALUES list so postgres types them from the target columns.
const insertCaseSQL = `
INSERT INTO mod_logs (community_id, case_id, action, action_time, pending, target_id, target_tag, executor_id, reason, audit_message_id)
VALUES (?, (SELECT COALESCE(MAX(case_id), 0) + 1 FROM mod_logs WHERE community_id = ?), ?, ?, ?, ?, ?, ?, ?, NULL)
RETURNING case_id`

// Ledger is the durable, per-community sequence of moderation cases.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *gorm.DB, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		db:     db,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

func (l *Ledger) Migrate() error {
	return l.db.AutoMigrate(&Case{})
}

// Reserve inserts a pending case with the next case number for the community.
//
// The returned case must later be passed to either Finalize or Rollback.
func (l *Ledger) Reserve(ctx context.Context, d Draft) (*Case, error) {
	if !d.Action.Valid() {
		return nil, fmt.Errorf("reserving case: unknown action %q", d.Action)
	}
	actionTime := d.ActionTime
	if actionTime.IsZero() {
		actionTime = l.now()
	}
	c := &Case{
		CommunityID: d.CommunityID,
		Action:      d.Action,
		ActionTime:  actionTime.UTC(),
		Pending:     true,
		TargetID:    d.TargetID,
		TargetTag:   d.TargetTag,
		ExecutorID:  d.ExecutorID,
		Reason:      d.Reason,
	}

	var lastErr error
	for attempt := 1; attempt <= MaxReserveAttempts; attempt++ {
		caseID, err := l.insertCase(ctx, c)
		if err == nil {
			c.CaseID = caseID
			reserveCount.WithLabelValues(string(c.Action)).Inc()
			return c, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("reserving case: %w", err)
		}
		// another writer took this number between our read and write; the next attempt sees it
		lastErr = err
		reserveCollisions.Inc()
		l.logger.Warn("case number collision, retrying reservation", "community", c.CommunityID, "attempt", attempt)
	}
	return nil, fmt.Errorf("reserving case after %d attempts: %w", MaxReserveAttempts, lastErr)
}

func (l *Ledger) insertCase(ctx context.Context, c *Case) (int64, error) {
	var caseID int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			// serializes numbering per community; released at commit
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(c.CommunityID)).Error; err != nil {
				return err
			}
		}
		res := tx.Raw(insertCaseSQL,
			c.CommunityID,
			c.CommunityID,
			c.Action,
			c.ActionTime,
			c.Pending,
			c.TargetID,
			c.TargetTag,
			c.ExecutorID,
			c.Reason,
		).Scan(&caseID)
		if res.Error != nil {
			return res.Error
		}
		if caseID <= 0 {
			return fmt.Errorf("database did not return a case number")
		}
		return nil
	})
	return caseID, err
}

// Finalize marks a pending case as done, recording the audit message identifier if one was posted.
//
// Returns false (and no error) if the case had already been finalized by another writer.
func (l *Ledger) Finalize(ctx context.Context, c *Case, auditMessageID *uint64) (bool, error) {
	updates := map[string]any{"pending": false}
	if auditMessageID != nil {
		updates["audit_message_id"] = *auditMessageID
	}
	res := l.db.WithContext(ctx).Model(&Case{}).
		Where("community_id = ? AND case_id = ? AND pending = ?", c.CommunityID, c.CaseID, true).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("finalizing case %d: %w", c.CaseID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.Get(ctx, c.CommunityID, c.CaseID); err != nil {
			return false, err
		}
		c.Pending = false
		return false, nil
	}
	c.Pending = false
	if auditMessageID != nil {
		id := *auditMessageID
		c.AuditMessageID = &id
	}
	return true, nil
}

// Rollback deletes a still-pending case. Used only when the external effect was rejected.
func (l *Ledger) Rollback(ctx context.Context, c *Case) error {
	res := l.db.WithContext(ctx).
		Where("community_id = ? AND case_id = ? AND pending = ?", c.CommunityID, c.CaseID, true).
		Delete(&Case{})
	if res.Error != nil {
		return fmt.Errorf("rolling back case %d: %w", c.CaseID, res.Error)
	}
	if res.RowsAffected == 0 {
		l.logger.Warn("rollback found no pending case", "community", c.CommunityID, "case", c.CaseID)
		return nil
	}
	rollbackCount.WithLabelValues(string(c.Action)).Inc()
	return nil
}

func (l *Ledger) Get(ctx context.Context, communityID uint64, caseID int64) (*Case, error) {
	var c Case
	err := l.db.WithContext(ctx).Where("community_id = ? AND case_id = ?", communityID, caseID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindPending returns the most recent pending case for the target and action, or nil if there is none.
func (l *Ledger) FindPending(ctx context.Context, communityID, targetID uint64, action Action) (*Case, error) {
	var found []Case
	err := l.db.WithContext(ctx).
		Where("community_id = ? AND target_id = ? AND action = ? AND pending = ?", communityID, targetID, action, true).
		Order("case_id DESC").
		Limit(1).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("querying pending case: %w", err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// Range returns cases with numbers in the inclusive range, in ascending order. The bounds may be given in either order.
func (l *Ledger) Range(ctx context.Context, communityID uint64, start, end int64) ([]Case, error) {
	start, end = min(start, end), max(start, end)
	cases := []Case{}
	err := l.db.WithContext(ctx).
		Where("community_id = ? AND case_id >= ? AND case_id <= ?", communityID, start, end).
		Order("case_id ASC").
		Find(&cases).Error
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// Latest returns the n most recent cases, newest first.
func (l *Ledger) Latest(ctx context.Context, communityID uint64, n int) ([]Case, error) {
	if n <= 0 {
		n = DefaultLatestCount
	}
	cases := []Case{}
	err := l.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("case_id DESC").
		Limit(n).
		Find(&cases).Error
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// ForTarget returns the full history of a target in a community, oldest first.
func (l *Ledger) ForTarget(ctx context.Context, communityID, targetID uint64) ([]Case, error) {
	cases := []Case{}
	err := l.db.WithContext(ctx).
		Where("community_id = ? AND target_id = ?", communityID, targetID).
		Order("case_id ASC").
		Find(&cases).Error
	if err != nil {
		return nil, err
	}
	return cases, nil
}

// AmendReason sets the reason and responsible moderator on every case in the inclusive range, returning the updated cases.
func (l *Ledger) AmendReason(ctx context.Context, communityID uint64, start, end int64, executorID *uint64, reason string) ([]Case, error) {
	start, end = min(start, end), max(start, end)
	updates := map[string]any{"reason": reason}
	if executorID != nil {
		updates["executor_id"] = *executorID
	}
	res := l.db.WithContext(ctx).Model(&Case{}).
		Where("community_id = ? AND case_id >= ? AND case_id <= ?", communityID, start, end).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("amending reason: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrCaseNotFound
	}
	return l.Range(ctx, communityID, start, end)
}
