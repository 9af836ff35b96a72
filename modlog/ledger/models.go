package ledger

import (
	"time"
)

// Case is one audit record of a single moderation action taken against one target in one community.
//
// CaseID is assigned by the database at insert time; it is unique and increasing within CommunityID.
type Case struct {
	CommunityID uint64 `gorm:"column:community_id;primaryKey;autoIncrement:false" json:"community_id"`
	CaseID      int64  `gorm:"column:case_id;primaryKey;autoIncrement:false" json:"case_id"`

	Action     Action    `gorm:"column:action;not null" json:"action"`
	ActionTime time.Time `gorm:"column:action_time;not null" json:"action_time"`
	// a pending case is a reservation: it exists before the external effect is attempted
	Pending bool `gorm:"column:pending;not null;default:false" json:"pending"`

	TargetID uint64 `gorm:"column:target_id;not null;index:idx_mod_logs_target" json:"target_id"`
	// display name of the target at the time of the action
	TargetTag string `gorm:"column:target_tag;not null" json:"target_tag"`

	// nil when the action was automated (eg, expiry) or came from outside the bot
	ExecutorID *uint64 `gorm:"column:executor_id" json:"executor_id,omitempty"`
	Reason     *string `gorm:"column:reason" json:"reason,omitempty"`
	// message identifier of the posted audit message, once posted
	AuditMessageID *uint64 `gorm:"column:audit_message_id" json:"audit_message_id,omitempty"`
}

func (Case) TableName() string {
	return "mod_logs"
}

func (c *Case) ReasonOr(placeholder string) string {
	if c.Reason == nil || *c.Reason == "" {
		return placeholder
	}
	return *c.Reason
}

// Draft holds the caller-supplied fields of a new case. Everything else is filled in by the ledger.
type Draft struct {
	CommunityID uint64
	Action      Action
	TargetID    uint64
	TargetTag   string
	ExecutorID  *uint64
	Reason      *string
	// zero value means "now"
	ActionTime time.Time
}
