package community

import (
	"fmt"
	"strings"
	"time"

	"github.com/sushiibot/modledger/modlog/ledger"
)

// Config is the per-community configuration read by the moderation core. It is never written here.
type Config struct {
	CommunityID uint64 `gorm:"column:community_id;primaryKey;autoIncrement:false" json:"community_id"`
	Name        string `gorm:"column:name" json:"name,omitempty"`

	// when set, mutes are applied as this role rather than as a platform timeout
	MuteRoleID *uint64 `gorm:"column:mute_role_id" json:"mute_role_id,omitempty"`
	// seconds
	MuteDefaultDuration *int64 `gorm:"column:mute_duration" json:"mute_duration,omitempty"`

	AuditChannelID *uint64 `gorm:"column:audit_channel_id" json:"audit_channel_id,omitempty"`
	AuditEnabled   bool    `gorm:"column:audit_enabled;not null;default:true" json:"audit_enabled"`

	MuteDMEnabled bool    `gorm:"column:mute_dm_enabled;not null;default:true" json:"mute_dm_enabled"`
	MuteDMText    *string `gorm:"column:mute_dm_text" json:"mute_dm_text,omitempty"`
	WarnDMEnabled bool    `gorm:"column:warn_dm_enabled;not null;default:true" json:"warn_dm_enabled"`
	WarnDMText    *string `gorm:"column:warn_dm_text" json:"warn_dm_text,omitempty"`
}

func (Config) TableName() string {
	return "community_configs"
}

// DefaultConfig is used for communities which have never been configured. Toggles default on, but nothing is posted until a channel is set.
func DefaultConfig(communityID uint64) *Config {
	return &Config{
		CommunityID:   communityID,
		AuditEnabled:  true,
		MuteDMEnabled: true,
		WarnDMEnabled: true,
	}
}

func (c *Config) DisplayName() string {
	if c.Name == "" {
		return fmt.Sprintf("Unknown Community (ID: %d)", c.CommunityID)
	}
	return c.Name
}

// RoleMode reports whether mutes in this community are applied with a role.
func (c *Config) RoleMode() bool {
	return c.MuteRoleID != nil && *c.MuteRoleID != 0
}

func (c *Config) DefaultMuteDuration() (time.Duration, bool) {
	if c.MuteDefaultDuration == nil || *c.MuteDefaultDuration <= 0 {
		return 0, false
	}
	return time.Duration(*c.MuteDefaultDuration) * time.Second, true
}

// AuditChannel returns the channel audit messages go to, if posting is enabled and a channel is set.
func (c *Config) AuditChannel() (uint64, bool) {
	if !c.AuditEnabled || c.AuditChannelID == nil || *c.AuditChannelID == 0 {
		return 0, false
	}
	return *c.AuditChannelID, true
}

// DirectMessage renders the notification sent to a target for the action. Returns false if none should be sent.
//
// duration may be empty for actions without one.
func (c *Config) DirectMessage(action ledger.Action, reason *string, duration string) (string, bool) {
	var custom *string
	switch action {
	case ledger.ActionMute:
		if !c.MuteDMEnabled {
			return "", false
		}
		custom = c.MuteDMText
	case ledger.ActionUnmute:
		// custom text describes the mute, so unmutes always use the default
		if !c.MuteDMEnabled {
			return "", false
		}
	case ledger.ActionWarn:
		if !c.WarnDMEnabled {
			return "", false
		}
		custom = c.WarnDMText
	default:
		return "", false
	}

	var sb strings.Builder
	if custom != nil && *custom != "" {
		sb.WriteString(*custom)
	} else {
		fmt.Fprintf(&sb, "You have been %s in %s", action.PastTense(), c.DisplayName())
	}
	if reason != nil && *reason != "" {
		fmt.Fprintf(&sb, "\nReason: %s", *reason)
	}
	if duration != "" {
		fmt.Fprintf(&sb, "\nDuration: %s", duration)
	}
	return sb.String(), true
}
