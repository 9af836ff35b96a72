package actor

import (
	"context"
	"fmt"
	"time"
)

// User is the display identity of a platform account.
type User struct {
	ID  uint64 `json:"id"`
	Tag string `json:"tag"`
}

// Display formats the user the way it is shown in result lines, eg "`name (1234)`".
func (u *User) Display() string {
	return fmt.Sprintf("`%s (%d)`", u.Tag, u.ID)
}

// Actor is the external actor-management capability. Every call is a blocking request to the platform.
type Actor interface {
	// deleteMessageDays must be in the range 0-7
	Ban(ctx context.Context, communityID, targetID uint64, deleteMessageDays int, reason string) error
	Unban(ctx context.Context, communityID, targetID uint64, reason string) error
	Kick(ctx context.Context, communityID, targetID uint64, reason string) error
	AddRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error
	RemoveRole(ctx context.Context, communityID, targetID, roleID uint64, reason string) error
	ApplyTimeout(ctx context.Context, communityID, targetID uint64, until time.Time, reason string) error
	RemoveTimeout(ctx context.Context, communityID, targetID uint64, reason string) error
}

// Directory resolves account identifiers to their current display identity.
type Directory interface {
	LookupUser(ctx context.Context, userID uint64) (*User, error)
}

// Messenger sends direct messages to accounts.
type Messenger interface {
	DirectMessage(ctx context.Context, userID uint64, text string) error
}

const (
	MinDeleteMessageDays = 0
	MaxDeleteMessageDays = 7
)

func ValidateDeleteDays(days int) error {
	if days < MinDeleteMessageDays || days > MaxDeleteMessageDays {
		return &ValidationError{Detail: fmt.Sprintf("The number of days worth of messages to delete is over the maximum: (%d).", days)}
	}
	return nil
}
