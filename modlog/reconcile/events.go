package reconcile

import (
	"slices"
	"time"

	"github.com/sushiibot/modledger/modlog/actor"
)

// MemberState is the part of a member's platform state the reconciler looks at.
type MemberState struct {
	TimeoutUntil *time.Time `json:"timeout_until,omitempty"`
	Roles        []uint64   `json:"roles,omitempty"`
}

func (s *MemberState) HasRole(roleID uint64) bool {
	return slices.Contains(s.Roles, roleID)
}

// MemberUpdate is a change in a member's state observed on the platform.
type MemberUpdate struct {
	CommunityID uint64     `json:"community_id"`
	User        actor.User `json:"user"`
	// nil when the previous state was not known to the gateway; it is inferred from the mute store
	Old *MemberState `json:"old,omitempty"`
	New MemberState  `json:"new"`
}

type MemberJoin struct {
	CommunityID uint64     `json:"community_id"`
	User        actor.User `json:"user"`
	JoinedAt    time.Time  `json:"joined_at"`
}
