package reconcile

import (
	"time"
)

type Transition int

const (
	NoChange Transition = iota
	Mute
	Unmute
	ChangeDuration
)

func (t Transition) String() string {
	switch t {
	case NoChange:
		return "no_change"
	case Mute:
		return "mute"
	case Unmute:
		return "unmute"
	case ChangeDuration:
		return "change_duration"
	default:
		return "unknown"
	}
}

// ClassifyTimeout compares restriction-until timestamps before and after a member update. A timestamp at or before now counts as no restriction.
func ClassifyTimeout(old, new *time.Time, now time.Time) Transition {
	oldActive := old != nil && old.After(now)
	newActive := new != nil && new.After(now)
	switch {
	case !oldActive && newActive:
		return Mute
	case oldActive && !newActive:
		return Unmute
	case oldActive && newActive && !old.Equal(*new):
		return ChangeDuration
	default:
		return NoChange
	}
}

// ClassifyRole compares mute role membership before and after a member update.
func ClassifyRole(had, has bool) Transition {
	switch {
	case !had && has:
		return Mute
	case had && !has:
		return Unmute
	default:
		return NoChange
	}
}
