package ledger

import (
	"fmt"
)

// Action is the closed set of moderation actions that can be recorded as a case.
type Action string

const (
	ActionBan    = Action("ban")
	ActionUnban  = Action("unban")
	ActionKick   = Action("kick")
	ActionMute   = Action("mute")
	ActionUnmute = Action("unmute")
	ActionWarn   = Action("warn")
	ActionNote   = Action("note")
)

// static presentation details for each action kind
type actionInfo struct {
	present string
	past    string
	emoji   string
	color   int
}

var actionTable = map[Action]actionInfo{
	ActionBan:    {present: "ban", past: "banned", emoji: ":hammer:", color: 0xe74c3c},
	ActionUnban:  {present: "unban", past: "unbanned", emoji: ":hammer:", color: 0x2ecc71},
	ActionKick:   {present: "kick", past: "kicked", emoji: ":boot:", color: 0xd35400},
	ActionMute:   {present: "mute", past: "muted", emoji: ":mute:", color: 0xe67e22},
	ActionUnmute: {present: "unmute", past: "unmuted", emoji: ":speaker:", color: 0x1abc9c},
	ActionWarn:   {present: "warn", past: "warned", emoji: ":warning:", color: 0xf1c40f},
	ActionNote:   {present: "add note to", past: "note added", emoji: ":pencil:", color: 0xe67e22},
}

// fallback color for rows written by older versions with unknown action strings
const defaultColor = 0xe67e22

func ParseAction(raw string) (Action, error) {
	a := Action(raw)
	if _, ok := actionTable[a]; !ok {
		return "", fmt.Errorf("unknown moderation action: %q", raw)
	}
	return a, nil
}

func (a Action) String() string {
	return string(a)
}

func (a Action) Valid() bool {
	_, ok := actionTable[a]
	return ok
}

// PresentTense is used in progress messages, eg "Attempting to ban 3 users".
func (a Action) PresentTense() string {
	if info, ok := actionTable[a]; ok {
		return info.present
	}
	return string(a)
}

func (a Action) PastTense() string {
	if info, ok := actionTable[a]; ok {
		return info.past
	}
	return string(a)
}

func (a Action) Emoji() string {
	if info, ok := actionTable[a]; ok {
		return info.emoji
	}
	return ":question:"
}

// Color of the audit message for this action, as a 24-bit RGB integer.
func (a Action) Color() int {
	if info, ok := actionTable[a]; ok {
		return info.color
	}
	return defaultColor
}

// HasEffect indicates whether the action calls out to the external actor API. Warnings and notes only write to the ledger.
func (a Action) HasEffect() bool {
	switch a {
	case ActionWarn, ActionNote:
		return false
	default:
		return true
	}
}
