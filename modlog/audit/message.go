package audit

import (
	"fmt"
	"time"

	"github.com/sushiibot/modledger/modlog/ledger"
)

const (
	LineUser     = "User"
	LineAction   = "Action"
	LineDuration = "Duration"
	LineReason   = "Reason"
)

type Line struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Message is a rendered audit message, roughly the shape of a chat embed.
type Message struct {
	Author    string    `json:"author"`
	Lines     []Line    `json:"lines"`
	Footer    string    `json:"footer"`
	Timestamp time.Time `json:"timestamp"`
	Color     int       `json:"color"`
}

func (m *Message) Line(name string) (string, bool) {
	for _, l := range m.Lines {
		if l.Name == name {
			return l.Value, true
		}
	}
	return "", false
}

// SetLine replaces the value of an existing line in place, or appends it.
func (m *Message) SetLine(name, value string) {
	for i := range m.Lines {
		if m.Lines[i].Name == name {
			m.Lines[i].Value = value
			return
		}
	}
	m.Lines = append(m.Lines, Line{Name: name, Value: value})
}

// ReasonPlaceholder is shown instead of a reason until a moderator sets one.
func ReasonPlaceholder(commandPrefix string, caseID int64) string {
	return fmt.Sprintf("Responsible moderator: Please use `%sreason %d [reason]` to set a reason for this case.", commandPrefix, caseID)
}

// Render builds the audit message for a case. duration is only included when non-empty.
func Render(c *ledger.Case, author, duration, commandPrefix string) *Message {
	m := &Message{
		Author:    author,
		Footer:    fmt.Sprintf("Case #%d", c.CaseID),
		Timestamp: c.ActionTime,
		Color:     c.Action.Color(),
	}
	m.SetLine(LineUser, fmt.Sprintf("%s (%d)", c.TargetTag, c.TargetID))
	m.SetLine(LineAction, c.Action.String())
	if duration != "" {
		m.SetLine(LineDuration, duration)
	}
	m.SetLine(LineReason, c.ReasonOr(ReasonPlaceholder(commandPrefix, c.CaseID)))
	return m
}
