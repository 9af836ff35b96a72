package executor

import (
	"fmt"
	"strings"

	"github.com/sushiibot/modledger/modlog/ledger"
)

type Status string

const (
	StatusSucceeded  = Status("succeeded")
	StatusFailed     = Status("failed")
	StatusSkipped    = Status("skipped")
	StatusUnresolved = Status("unresolved")
)

// Result is the outcome for a single target of a request.
type Result struct {
	TargetID  uint64 `json:"target_id"`
	TargetTag string `json:"target_tag,omitempty"`
	Status    Status `json:"status"`
	// error category for failures, eg "rejected"
	Category string `json:"category,omitempty"`
	CaseID   int64  `json:"case_id,omitempty"`
	// human readable line for the moderator's reply
	Line string `json:"line"`
}

// Report is the ordered list of per-target results of one request.
type Report struct {
	Action     ledger.Action `json:"action"`
	Results    []Result      `json:"results"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Unresolved int           `json:"unresolved"`
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusSucceeded:
		r.Succeeded++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusUnresolved:
		r.Unresolved++
	}
}

// Title is the heading of the moderator's reply, eg "Attempted to ban 3 users".
func (r *Report) Title() string {
	return fmt.Sprintf("Attempted to %s %d users", r.Action.PresentTense(), len(r.Results))
}

func (r *Report) Text() string {
	lines := make([]string, len(r.Results))
	for i, res := range r.Results {
		lines[i] = res.Line
	}
	return strings.Join(lines, "\n")
}
