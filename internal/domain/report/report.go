// Package report renders a terminal workflow instance into the summary
// posted to the review surface. Rendering never mutates workflow state.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// StepSummary is the per-step line of the final report.
type StepSummary struct {
	Step     workflow.StepID     `json:"step"`
	Status   workflow.StepStatus `json:"status"`
	Verdict  string              `json:"verdict,omitempty"`
	Findings int                 `json:"findings"`
	Duration time.Duration       `json:"duration"`
	Skipped  string              `json:"skip_reason,omitempty"`
}

// Summary is the structured final report for one instance.
type Summary struct {
	InstanceID string             `json:"instance_id"`
	Change     workflow.ChangeRef `json:"change"`
	Decision   string             `json:"decision"`
	Steps      []StepSummary      `json:"steps"`
	Elapsed    time.Duration      `json:"elapsed"`
	TicketKey  string             `json:"ticket_key,omitempty"`
	TicketNote string             `json:"ticket_note,omitempty"`
}

// Render builds a Summary from a terminal instance and its decision.
func Render(in *workflow.Instance, decision string) Summary {
	s := Summary{
		InstanceID: in.ID,
		Change:     in.Change,
		Decision:   decision,
	}
	for i := range in.Steps {
		rec := &in.Steps[i]
		ss := StepSummary{
			Step:     rec.Step,
			Status:   rec.Status,
			Verdict:  rec.Verdict,
			Findings: len(rec.Findings),
			Skipped:  rec.SkipReason,
		}
		if rec.EndedAt != nil {
			ss.Duration = rec.EndedAt.Sub(rec.StartedAt)
		}
		s.Steps = append(s.Steps, ss)
	}
	if in.CompletedAt != nil {
		s.Elapsed = in.CompletedAt.Sub(in.CreatedAt)
	}
	return s
}

// Markdown renders the summary as the review-surface comment body.
func (s Summary) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Review pipeline: %s\n\n", s.Decision)
	fmt.Fprintf(&b, "Change %s @ %s\n\n", s.Change.Key(), shortRev(s.Change.Revision))
	b.WriteString("| Step | Status | Findings | Duration |\n|---|---|---|---|\n")
	for _, st := range s.Steps {
		status := string(st.Status)
		if st.Skipped != "" {
			status = "skipped (" + st.Skipped + ")"
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
			st.Step, status, st.Findings, st.Duration.Round(time.Millisecond))
	}
	if s.TicketKey != "" {
		fmt.Fprintf(&b, "\nTracking ticket: %s\n", s.TicketKey)
	} else if s.TicketNote != "" {
		fmt.Fprintf(&b, "\n%s\n", s.TicketNote)
	}
	return b.String()
}

// StatusCheck maps the decision to a commit-status state and description.
func (s Summary) StatusCheck() (state, description string) {
	switch s.Decision {
	case "APPROVE":
		return "success", "review pipeline passed"
	case "BLOCK":
		return "failure", "review pipeline blocked this change"
	case "PENDING_REVIEW":
		return "pending", "awaiting human review"
	}
	return "error", "review pipeline did not complete"
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
