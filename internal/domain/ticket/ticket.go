// Package ticket defines defect-ticket requests, records, and the mapping
// from step findings to tracker fields.
package ticket

import (
	"fmt"
	"strings"
	"time"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// Tracker priorities, ordered worst first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Request describes one ticket to create for a halted instance.
type Request struct {
	ID       string             `json:"id"`
	Change   workflow.ChangeRef `json:"change"`
	Step     workflow.StepID    `json:"step"`
	Category string             `json:"category"`
	Findings []workflow.Finding `json:"findings"`
}

// Record is the durable link between a change and an open tracker ticket.
// At most one open record exists per (change key, category).
type Record struct {
	Key       string    `json:"key"`
	ChangeKey string    `json:"change_key"`
	Category  string    `json:"category"`
	Assignee  string    `json:"assignee,omitempty"`
	Open      bool      `json:"open"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRequest builds a Request from a halting step record. The category is
// taken from the dominant finding when findings are present, otherwise from
// the failing step itself, so repeat failures of the same kind deduplicate.
func NewRequest(id string, change workflow.ChangeRef, rec *workflow.StepRecord) Request {
	category := string(rec.Step)
	if top := dominantCategory(rec.Findings); top != "" {
		category = top
	}
	return Request{
		ID:       id,
		Change:   change,
		Step:     rec.Step,
		Category: category,
		Findings: rec.Findings,
	}
}

// dominantCategory returns the category of the worst-severity finding.
func dominantCategory(findings []workflow.Finding) string {
	top := workflow.HighestSeverity(findings)
	for _, f := range findings {
		if f.Severity == top {
			return f.Category
		}
	}
	return ""
}

// Priority maps the highest finding severity to a tracker priority.
// A halting step with no findings (timeout, transport error) is medium.
func (r Request) Priority() string {
	switch workflow.HighestSeverity(r.Findings) {
	case workflow.SeverityCritical:
		return PriorityHigh
	case workflow.SeverityMajor:
		return PriorityMedium
	case workflow.SeverityMinor:
		return PriorityLow
	}
	return PriorityMedium
}

// Summary renders the one-line ticket title.
func (r Request) Summary() string {
	return fmt.Sprintf("[review] %s failed %s (%s)", r.Change.Key(), r.Step, r.Category)
}

// Description renders the structured ticket body: change reference, failing
// step, findings, and a link back to the change.
func (r Request) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated review blocked change %s at revision %s.\n\n", r.Change.Key(), r.Change.Revision)
	fmt.Fprintf(&b, "Failing step: %s\n", r.Step)
	if r.Change.URL != "" {
		fmt.Fprintf(&b, "Change: %s\n", r.Change.URL)
	}
	if len(r.Findings) == 0 {
		b.WriteString("\nNo findings were returned; the step did not complete.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "\nFindings (%d):\n", len(r.Findings))
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "- [%s/%s] %s", f.Severity, f.Category, f.Description)
		if f.File != "" {
			fmt.Fprintf(&b, " (%s:%d)", f.File, f.Line)
		}
		if f.Remediation != "" {
			fmt.Fprintf(&b, " (fix: %s)", f.Remediation)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CommentBody renders the comment appended when an open ticket already
// exists for (change, category).
func (r Request) CommentBody() string {
	return fmt.Sprintf("Repeat failure of %s on %s at revision %s.\n\n%s",
		r.Step, r.Change.Key(), r.Change.Revision, r.Description())
}

// Labels returns tracker labels for the ticket, including the labels that
// encode dedupe identity.
func (r Request) Labels() []string {
	return []string{
		"automated-review",
		string(r.Step),
		ChangeLabel(r.Change.Key()),
		CategoryLabel(r.Category),
	}
}

// ChangeLabel encodes the change key as a tracker label. Labels cannot
// contain spaces, so keys are sanitized.
func ChangeLabel(changeKey string) string {
	return "change:" + strings.ReplaceAll(changeKey, " ", "_")
}

// CategoryLabel encodes the ticket category as a tracker label.
func CategoryLabel(category string) string {
	return "category:" + strings.ReplaceAll(category, " ", "_")
}
