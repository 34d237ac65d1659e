// Package workflow defines the durable state machine tracking one change's
// progress through the review pipeline for one revision.
package workflow

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRepoRequired     = errors.New("change repository is required")
	ErrRevisionRequired = errors.New("change revision is required")
	ErrStepOutOfOrder   = errors.New("step appended out of catalog order")
	ErrStepFinalized    = errors.New("step record is terminal and cannot be mutated")
	ErrNotSuspended     = errors.New("instance is not awaiting a human decision")
)

// ChangeRef identifies one revision of a source-code change.
type ChangeRef struct {
	Repository  string `json:"repository"`
	Number      int    `json:"number"`
	Revision    string `json:"revision"`
	Author      string `json:"author"`
	AuthorEmail string `json:"author_email,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Key returns the change identity shared across revisions. At most one
// active instance exists per key; a newer revision supersedes it.
func (r ChangeRef) Key() string {
	return fmt.Sprintf("%s#%d", r.Repository, r.Number)
}

// Validate checks the fields required to start a workflow.
func (r ChangeRef) Validate() error {
	if r.Repository == "" {
		return ErrRepoRequired
	}
	if r.Revision == "" {
		return ErrRevisionRequired
	}
	return nil
}

// Status is the overall lifecycle state of a workflow instance.
type Status string

const (
	StatusInitialized        Status = "initialized"
	StatusRunning            Status = "running"
	StatusCompletedApproved  Status = "completed_approved"
	StatusCompletedBlocked   Status = "completed_blocked"
	StatusPendingHumanReview Status = "pending_human_review"
	StatusCancelled          Status = "cancelled"
	StatusTimedOut           Status = "timed_out"
)

// IsTerminal reports whether the instance accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompletedApproved, StatusCompletedBlocked, StatusCancelled, StatusTimedOut:
		return true
	}
	return false
}

// Instance is one durable workflow: (change, revision) driven through the
// step catalog. Version supports optimistic read-modify-write so the
// coordinator and the SLA monitor never lose transitions to each other.
type Instance struct {
	ID             string       `json:"id"`
	Change         ChangeRef    `json:"change"`
	Status         Status       `json:"status"`
	Steps          []StepRecord `json:"steps"`
	Decision       string       `json:"decision,omitempty"`
	StepDeadline   *time.Time   `json:"step_deadline,omitempty"`
	ReminderSent   bool         `json:"reminder_sent"`
	EscalationSent bool         `json:"escalation_sent"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Version        int64        `json:"version"`
}

// NextStep returns the first catalog step without a record, honoring the
// fail-fast rule: once any step halts, nothing further is eligible.
func (in *Instance) NextStep() (StepID, bool) {
	if in.Halted() {
		return "", false
	}
	for _, id := range Catalog {
		if in.Record(id) == nil {
			return id, true
		}
	}
	return "", false
}

// Record returns the step record for the given catalog position, or nil.
func (in *Instance) Record(id StepID) *StepRecord {
	for i := range in.Steps {
		if in.Steps[i].Step == id {
			return &in.Steps[i]
		}
	}
	return nil
}

// Halted reports whether any step reached a halting terminal status.
func (in *Instance) Halted() bool {
	for i := range in.Steps {
		if in.Steps[i].Status.Halts() {
			return true
		}
	}
	return false
}

// AppendStep appends a record for the given step, enforcing catalog order:
// every earlier catalog step must already hold a terminal record.
func (in *Instance) AppendStep(rec StepRecord) error {
	for _, id := range Catalog {
		if id == rec.Step {
			in.Steps = append(in.Steps, rec)
			return nil
		}
		prev := in.Record(id)
		if prev == nil || !prev.Status.IsTerminal() {
			return fmt.Errorf("step %s before %s is not terminal: %w", id, rec.Step, ErrStepOutOfOrder)
		}
	}
	return fmt.Errorf("unknown step %s: %w", rec.Step, ErrStepOutOfOrder)
}

// FinishStep moves the record for id into a terminal status. Terminal
// records are append-only history and are never modified again.
func (in *Instance) FinishStep(id StepID, status StepStatus, at time.Time) error {
	rec := in.Record(id)
	if rec == nil {
		return fmt.Errorf("no record for step %s: %w", id, ErrStepOutOfOrder)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("step %s already %s: %w", id, rec.Status, ErrStepFinalized)
	}
	rec.Status = status
	rec.EndedAt = &at
	return nil
}

// ResolveHumanReview applies an external approval or rejection signal to a
// suspended instance. It is idempotent: re-applying after the human-review
// record is terminal is a no-op.
func (in *Instance) ResolveHumanReview(verdict string, at time.Time) (applied bool, err error) {
	rec := in.Record(StepHumanReview)
	if rec == nil || in.Status != StatusPendingHumanReview {
		if rec != nil && rec.Status.IsTerminal() {
			return false, nil
		}
		return false, ErrNotSuspended
	}
	if rec.Status.IsTerminal() {
		return false, nil
	}
	if !ValidVerdict(StepHumanReview, verdict) {
		return false, fmt.Errorf("invalid human-review verdict %q", verdict)
	}
	rec.Verdict = verdict
	rec.EndedAt = &at
	if verdict == VerdictApproved {
		rec.Status = StepPassed
	} else {
		rec.Status = StepFailed
	}
	in.Status = StatusRunning
	in.StepDeadline = nil
	return true, nil
}

// FailingStep returns the first halting step record, or nil.
func (in *Instance) FailingStep() *StepRecord {
	for i := range in.Steps {
		if in.Steps[i].Status.Halts() {
			return &in.Steps[i]
		}
	}
	return nil
}
