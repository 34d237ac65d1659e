// Package decision implements the merge decision engine: a pure, total
// function from accumulated step records to a final verdict.
package decision

import "github.com/gatewright/gatewright/internal/domain/workflow"

// Decision is the final verdict for a workflow instance.
type Decision string

const (
	Approve       Decision = "APPROVE"
	Block         Decision = "BLOCK"
	PendingReview Decision = "PENDING_REVIEW"
)

// Decide maps step records to a decision. It is deterministic, total, and
// side-effect free:
//   - any step failed, timed out, or exhausted retries as error -> BLOCK
//     (a rejected human review surfaces as a failed human-review step)
//   - a human-review record present but not yet terminal -> PENDING_REVIEW
//   - otherwise (everything passed or legitimately skipped) -> APPROVE
func Decide(steps []workflow.StepRecord) Decision {
	for i := range steps {
		if steps[i].Status.Halts() {
			return Block
		}
	}
	for i := range steps {
		if steps[i].Step == workflow.StepHumanReview && !steps[i].Status.IsTerminal() {
			return PendingReview
		}
	}
	return Approve
}
