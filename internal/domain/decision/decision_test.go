package decision

import (
	"testing"
	"time"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

func TestDecide(t *testing.T) {
	now := time.Now()
	done := &now

	tests := []struct {
		name  string
		steps []workflow.StepRecord
		want  Decision
	}{
		{
			name: "all passed with skips approves",
			steps: []workflow.StepRecord{
				{Step: workflow.StepQuality, Status: workflow.StepPassed, Verdict: "pass", EndedAt: done},
				{Step: workflow.StepPattern, Status: workflow.StepPassed, Verdict: "no-new-pattern", EndedAt: done},
				{Step: workflow.StepAlignment, Status: workflow.StepSkipped, EndedAt: done},
				{Step: workflow.StepHumanReview, Status: workflow.StepSkipped, EndedAt: done},
			},
			want: Approve,
		},
		{
			name: "quality failure blocks",
			steps: []workflow.StepRecord{
				{Step: workflow.StepQuality, Status: workflow.StepFailed, Verdict: "fail", EndedAt: done},
			},
			want: Block,
		},
		{
			name: "timed out step blocks",
			steps: []workflow.StepRecord{
				{Step: workflow.StepQuality, Status: workflow.StepPassed, EndedAt: done},
				{Step: workflow.StepPattern, Status: workflow.StepTimedOut, EndedAt: done},
			},
			want: Block,
		},
		{
			name: "exhausted retries block",
			steps: []workflow.StepRecord{
				{Step: workflow.StepQuality, Status: workflow.StepError, Error: "circuit open", EndedAt: done},
			},
			want: Block,
		},
		{
			name: "open human review pends",
			steps: []workflow.StepRecord{
				{Step: workflow.StepQuality, Status: workflow.StepPassed, EndedAt: done},
				{Step: workflow.StepPattern, Status: workflow.StepPassed, Verdict: "new-pattern", EndedAt: done},
				{Step: workflow.StepAlignment, Status: workflow.StepPassed, Verdict: "compliant", EndedAt: done},
				{Step: workflow.StepHumanReview, Status: workflow.StepPending},
			},
			want: PendingReview,
		},
		{
			name: "human rejection blocks",
			steps: []workflow.StepRecord{
				{Step: workflow.StepQuality, Status: workflow.StepPassed, EndedAt: done},
				{Step: workflow.StepPattern, Status: workflow.StepPassed, Verdict: "new-pattern", EndedAt: done},
				{Step: workflow.StepAlignment, Status: workflow.StepPassed, Verdict: "compliant", EndedAt: done},
				{Step: workflow.StepHumanReview, Status: workflow.StepFailed, Verdict: "rejected", EndedAt: done},
			},
			want: Block,
		},
		{
			name:  "no records approves vacuously",
			steps: nil,
			want:  Approve,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.steps); got != tt.want {
				t.Errorf("Decide() = %s, want %s", got, tt.want)
			}
			// Decide is deterministic; a second call over the same
			// records must agree.
			if again := Decide(tt.steps); again != tt.want {
				t.Errorf("repeat Decide() = %s, want %s", again, tt.want)
			}
		})
	}
}
