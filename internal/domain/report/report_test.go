package report

import (
	"strings"
	"testing"
	"time"

	"github.com/gatewright/gatewright/internal/domain/workflow"
)

func terminalInstance() *workflow.Instance {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	completed := start.Add(2 * time.Minute)
	return &workflow.Instance{
		ID: "inst-1",
		Change: workflow.ChangeRef{
			Repository: "acme/widgets",
			Number:     7,
			Revision:   "deadbeefcafe1234",
		},
		Status: workflow.StatusCompletedApproved,
		Steps: []workflow.StepRecord{
			{Step: workflow.StepQuality, Status: workflow.StepPassed, Verdict: "pass", StartedAt: start, EndedAt: &end},
			{Step: workflow.StepPattern, Status: workflow.StepPassed, Verdict: "no-new-pattern", StartedAt: start, EndedAt: &end},
			{Step: workflow.StepAlignment, Status: workflow.StepSkipped, SkipReason: "pattern-check found no new pattern", StartedAt: end, EndedAt: &end},
			{Step: workflow.StepHumanReview, Status: workflow.StepSkipped, SkipReason: "pattern-check found no new pattern", StartedAt: end, EndedAt: &end},
		},
		CreatedAt:   start,
		CompletedAt: &completed,
	}
}

func TestRender(t *testing.T) {
	s := Render(terminalInstance(), "APPROVE")
	if s.Decision != "APPROVE" {
		t.Errorf("decision = %q", s.Decision)
	}
	if len(s.Steps) != 4 {
		t.Fatalf("steps = %d, want 4", len(s.Steps))
	}
	if s.Steps[0].Duration != 90*time.Second {
		t.Errorf("quality duration = %s", s.Steps[0].Duration)
	}
	if s.Elapsed != 2*time.Minute {
		t.Errorf("elapsed = %s", s.Elapsed)
	}
}

func TestMarkdown(t *testing.T) {
	s := Render(terminalInstance(), "APPROVE")
	md := s.Markdown()

	for _, want := range []string{
		"APPROVE",
		"acme/widgets#7",
		"deadbeef", // revision shortened
		"quality-check",
		"skipped (pattern-check found no new pattern)",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, "deadbeefcafe1234") {
		t.Error("markdown should shorten the revision")
	}
}

func TestMarkdownTicketLines(t *testing.T) {
	s := Render(terminalInstance(), "BLOCK")
	s.TicketKey = "REV-17"
	if md := s.Markdown(); !strings.Contains(md, "REV-17") {
		t.Errorf("markdown missing ticket key:\n%s", md)
	}

	s.TicketKey = ""
	s.TicketNote = "Ticket creation is pending; the tracker was unreachable and the request was queued."
	if md := s.Markdown(); !strings.Contains(md, "pending") {
		t.Errorf("markdown missing ticket note:\n%s", md)
	}
}

func TestStatusCheck(t *testing.T) {
	tests := []struct {
		decision string
		state    string
	}{
		{"APPROVE", "success"},
		{"BLOCK", "failure"},
		{"PENDING_REVIEW", "pending"},
		{"", "error"},
	}
	for _, tt := range tests {
		s := Summary{Decision: tt.decision}
		if state, _ := s.StatusCheck(); state != tt.state {
			t.Errorf("StatusCheck(%q) = %q, want %q", tt.decision, state, tt.state)
		}
	}
}
