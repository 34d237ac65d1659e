package workflow

import "time"

// StepID identifies one stage in the fixed, ordered pipeline catalog.
type StepID string

const (
	StepQuality     StepID = "quality-check"
	StepPattern     StepID = "pattern-check"
	StepAlignment   StepID = "alignment-check"
	StepHumanReview StepID = "human-review"
)

// Catalog is the fixed execution order. Steps only ever run in this order;
// a step becomes eligible once every earlier step holds a terminal record.
var Catalog = []StepID{StepQuality, StepPattern, StepAlignment, StepHumanReview}

// StepStatus is the lifecycle state of a single step record.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepRunning  StepStatus = "running"
	StepPassed   StepStatus = "passed"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
	StepTimedOut StepStatus = "timed_out"
	StepError    StepStatus = "error"
)

// IsTerminal reports whether no further automatic transition applies to the step.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepPassed, StepFailed, StepSkipped, StepTimedOut, StepError:
		return true
	}
	return false
}

// Halts reports whether a step in this status stops forward progress of the
// instance (fail-fast rule).
func (s StepStatus) Halts() bool {
	return s == StepFailed || s == StepTimedOut || s == StepError
}

// Verdict tags per catalog position. Each step's collaborator returns one of a
// closed set of tags; anything else is rejected at the executor boundary.
const (
	VerdictPass         = "pass"
	VerdictFail         = "fail"
	VerdictNoNewPattern = "no-new-pattern"
	VerdictNewPattern   = "new-pattern"
	VerdictCompliant    = "compliant"
	VerdictDeviation    = "deviation"
	VerdictApproved     = "approved"
	VerdictRejected     = "rejected"
)

// verdictsByStep is the closed tag set accepted for each catalog position.
var verdictsByStep = map[StepID][]string{
	StepQuality:     {VerdictPass, VerdictFail},
	StepPattern:     {VerdictNoNewPattern, VerdictNewPattern},
	StepAlignment:   {VerdictCompliant, VerdictDeviation},
	StepHumanReview: {VerdictApproved, VerdictRejected},
}

// ValidVerdict reports whether tag is an accepted verdict for the given step.
func ValidVerdict(step StepID, tag string) bool {
	for _, v := range verdictsByStep[step] {
		if v == tag {
			return true
		}
	}
	return false
}

// VerdictPasses maps a valid verdict tag to a pass/fail outcome.
// Pattern verdicts always pass: detecting a new pattern is not a failure,
// it only gates whether the alignment and human-review steps run.
func VerdictPasses(step StepID, tag string) bool {
	switch step {
	case StepQuality:
		return tag == VerdictPass
	case StepPattern:
		return true
	case StepAlignment:
		return tag == VerdictCompliant
	case StepHumanReview:
		return tag == VerdictApproved
	}
	return false
}

// StepRecord is the append-only history entry for one attempted step.
// Once a record reaches a terminal status it is never mutated.
type StepRecord struct {
	ID         string     `json:"id"`
	Step       StepID     `json:"step"`
	Status     StepStatus `json:"status"`
	Verdict    string     `json:"verdict,omitempty"`
	Findings   []Finding  `json:"findings,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	SkipReason string     `json:"skip_reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// SkipReason explains why a step was skipped, or "" if it must run.
// The alignment and human-review steps only run when the pattern step
// detected a new pattern.
func SkipReason(step StepID, prior []StepRecord) string {
	if step != StepAlignment && step != StepHumanReview {
		return ""
	}
	for i := range prior {
		if prior[i].Step == StepPattern && prior[i].Status == StepPassed {
			if prior[i].Verdict == VerdictNoNewPattern {
				return "pattern-check found no new pattern"
			}
			return ""
		}
	}
	return ""
}
