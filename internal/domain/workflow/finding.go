package workflow

// Severity ranks a finding. The orchestrator never interprets finding
// content, only severity and category.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// rank orders severities for comparison; higher is worse.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityMajor:
		return 2
	case SeverityMinor:
		return 1
	}
	return 0
}

// Finding is an opaque unit of feedback from a step's external collaborator.
type Finding struct {
	Severity    Severity `json:"severity"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// HighestSeverity returns the worst severity present, or "" for no findings.
func HighestSeverity(findings []Finding) Severity {
	var top Severity
	for _, f := range findings {
		if f.Severity.rank() > top.rank() {
			top = f.Severity
		}
	}
	return top
}
