package ws

// Event type constants for WebSocket messages.
const (
	EventWorkflowStatus = "workflow.status"
	EventStepStatus     = "workflow.step"
	EventSLASignal      = "workflow.sla"
)

// WorkflowStatusEvent is broadcast when an instance's status changes.
type WorkflowStatusEvent struct {
	InstanceID string `json:"instance_id"`
	ChangeKey  string `json:"change_key"`
	Revision   string `json:"revision"`
	Status     string `json:"status"`
	Decision   string `json:"decision,omitempty"`
}

// StepStatusEvent is broadcast when a step record transitions.
type StepStatusEvent struct {
	InstanceID string `json:"instance_id"`
	ChangeKey  string `json:"change_key"`
	Step       string `json:"step"`
	Status     string `json:"status"`
	Verdict    string `json:"verdict,omitempty"`
	SkipReason string `json:"skip_reason,omitempty"`
}

// SLASignalEvent is broadcast on reminder, escalation, or forced timeout.
type SLASignalEvent struct {
	InstanceID string `json:"instance_id"`
	ChangeKey  string `json:"change_key"`
	Step       string `json:"step"`
	Signal     string `json:"signal"` // "reminder", "escalation", "timeout"
}
