package messagequeue

import (
	"time"

	"github.com/gatewright/gatewright/internal/domain/ticket"
)

// TicketRetryPayload is the schema for tickets.retry messages. Attempt and
// FirstQueuedAt bound the background retry horizon.
type TicketRetryPayload struct {
	Request       ticket.Request `json:"request"`
	Assignee      string         `json:"assignee,omitempty"`
	Attempt       int            `json:"attempt"`
	FirstQueuedAt time.Time      `json:"first_queued_at"`
}

// WorkflowEventPayload is the schema for workflows.events messages.
type WorkflowEventPayload struct {
	InstanceID string `json:"instance_id"`
	ChangeKey  string `json:"change_key"`
	Status     string `json:"status"`
	Step       string `json:"step,omitempty"`
	StepStatus string `json:"step_status,omitempty"`
	Decision   string `json:"decision,omitempty"`
}
