// Package tracker defines the port for the defect ticket system.
package tracker

import "context"

// Ticket is a ticket creation request for the tracker.
type Ticket struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Assignee    string   `json:"assignee,omitempty"` // empty means unassigned
	Labels      []string `json:"labels,omitempty"`
	ChangeURL   string   `json:"change_url,omitempty"`
}

// Tracker is the port interface for the ticket system.
type Tracker interface {
	// CreateTicket creates a ticket and returns its key.
	CreateTicket(ctx context.Context, t *Ticket) (string, error)

	// SearchOpenTicket returns the key of an open ticket matching the change
	// reference and category, or "" if none exists.
	SearchOpenTicket(ctx context.Context, changeKey, category string) (string, error)

	// AddComment appends a comment to an existing ticket.
	AddComment(ctx context.Context, key, text string) error

	// ResolveIdentity looks up a contact string (email or username) in the
	// tracker's user directory. Returns "" if it does not resolve.
	ResolveIdentity(ctx context.Context, contact string) (string, error)

	// ComponentOwner returns the designated owner identity for a component
	// or repository area, or "" if none is configured in the tracker.
	ComponentOwner(ctx context.Context, component string) (string, error)

	// CreateRemoteLink attaches a link from the ticket back to the change.
	CreateRemoteLink(ctx context.Context, key, url, title string) error
}
