// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/gatewright/gatewright/internal/domain/ticket"
	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// Store is the port interface for durable workflow and ticket state.
type Store interface {
	// Workflow instances. UpdateInstance performs an optimistic
	// read-modify-write: it only applies when the stored version matches
	// in.Version, increments the version, and returns domain.ErrConflict
	// on a lost race.
	CreateInstance(ctx context.Context, in *workflow.Instance) error
	GetInstance(ctx context.Context, id string) (*workflow.Instance, error)
	GetActiveInstanceByChange(ctx context.Context, changeKey string) (*workflow.Instance, error)
	ListActiveInstances(ctx context.Context) ([]workflow.Instance, error)
	UpdateInstance(ctx context.Context, in *workflow.Instance) error

	// Ticket records. At most one open record per (change key, category).
	CreateTicketRecord(ctx context.Context, r *ticket.Record) error
	GetOpenTicketRecord(ctx context.Context, changeKey, category string) (*ticket.Record, error)
}
