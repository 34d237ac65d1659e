package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gatewright/gatewright/internal/domain"
	"github.com/gatewright/gatewright/internal/domain/ticket"
)

// CreateTicketRecord inserts the durable change<->ticket link. The partial
// unique index on (change_key, category) WHERE open rejects a second open
// record for the same pair.
func (s *Store) CreateTicketRecord(ctx context.Context, r *ticket.Record) error {
	const q = `INSERT INTO ticket_records (key, change_key, category, assignee, open, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := s.pool.Exec(ctx, q, r.Key, r.ChangeKey, r.Category, r.Assignee, r.Open, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ticket record %s: %w", r.Key, err)
	}
	return nil
}

// GetOpenTicketRecord returns the open record for (change, category), or
// domain.ErrNotFound.
func (s *Store) GetOpenTicketRecord(ctx context.Context, changeKey, category string) (*ticket.Record, error) {
	const q = `SELECT key, change_key, category, assignee, open, created_at
		FROM ticket_records WHERE change_key = $1 AND category = $2 AND open`
	r := &ticket.Record{}
	err := s.pool.QueryRow(ctx, q, changeKey, category).Scan(
		&r.Key, &r.ChangeKey, &r.Category, &r.Assignee, &r.Open, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("open ticket for %s/%s: %w", changeKey, category, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("open ticket for %s/%s: %w", changeKey, category, err)
	}
	return r, nil
}
