package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatewright/gatewright/internal/domain"
	"github.com/gatewright/gatewright/internal/domain/workflow"
)

// Store implements the database.Store port against PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const instanceCols = `id, change_key, repository, change_number, revision, author,
	author_email, change_url, status, steps, decision, step_deadline,
	reminder_sent, escalation_sent, created_at, completed_at, version`

// CreateInstance inserts a new workflow instance at version 1.
func (s *Store) CreateInstance(ctx context.Context, in *workflow.Instance) error {
	steps, err := json.Marshal(orEmpty(in.Steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	in.Version = 1
	const q = `INSERT INTO workflow_instances (` + instanceCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err = s.pool.Exec(ctx, q,
		in.ID, in.Change.Key(), in.Change.Repository, in.Change.Number,
		in.Change.Revision, in.Change.Author, in.Change.AuthorEmail, in.Change.URL,
		string(in.Status), steps, in.Decision, in.StepDeadline,
		in.ReminderSent, in.EscalationSent, in.CreatedAt, in.CompletedAt, in.Version,
	)
	if err != nil {
		return fmt.Errorf("create instance %s: %w", in.ID, err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (*workflow.Instance, error) {
	const q = `SELECT ` + instanceCols + ` FROM workflow_instances WHERE id = $1`
	return s.scanInstance(s.pool.QueryRow(ctx, q, id), "get instance "+id)
}

// GetActiveInstanceByChange returns the single non-terminal instance for a
// change, or domain.ErrNotFound.
func (s *Store) GetActiveInstanceByChange(ctx context.Context, changeKey string) (*workflow.Instance, error) {
	const q = `SELECT ` + instanceCols + ` FROM workflow_instances
		WHERE change_key = $1
		  AND status IN ('initialized', 'running', 'pending_human_review')`
	return s.scanInstance(s.pool.QueryRow(ctx, q, changeKey), "get active instance for "+changeKey)
}

// ListActiveInstances returns all non-terminal instances, oldest first.
func (s *Store) ListActiveInstances(ctx context.Context) ([]workflow.Instance, error) {
	const q = `SELECT ` + instanceCols + ` FROM workflow_instances
		WHERE status IN ('initialized', 'running', 'pending_human_review')
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workflow.Instance
	for rows.Next() {
		in, err := scanInstanceRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *in)
	}
	return result, rows.Err()
}

// UpdateInstance applies an optimistic read-modify-write: the row is only
// updated when its stored version matches in.Version. On success the version
// is incremented both in the row and on in. A lost race returns
// domain.ErrConflict so the caller can reload and re-decide.
func (s *Store) UpdateInstance(ctx context.Context, in *workflow.Instance) error {
	steps, err := json.Marshal(orEmpty(in.Steps))
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	const q = `UPDATE workflow_instances SET
		status=$2, steps=$3, decision=$4, step_deadline=$5,
		reminder_sent=$6, escalation_sent=$7, completed_at=$8, version=version+1
		WHERE id=$1 AND version=$9`
	tag, err := s.pool.Exec(ctx, q,
		in.ID, string(in.Status), steps, in.Decision, in.StepDeadline,
		in.ReminderSent, in.EscalationSent, in.CompletedAt, in.Version,
	)
	if err != nil {
		return fmt.Errorf("update instance %s: %w", in.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update instance %s at version %d: %w", in.ID, in.Version, domain.ErrConflict)
	}
	in.Version++
	return nil
}

func (s *Store) scanInstance(row pgx.Row, op string) (*workflow.Instance, error) {
	in, err := scanInstanceRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return in, nil
}

func scanInstanceRow(row scannable) (*workflow.Instance, error) {
	in := &workflow.Instance{}
	var changeKey, status string
	var steps []byte
	if err := row.Scan(
		&in.ID, &changeKey, &in.Change.Repository, &in.Change.Number,
		&in.Change.Revision, &in.Change.Author, &in.Change.AuthorEmail, &in.Change.URL,
		&status, &steps, &in.Decision, &in.StepDeadline,
		&in.ReminderSent, &in.EscalationSent, &in.CreatedAt, &in.CompletedAt, &in.Version,
	); err != nil {
		return nil, err
	}
	in.Status = workflow.Status(status)
	if err := json.Unmarshal(steps, &in.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps for %s: %w", in.ID, err)
	}
	return in, nil
}
