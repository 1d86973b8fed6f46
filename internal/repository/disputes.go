package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

const disputeColumns = `id, deal_id, status, prior_status, rationale, opened_at, resolved_at`

func (q *Queries) CreateDispute(ctx context.Context, d *models.Dispute) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO disputes (id, deal_id, status, prior_status, rationale, opened_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.DealID, string(d.Status), string(d.PriorStatus), d.Rationale, d.OpenedAt, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

func (q *Queries) GetDispute(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return q.scanDispute(q.db.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (q *Queries) GetDisputeForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return q.scanDispute(q.db.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id))
}

func (q *Queries) GetDisputeByDeal(ctx context.Context, dealID uuid.UUID) (*models.Dispute, error) {
	dispute, err := q.scanDispute(q.db.QueryRow(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE deal_id = $1`, dealID))
	if errors.Is(err, models.ErrDisputeNotFound) {
		return nil, nil
	}
	return dispute, err
}

func (q *Queries) UpdateDispute(ctx context.Context, d *models.Dispute) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE disputes SET status = $2, rationale = $3, resolved_at = $4
		WHERE id = $1`,
		d.ID, string(d.Status), d.Rationale, d.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update dispute: %w", err)
	}
	return requireExactlyOne(tag, "update dispute")
}

func (q *Queries) scanDispute(row rowScanner) (*models.Dispute, error) {
	var (
		d             models.Dispute
		status, prior string
	)
	err := row.Scan(&d.ID, &d.DealID, &status, &prior, &d.Rationale, &d.OpenedAt, &d.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrDisputeNotFound
		}
		return nil, fmt.Errorf("scan dispute: %w", err)
	}
	d.Status = domain.DisputeStatus(status)
	d.PriorStatus = domain.DealStatus(prior)
	return &d, nil
}

// InsertAudit stores one immutable audit trail record.
func (q *Queries) InsertAudit(ctx context.Context, entityType string, entityID uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (entity_type, entity_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		entityType, entityID, action, textParam(prevState), textParam(nextState), metadata)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
