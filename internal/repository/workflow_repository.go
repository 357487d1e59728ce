package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
)

// WorkflowRepository manages workflow instances.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// Create inserts a workflow instance at level 1.
func (r *WorkflowRepository) Create(ctx context.Context, wf *WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances
		    (entity_type, entity_id, template_id, current_level, total_levels,
		     status, amount, requested_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		wf.EntityType,
		wf.EntityID,
		wf.TemplateID,
		wf.CurrentLevel,
		wf.TotalLevels,
		wf.Status,
		wf.Amount,
		wf.RequestedBy,
	).Scan(&wf.ID, &wf.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create workflow instance")
	}
	return nil
}

// GetByID retrieves a workflow instance by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*WorkflowInstance, error) {
	query := `
		SELECT id, entity_type, entity_id, template_id, current_level, total_levels,
		       status, amount, requested_by, final_comments, created_at, completed_at
		FROM workflow_instances
		WHERE id = $1
	`
	wf, err := r.scanInstance(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("workflow_instance", id)
	}
	return wf, err
}

// Advance moves a pending workflow to the next level. The WHERE clause pins
// the expected current level so a raced advance cannot skip levels.
func (r *WorkflowRepository) Advance(ctx context.Context, id string, fromLevel int) error {
	query := `
		UPDATE workflow_instances
		SET current_level = current_level + 1
		WHERE id = $1
		  AND status = 'pending'
		  AND current_level = $2
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, fromLevel).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.Conflict("workflow is not pending at the expected level")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to advance workflow")
	}
	return nil
}

// Complete moves a pending workflow to a terminal status exactly once.
func (r *WorkflowRepository) Complete(ctx context.Context, id string, status WorkflowStatus, comments *string, completedAt time.Time) error {
	if !status.Terminal() {
		return apperr.InvalidInput("status", "completion requires a terminal status")
	}

	query := `
		UPDATE workflow_instances
		SET status         = $2,
		    final_comments = $3,
		    completed_at   = $4
		WHERE id = $1
		  AND status = 'pending'
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, comments, completedAt).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.Conflict("workflow already reached a terminal status")
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to complete workflow")
	}
	return nil
}

// GetActiveByEntity returns the pending workflow for an entity, or nil.
func (r *WorkflowRepository) GetActiveByEntity(ctx context.Context, entityType EntityType, entityID string) (*WorkflowInstance, error) {
	query := `
		SELECT id, entity_type, entity_id, template_id, current_level, total_levels,
		       status, amount, requested_by, final_comments, created_at, completed_at
		FROM workflow_instances
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	wf, err := r.scanInstance(r.db.QueryRow(ctx, query, entityType, entityID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// ── scan helper ──────────────────────────────────────────────────────────────

type instanceScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowRepository) scanInstance(row instanceScanner) (*WorkflowInstance, error) {
	wf := &WorkflowInstance{}
	err := row.Scan(
		&wf.ID,
		&wf.EntityType,
		&wf.EntityID,
		&wf.TemplateID,
		&wf.CurrentLevel,
		&wf.TotalLevels,
		&wf.Status,
		&wf.Amount,
		&wf.RequestedBy,
		&wf.FinalComments,
		&wf.CreatedAt,
		&wf.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return wf, nil
}
