package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
)

// AssignmentRepository handles approval assignments and the append-only action
// audit log.
type AssignmentRepository struct {
	db *database.DB
}

// NewAssignmentRepository creates a new AssignmentRepository.
func NewAssignmentRepository(db *database.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// CreateBatch inserts one pending assignment per approver for a level.
func (r *AssignmentRepository) CreateBatch(ctx context.Context, assignments []*ApprovalAssignment) error {
	query := `
		INSERT INTO approval_assignments
		    (workflow_id, approver_id, level, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING id, assigned_at
	`
	for _, a := range assignments {
		err := r.db.QueryRow(ctx, query, a.WorkflowID, a.ApproverID, a.Level).
			Scan(&a.ID, &a.AssignedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval assignment")
		}
		a.Status = AssignmentPending
	}
	return nil
}

// GetPending returns the pending assignment for one approver at one level, or
// nil when the approver holds none (permission + staleness check in one).
func (r *AssignmentRepository) GetPending(ctx context.Context, workflowID, approverID string, level int) (*ApprovalAssignment, error) {
	query := `
		SELECT id, workflow_id, approver_id, level, status, assigned_at, action_at, comments
		FROM approval_assignments
		WHERE workflow_id = $1 AND approver_id = $2 AND level = $3
		  AND status = 'pending'
		LIMIT 1
	`
	a, err := r.scanAssignment(r.db.QueryRow(ctx, query, workflowID, approverID, level))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetPendingForApprover returns all pending assignments awaiting a user.
func (r *AssignmentRepository) GetPendingForApprover(ctx context.Context, approverID string) ([]*ApprovalAssignment, error) {
	query := `
		SELECT a.id, a.workflow_id, a.approver_id, a.level, a.status,
		       a.assigned_at, a.action_at, a.comments
		FROM approval_assignments a
		JOIN workflow_instances w ON w.id = a.workflow_id
		WHERE a.approver_id = $1
		  AND a.status = 'pending'
		  AND w.status = 'pending'
		  AND w.current_level = a.level
		ORDER BY a.assigned_at ASC
	`
	rows, err := r.db.Query(ctx, query, approverID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get pending approvals")
	}
	defer rows.Close()

	var out []*ApprovalAssignment
	for rows.Next() {
		a, err := r.scanAssignment(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan assignment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// RecordDecision flips one pending assignment to the decided status.
func (r *AssignmentRepository) RecordDecision(ctx context.Context, id string, status AssignmentStatus, comments *string) error {
	query := `
		UPDATE approval_assignments
		SET status    = $2,
		    action_at = NOW(),
		    comments  = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, comments).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.Conflict("assignment is no longer pending: " + id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record decision")
	}
	return nil
}

// CancelPending cancels every still-pending assignment of a workflow. Called
// on every terminal path.
func (r *AssignmentRepository) CancelPending(ctx context.Context, workflowID string) error {
	query := `
		UPDATE approval_assignments
		SET status    = 'cancelled',
		    action_at = NOW()
		WHERE workflow_id = $1 AND status = 'pending'
	`
	_, err := r.db.Exec(ctx, query, workflowID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to cancel pending assignments")
	}
	return nil
}

// CancelPendingAtLevel cancels the still-pending assignments of one level.
// Used when an approval advances the workflow past it.
func (r *AssignmentRepository) CancelPendingAtLevel(ctx context.Context, workflowID string, level int) error {
	query := `
		UPDATE approval_assignments
		SET status    = 'cancelled',
		    action_at = NOW()
		WHERE workflow_id = $1 AND level = $2 AND status = 'pending'
	`
	_, err := r.db.Exec(ctx, query, workflowID, level)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to cancel level assignments")
	}
	return nil
}

// AppendAction writes one immutable audit record. The table carries a
// delete-prevention trigger, so insert is the only mutation exposed.
func (r *AssignmentRepository) AppendAction(ctx context.Context, action *ApprovalAction) error {
	query := `
		INSERT INTO approval_actions
		    (workflow_id, approver_id, action, level, comments)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		action.WorkflowID,
		action.ApproverID,
		action.Action,
		action.Level,
		action.Comments,
	).Scan(&action.ID, &action.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to append approval action")
	}
	return nil
}

// ActionsFor returns the audit trail for a workflow, oldest first.
func (r *AssignmentRepository) ActionsFor(ctx context.Context, workflowID string) ([]*ApprovalAction, error) {
	query := `
		SELECT id, workflow_id, approver_id, action, level, comments, created_at
		FROM approval_actions
		WHERE workflow_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval actions")
	}
	defer rows.Close()

	var out []*ApprovalAction
	for rows.Next() {
		a := &ApprovalAction{}
		err := rows.Scan(&a.ID, &a.WorkflowID, &a.ApproverID, &a.Action, &a.Level, &a.Comments, &a.CreatedAt)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval action")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ── scan helper ──────────────────────────────────────────────────────────────

type assignmentScanner interface {
	Scan(dest ...any) error
}

func (r *AssignmentRepository) scanAssignment(row assignmentScanner) (*ApprovalAssignment, error) {
	a := &ApprovalAssignment{}
	err := row.Scan(
		&a.ID,
		&a.WorkflowID,
		&a.ApproverID,
		&a.Level,
		&a.Status,
		&a.AssignedAt,
		&a.ActionAt,
		&a.Comments,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
