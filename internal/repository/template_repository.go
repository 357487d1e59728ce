package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
)

// TemplateRepository handles workflow templates and their approval levels.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a template and its levels in one transaction.
func (r *TemplateRepository) Create(ctx context.Context, tpl *WorkflowTemplate) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tplQuery := `
			INSERT INTO workflow_templates
			    (entity_type, name, is_active, min_amount, max_amount, priority)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, tplQuery,
			tpl.EntityType,
			tpl.Name,
			tpl.IsActive,
			tpl.MinAmount,
			tpl.MaxAmount,
			tpl.Priority,
		).Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create workflow template")
		}

		levelQuery := `
			INSERT INTO approval_levels
			    (template_id, level_number, required_roles, timeout_hours, priority)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`
		for _, level := range tpl.Levels {
			level.TemplateID = tpl.ID

			rolesJSON, err := json.Marshal(level.RequiredRoles)
			if err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to marshal required roles")
			}

			err = tx.QueryRow(ctx, levelQuery,
				level.TemplateID,
				level.LevelNumber,
				rolesJSON,
				level.TimeoutHours,
				level.Priority,
			).Scan(&level.ID)
			if err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to create approval level")
			}
		}
		return nil
	})
}

// FindMatching returns the narrowest active template for an entity type and
// amount: templates whose range contains the amount, smallest qualifying
// min_amount first. Returns nil (no error) when nothing matches.
func (r *TemplateRepository) FindMatching(ctx context.Context, entityType EntityType, amount *float64) (*WorkflowTemplate, error) {
	query := `
		SELECT id, entity_type, name, is_active, min_amount, max_amount, priority,
		       created_at, updated_at
		FROM workflow_templates
		WHERE entity_type = $1 AND is_active = TRUE
		ORDER BY priority ASC, min_amount ASC NULLS LAST
	`
	rows, err := r.db.Query(ctx, query, entityType)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list workflow templates")
	}
	defer rows.Close()

	var candidates []*WorkflowTemplate
	for rows.Next() {
		tpl := &WorkflowTemplate{}
		err := rows.Scan(
			&tpl.ID,
			&tpl.EntityType,
			&tpl.Name,
			&tpl.IsActive,
			&tpl.MinAmount,
			&tpl.MaxAmount,
			&tpl.Priority,
			&tpl.CreatedAt,
			&tpl.UpdatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan workflow template")
		}
		candidates = append(candidates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tpl := SelectTemplate(candidates, amount)
	if tpl == nil {
		return nil, nil
	}

	levels, err := r.levelsFor(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}
	tpl.Levels = levels
	return tpl, nil
}

// SelectTemplate picks the narrowest matching template from candidates already
// ordered by priority then min_amount: the first whose amount range contains
// the amount. Amount-unscoped templates match any amount, including nil.
func SelectTemplate(candidates []*WorkflowTemplate, amount *float64) *WorkflowTemplate {
	var best *WorkflowTemplate
	for _, tpl := range candidates {
		if !templateMatches(tpl, amount) {
			continue
		}
		if best == nil {
			best = tpl
			continue
		}
		// Smallest qualifying min_amount wins among equal-priority matches.
		if tpl.Priority == best.Priority && minAmount(tpl) < minAmount(best) {
			best = tpl
		}
	}
	return best
}

func templateMatches(tpl *WorkflowTemplate, amount *float64) bool {
	if tpl.MinAmount == nil && tpl.MaxAmount == nil {
		return true
	}
	if amount == nil {
		return false
	}
	if tpl.MinAmount != nil && *amount < *tpl.MinAmount {
		return false
	}
	if tpl.MaxAmount != nil && *amount >= *tpl.MaxAmount {
		return false
	}
	return true
}

func minAmount(tpl *WorkflowTemplate) float64 {
	if tpl.MinAmount == nil {
		return 0
	}
	return *tpl.MinAmount
}

// levelsFor returns a template's levels ordered by level number.
func (r *TemplateRepository) levelsFor(ctx context.Context, templateID string) ([]*ApprovalLevel, error) {
	query := `
		SELECT id, template_id, level_number, required_roles, timeout_hours, priority
		FROM approval_levels
		WHERE template_id = $1
		ORDER BY level_number ASC
	`
	rows, err := r.db.Query(ctx, query, templateID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get approval levels")
	}
	defer rows.Close()

	var levels []*ApprovalLevel
	for rows.Next() {
		level := &ApprovalLevel{}
		var rolesJSON []byte
		err := rows.Scan(
			&level.ID,
			&level.TemplateID,
			&level.LevelNumber,
			&rolesJSON,
			&level.TimeoutHours,
			&level.Priority,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approval level")
		}
		if err := json.Unmarshal(rolesJSON, &level.RequiredRoles); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal required roles")
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

// GetLevel returns one level of a template by level number.
func (r *TemplateRepository) GetLevel(ctx context.Context, templateID string, levelNumber int) (*ApprovalLevel, error) {
	levels, err := r.levelsFor(ctx, templateID)
	if err != nil {
		return nil, err
	}
	for _, level := range levels {
		if level.LevelNumber == levelNumber {
			return level, nil
		}
	}
	return nil, apperr.NotFound("approval_level", templateID)
}
