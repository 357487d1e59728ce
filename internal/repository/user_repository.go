package repository

import (
	"context"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
)

// UserRepository resolves approvers from the admin user directory.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ActiveUsersWithRoles returns active users holding any of the given roles,
// ordered by role then name for deterministic assignment order.
func (r *UserRepository) ActiveUsersWithRoles(ctx context.Context, roles []string) ([]*Approver, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, full_name, email, role
		FROM users
		WHERE is_active = TRUE
		  AND role = ANY($1)
		ORDER BY role ASC, full_name ASC
	`
	rows, err := r.db.Query(ctx, query, roles)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to resolve approvers")
	}
	defer rows.Close()

	var approvers []*Approver
	for rows.Next() {
		a := &Approver{}
		if err := rows.Scan(&a.ID, &a.FullName, &a.Email, &a.Role); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan approver")
		}
		approvers = append(approvers, a)
	}
	return approvers, rows.Err()
}
