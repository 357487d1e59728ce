package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
)

// MemberRepository covers the member, savings and statement data the job
// handlers and workflow completion actions touch.
type MemberRepository struct {
	db *database.DB
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(db *database.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// GetByID retrieves one member.
func (r *MemberRepository) GetByID(ctx context.Context, id string) (*Member, error) {
	query := `
		SELECT id, full_name, email, phone, status, credit_score
		FROM members
		WHERE id = $1
	`
	m := &Member{}
	err := r.db.QueryRow(ctx, query, id).Scan(&m.ID, &m.FullName, &m.Email, &m.Phone, &m.Status, &m.CreditScore)
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("member", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get member")
	}
	return m, nil
}

// Activate flips a pending member to active (registration approval path).
func (r *MemberRepository) Activate(ctx context.Context, id string) error {
	query := `
		UPDATE members
		SET status = 'active'
		WHERE id = $1 AND status = 'pending'
		RETURNING id
	`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.Conflict("member is not pending activation: " + id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to activate member")
	}
	return nil
}

// UpdateWithdrawalStatus sets a withdrawal request's status (workflow
// completion path).
func (r *MemberRepository) UpdateWithdrawalStatus(ctx context.Context, id, status string) error {
	query := `UPDATE withdrawal_requests SET status = $2 WHERE id = $1 RETURNING id`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("withdrawal_request", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update withdrawal status")
	}
	return nil
}

// PendingDeposits returns pending savings deposit rows for a period.
func (r *MemberRepository) PendingDeposits(ctx context.Context, period string) ([]*SavingsDeposit, error) {
	query := `
		SELECT d.id, d.account_id, a.member_id, d.period, d.amount, d.status, d.description
		FROM savings_deposits d
		JOIN savings_accounts a ON a.id = d.account_id
		WHERE d.period = $1
		  AND d.status = 'pending'
		  AND a.status = 'active'
		ORDER BY d.id ASC
	`
	rows, err := r.db.Query(ctx, query, period)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select pending deposits")
	}
	defer rows.Close()

	var deposits []*SavingsDeposit
	for rows.Next() {
		d := &SavingsDeposit{}
		err := rows.Scan(&d.ID, &d.AccountID, &d.MemberID, &d.Period, &d.Amount, &d.Status, &d.Description)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan savings deposit")
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// PostDeposit flips one pending deposit to posted, increments the account
// balance and writes the ledger entry, all in one transaction.
func (r *MemberRepository) PostDeposit(ctx context.Context, dep *SavingsDeposit, tag string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		desc := dep.Description
		if tag != "" {
			desc = desc + " " + tag
		}

		ct, err := tx.Exec(ctx, `
			UPDATE savings_deposits
			SET status = 'posted', description = $2
			WHERE id = $1 AND status = 'pending'
		`, dep.ID, desc)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to post savings deposit")
		}
		if ct.RowsAffected() == 0 {
			return apperr.Conflict("deposit is not pending: " + dep.ID)
		}

		_, err = tx.Exec(ctx, `
			UPDATE savings_accounts
			SET balance = balance + $2
			WHERE id = $1
		`, dep.AccountID, dep.Amount)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to increment savings balance")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_transactions (member_id, txn_type, amount, description)
			VALUES ($1, 'deposit', $2, $3)
		`, dep.MemberID, dep.Amount, "Monthly savings deposit "+dep.Period)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to write deposit ledger entry")
		}
		return nil
	})
}

// StatementMembers returns members with ledger activity in [from, to).
func (r *MemberRepository) StatementMembers(ctx context.Context, from, to time.Time, memberID *string, limit int) ([]string, error) {
	query := `
		SELECT DISTINCT member_id
		FROM ledger_transactions
		WHERE created_at >= $1 AND created_at < $2
	`
	args := []any{from, to}
	if memberID != nil {
		query += " AND member_id = $3"
		args = append(args, *memberID)
	}
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY member_id ASC LIMIT " + strconv.Itoa(limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select statement members")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan member id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasStatement reports whether a statement already exists for the member and
// period start (statement idempotency guard).
func (r *MemberRepository) HasStatement(ctx context.Context, memberID string, periodStart time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM member_statements
			WHERE member_id = $1 AND period_start = $2
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, memberID, periodStart).Scan(&exists); err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to check statement existence")
	}
	return exists, nil
}

// CreateStatement aggregates ledger activity over the period and inserts one
// statement row. The opening balance carries forward from the member's latest
// prior statement.
func (r *MemberRepository) CreateStatement(ctx context.Context, st *MemberStatement) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		prior := `
			SELECT closing_balance FROM member_statements
			WHERE member_id = $1 AND period_end <= $2
			ORDER BY period_end DESC
			LIMIT 1
		`
		err := tx.QueryRow(ctx, prior, st.MemberID, st.PeriodStart).Scan(&st.OpeningBalance)
		if err != nil && err != pgx.ErrNoRows {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to read prior statement balance")
		}

		agg := `
			SELECT
			  COALESCE(SUM(CASE WHEN amount >= 0 THEN amount ELSE 0 END), 0),
			  COALESCE(SUM(CASE WHEN amount < 0 THEN -amount ELSE 0 END), 0)
			FROM ledger_transactions
			WHERE member_id = $1 AND created_at >= $2 AND created_at < $3
		`
		err = tx.QueryRow(ctx, agg, st.MemberID, st.PeriodStart, st.PeriodEnd).
			Scan(&st.TotalCredits, &st.TotalDebits)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to aggregate ledger activity")
		}
		st.ClosingBalance = st.OpeningBalance + st.TotalCredits - st.TotalDebits

		insert := `
			INSERT INTO member_statements
			    (member_id, reference, period_start, period_end,
			     opening_balance, closing_balance, total_credits, total_debits)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, generated_at
		`
		err = tx.QueryRow(ctx, insert,
			st.MemberID, st.Reference, st.PeriodStart, st.PeriodEnd,
			st.OpeningBalance, st.ClosingBalance, st.TotalCredits, st.TotalDebits,
		).Scan(&st.ID, &st.GeneratedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to insert statement")
		}
		return nil
	})
}

// DeleteAuditLogsBefore removes activity log rows older than the cutoff
// (maintenance cleanup_logs task).
func (r *MemberRepository) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM activity_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to clean activity logs")
	}
	return tag.RowsAffected(), nil
}

// RefreshCreditScores recomputes member credit scores from repayment behavior:
// base 500, +1 per on-time installment, -2 per overdue one, clamped 300-850.
func (r *MemberRepository) RefreshCreditScores(ctx context.Context) (int64, error) {
	query := `
		UPDATE members m
		SET credit_score = LEAST(850, GREATEST(300,
			500
			+ (SELECT COUNT(*) FROM payment_schedules s
			   JOIN loans l ON l.id = s.loan_id
			   WHERE l.member_id = m.id AND s.outstanding = 0)
			- 2 * (SELECT COUNT(*) FROM payment_schedules s
			   JOIN loans l ON l.id = s.loan_id
			   WHERE l.member_id = m.id AND s.outstanding > 0 AND s.due_date < NOW())
		))
		WHERE m.status = 'active'
	`
	tag, err := r.db.Exec(ctx, query)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to refresh credit scores")
	}
	return tag.RowsAffected(), nil
}
