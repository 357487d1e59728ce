package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
	"github.com/saccohq/be-coop-scheduler/internal/schema"
)

// LoanRepository is the data-access path for loans, interest postings,
// payment schedules and the ledger.
type LoanRepository struct {
	db   *database.DB
	caps schema.Capabilities
}

// NewLoanRepository creates a new LoanRepository.
func NewLoanRepository(db *database.DB, caps schema.Capabilities) *LoanRepository {
	return &LoanRepository{db: db, caps: caps}
}

// GetByID retrieves one loan.
func (r *LoanRepository) GetByID(ctx context.Context, id string) (*Loan, error) {
	query := `
		SELECT id, member_id, status, principal, amount_paid, balance,
		       interest_rate, accrued_interest, auto_disburse, disbursed_at, created_at
		FROM loans
		WHERE id = $1
	`
	loan, err := r.scanLoan(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("loan", id)
	}
	return loan, err
}

// AccruableLoans returns loans eligible for interest in the target month:
// active or disbursed, disbursed on/before the target date, with no posting
// row for that month yet. The anti-join is the idempotency guard.
func (r *LoanRepository) AccruableLoans(ctx context.Context, targetDate time.Time, period string) ([]*Loan, error) {
	query := `
		SELECT l.id, l.member_id, l.status, l.principal, l.amount_paid, l.balance,
		       l.interest_rate, l.accrued_interest, l.auto_disburse, l.disbursed_at, l.created_at
		FROM loans l
		WHERE l.status IN ('active', 'disbursed')
		  AND l.disbursed_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM loan_interest_postings p
			WHERE p.loan_id = l.id AND p.period = $2
		  )
		ORDER BY l.id ASC
	`
	rows, err := r.db.Query(ctx, query, targetDate, period)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select accruable loans")
	}
	defer rows.Close()

	return r.scanLoans(rows)
}

// PostInterest applies one month's interest to a loan in a single transaction:
// posting row, balance and accrued-interest increments, ledger transaction.
// A duplicate posting for the same (loan, period) violates the unique
// constraint and rolls the whole transaction back.
func (r *LoanRepository) PostInterest(ctx context.Context, loan *Loan, period string, amount float64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO loan_interest_postings (loan_id, period, amount)
			VALUES ($1, $2, $3)
		`, loan.ID, period, amount)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to insert interest posting")
		}

		_, err = tx.Exec(ctx, `
			UPDATE loans
			SET balance          = balance + $2,
			    accrued_interest = accrued_interest + $2
			WHERE id = $1
		`, loan.ID, amount)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to apply interest to loan")
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_transactions (member_id, loan_id, txn_type, amount, description)
			VALUES ($1, $2, 'interest', $3, $4)
		`, loan.MemberID, loan.ID, amount, "Monthly interest for "+period)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to write interest ledger entry")
		}
		return nil
	})
}

// OverdueSchedules returns payment schedule rows past due before the target
// date that have not had a penalty computed for it yet.
func (r *LoanRepository) OverdueSchedules(ctx context.Context, targetDate time.Time) ([]*PaymentSchedule, error) {
	guard := ""
	if r.caps.HasLastPenaltyDate {
		guard = "AND (s.last_penalty_date IS NULL OR s.last_penalty_date <> $1::date)"
	}

	query := `
		SELECT s.id, s.loan_id, l.member_id, s.due_date, s.amount_due, s.outstanding,
		       s.penalty_amount, s.grace_period_days, ` + r.lastPenaltyColumn() + `
		FROM payment_schedules s
		JOIN loans l ON l.id = s.loan_id
		WHERE s.due_date < $1
		  AND s.outstanding > 0
		  ` + guard + `
		ORDER BY s.due_date ASC
	`
	rows, err := r.db.Query(ctx, query, targetDate)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select overdue schedules")
	}
	defer rows.Close()

	var schedules []*PaymentSchedule
	for rows.Next() {
		s := &PaymentSchedule{}
		err := rows.Scan(
			&s.ID, &s.LoanID, &s.MemberID, &s.DueDate, &s.AmountDue,
			&s.Outstanding, &s.PenaltyAmount, &s.GraceDays, &s.LastPenaltyDate,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan payment schedule")
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *LoanRepository) lastPenaltyColumn() string {
	if r.caps.HasLastPenaltyDate {
		return "s.last_penalty_date"
	}
	return "NULL AS last_penalty_date"
}

// ApplyPenalty accumulates a penalty onto a schedule and writes the ledger
// entry in one transaction.
func (r *LoanRepository) ApplyPenalty(ctx context.Context, sched *PaymentSchedule, targetDate time.Time, amount float64) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE payment_schedules
			SET penalty_amount = penalty_amount + $2
			WHERE id = $1
		`
		args := []any{sched.ID, amount}
		if r.caps.HasLastPenaltyDate {
			update = `
				UPDATE payment_schedules
				SET penalty_amount    = penalty_amount + $2,
				    last_penalty_date = $3
				WHERE id = $1
			`
			args = append(args, targetDate)
		}
		if _, err := tx.Exec(ctx, update, args...); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to apply penalty to schedule")
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_transactions (member_id, loan_id, txn_type, amount, description)
			VALUES ($1, $2, 'penalty', $3, $4)
		`, sched.MemberID, sched.LoanID, amount, "Late payment penalty")
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to write penalty ledger entry")
		}
		return nil
	})
}

// Disburse transitions an approved loan to disbursed with balance = principal
// and writes the disbursement ledger entry. Conflict when the loan is not
// approved.
func (r *LoanRepository) Disburse(ctx context.Context, loan *Loan, now time.Time) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE loans
			SET status       = 'disbursed',
			    balance      = principal,
			    disbursed_at = $2
			WHERE id = $1 AND status = 'approved'
		`, loan.ID, now)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to disburse loan")
		}
		if tag.RowsAffected() == 0 {
			return apperr.Conflict("loan is not approved: " + loan.ID)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger_transactions (member_id, loan_id, txn_type, amount, description)
			VALUES ($1, $2, 'disbursement', $3, 'Loan disbursement')
		`, loan.MemberID, loan.ID, loan.Principal)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to write disbursement ledger entry")
		}
		return nil
	})
}

// UpdateStatus sets a loan's status unconditionally (workflow completion path).
func (r *LoanRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE loans SET status = $2 WHERE id = $1 RETURNING id`
	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("loan", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update loan status")
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type loanScanner interface {
	Scan(dest ...any) error
}

func (r *LoanRepository) scanLoan(row loanScanner) (*Loan, error) {
	loan := &Loan{}
	err := row.Scan(
		&loan.ID,
		&loan.MemberID,
		&loan.Status,
		&loan.Principal,
		&loan.AmountPaid,
		&loan.Balance,
		&loan.InterestRate,
		&loan.AccruedInterest,
		&loan.AutoDisburse,
		&loan.DisbursedAt,
		&loan.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return loan, nil
}

func (r *LoanRepository) scanLoans(rows pgx.Rows) ([]*Loan, error) {
	var loans []*Loan
	for rows.Next() {
		loan, err := r.scanLoan(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan loan")
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}
