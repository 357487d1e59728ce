package service

import (
	"context"
	"fmt"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// MonthlyInterest accrues one month's interest onto every eligible loan.
// Idempotent per (loan, month): the selection anti-joins the posting ledger,
// so re-running the job for the same month is a no-op. Per-loan failures are
// collected without aborting the batch.
func (h *JobHandlers) MonthlyInterest(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	targetDate, err := paramDate(job.Parameters, "target_date", h.now())
	if err != nil {
		return nil, err
	}
	defaultRate := paramFloat(job.Parameters, "default_interest_rate", 12.0)
	period := PeriodOf(targetDate)

	loans, err := h.loans.AccruableLoans(ctx, targetDate, period)
	if err != nil {
		return nil, err
	}

	outcome := &BatchOutcome{}
	for _, loan := range loans {
		rate := loan.InterestRate
		if rate == 0 {
			rate = defaultRate
		}

		interest := Round2((loan.Principal - loan.AmountPaid) * (rate / 100 / 12))
		if interest <= 0 {
			continue
		}

		if err := h.loans.PostInterest(ctx, loan, period, interest); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("loan %s: %v", loan.ID, err))
			continue
		}

		outcome.Processed++
		outcome.Total += interest

		h.log.Debug().
			Str("loan_id", loan.ID).
			Str("period", period).
			Float64("interest", interest).
			Msg("Interest posted")
	}

	h.log.Info().
		Str("period", period).
		Int("loans", outcome.Processed).
		Float64("total_interest", outcome.Total).
		Int("errors", len(outcome.Errors)).
		Msg("Interest accrual complete")

	return &HandlerResult{
		Message: outcome.Summary("loans"),
		Data: map[string]any{
			"period":         period,
			"processed":      outcome.Processed,
			"total_interest": Round2(outcome.Total),
			"errors":         outcome.Errors,
		},
	}, nil
}
