package service

import (
	"context"
	"fmt"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// MonthlySavingsDeposit posts pending savings deposit rows for the target
// month: status flip to posted, balance increment, ledger entry. dry_run
// reports the eligible count without posting; auto_tag appends a marker to
// each posted deposit's description.
func (h *JobHandlers) MonthlySavingsDeposit(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	month := paramString(job.Parameters, "target_month", PeriodOf(h.now()))
	dryRun := paramBool(job.Parameters, "dry_run", false)

	tag := ""
	if paramBool(job.Parameters, "auto_tag", false) {
		tag = "[auto]"
	}

	deposits, err := h.members.PendingDeposits(ctx, month)
	if err != nil {
		return nil, err
	}

	if dryRun {
		return &HandlerResult{
			Message: fmt.Sprintf("dry run: %d deposits pending for %s", len(deposits), month),
			Data:    map[string]any{"pending": len(deposits), "target_month": month},
		}, nil
	}

	outcome := &BatchOutcome{}
	for _, dep := range deposits {
		if err := h.members.PostDeposit(ctx, dep, tag); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("deposit %s: %v", dep.ID, err))
			continue
		}
		outcome.Processed++
		outcome.Total += dep.Amount
	}

	h.log.Info().
		Str("target_month", month).
		Int("posted", outcome.Processed).
		Float64("total", outcome.Total).
		Int("errors", len(outcome.Errors)).
		Msg("Monthly savings deposits posted")

	return &HandlerResult{
		Message: outcome.Summary("deposits"),
		Data: map[string]any{
			"target_month": month,
			"posted":       outcome.Processed,
			"total_amount": Round2(outcome.Total),
			"errors":       outcome.Errors,
		},
	}, nil
}
