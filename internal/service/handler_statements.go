package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

const defaultStatementLimit = 500

// StatementGeneration aggregates ledger activity per member over the period
// (defaulting to the previous calendar month) and inserts one statement row
// each. Members with an existing statement for the period are skipped.
func (h *JobHandlers) StatementGeneration(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	now := h.now()
	defaultFrom := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	defaultTo := defaultFrom.AddDate(0, 1, 0)

	from, err := paramDate(job.Parameters, "from_date", defaultFrom)
	if err != nil {
		return nil, err
	}
	to, err := paramDate(job.Parameters, "to_date", defaultTo)
	if err != nil {
		return nil, err
	}
	limit := paramInt(job.Parameters, "limit", defaultStatementLimit)

	var memberID *string
	if id := paramString(job.Parameters, "member_id", ""); id != "" {
		memberID = &id
	}

	memberIDs, err := h.members.StatementMembers(ctx, from, to, memberID, limit)
	if err != nil {
		return nil, err
	}

	outcome := &BatchOutcome{}
	for _, id := range memberIDs {
		exists, err := h.members.HasStatement(ctx, id, from)
		if err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("member %s: %v", id, err))
			continue
		}
		if exists {
			continue
		}

		st := &repository.MemberStatement{
			MemberID:    id,
			Reference:   "STMT-" + uuid.NewString()[:12],
			PeriodStart: from,
			PeriodEnd:   to,
		}
		if err := h.members.CreateStatement(ctx, st); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("member %s: %v", id, err))
			continue
		}
		outcome.Processed++
		h.notifyStatement(ctx, id, st)
	}

	h.log.Info().
		Time("from", from).
		Time("to", to).
		Int("statements", outcome.Processed).
		Int("errors", len(outcome.Errors)).
		Msg("Statement generation complete")

	return &HandlerResult{
		Message: outcome.Summary("statements"),
		Data: map[string]any{
			"processed": outcome.Processed,
			"errors":    outcome.Errors,
		},
	}, nil
}

func (h *JobHandlers) notifyStatement(ctx context.Context, memberID string, st *repository.MemberStatement) {
	member, err := h.members.GetByID(ctx, memberID)
	if err != nil || member.Email == nil {
		return
	}
	item := &repository.EmailQueueItem{
		Recipient: *member.Email,
		Subject:   fmt.Sprintf("Your statement %s", st.Reference),
		Body: fmt.Sprintf(
			"Statement for %s to %s. Opening balance: %.2f, closing balance: %.2f.",
			st.PeriodStart.Format("2006-01-02"), st.PeriodEnd.Format("2006-01-02"),
			st.OpeningBalance, st.ClosingBalance),
		Priority: DefaultPriority - 1,
	}
	if err := h.notes.EnqueueEmail(ctx, item); err != nil {
		h.log.Warn().Err(err).Str("member_id", memberID).Msg("Statement notice: email enqueue failed")
	}
}
