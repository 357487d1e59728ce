package service

import (
	"context"
	"fmt"
	"time"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// PenaltyFor computes the late-payment penalty for one schedule row: zero
// within the grace window, then a prorated monthly rate on the outstanding
// amount. days_overdue counts whole days past due_date + grace.
func PenaltyFor(sched *repository.PaymentSchedule, targetDate time.Time, penaltyRate float64) float64 {
	graceEnd := sched.DueDate.AddDate(0, 0, sched.GraceDays)
	daysOverdue := int(targetDate.Sub(graceEnd).Hours() / 24)
	if daysOverdue <= 0 {
		return 0
	}
	return Round2(sched.Outstanding * (penaltyRate / 100) * (float64(daysOverdue) / 30))
}

// PenaltyAssessment assesses late penalties on overdue payment schedules.
// A schedule is assessed at most once per target date. Per-row failures are
// isolated; affected members get a notification enqueued.
func (h *JobHandlers) PenaltyAssessment(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	targetDate, err := paramDate(job.Parameters, "target_date", h.now())
	if err != nil {
		return nil, err
	}
	penaltyRate := paramFloat(job.Parameters, "default_penalty_rate", 5.0)
	defaultGrace := paramInt(job.Parameters, "default_grace_days", 0)

	schedules, err := h.loans.OverdueSchedules(ctx, targetDate)
	if err != nil {
		return nil, err
	}

	outcome := &BatchOutcome{}
	for _, sched := range schedules {
		if sched.GraceDays == 0 {
			sched.GraceDays = defaultGrace
		}

		penalty := PenaltyFor(sched, targetDate, penaltyRate)
		if penalty <= 0 {
			continue
		}

		if err := h.loans.ApplyPenalty(ctx, sched, targetDate, penalty); err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("schedule %s: %v", sched.ID, err))
			continue
		}

		outcome.Processed++
		outcome.Total += penalty
		h.notifyPenalty(ctx, sched, penalty)
	}

	h.log.Info().
		Time("target_date", targetDate).
		Int("schedules", outcome.Processed).
		Float64("total_penalty", outcome.Total).
		Int("errors", len(outcome.Errors)).
		Msg("Penalty assessment complete")

	return &HandlerResult{
		Message: outcome.Summary("schedules"),
		Data: map[string]any{
			"processed":     outcome.Processed,
			"total_penalty": Round2(outcome.Total),
			"errors":        outcome.Errors,
		},
	}, nil
}

// notifyPenalty enqueues a penalty notice for the member. Best-effort: a
// failed enqueue is logged, never fails the assessment.
func (h *JobHandlers) notifyPenalty(ctx context.Context, sched *repository.PaymentSchedule, penalty float64) {
	member, err := h.members.GetByID(ctx, sched.MemberID)
	if err != nil {
		h.log.Warn().Err(err).Str("member_id", sched.MemberID).Msg("Penalty notice: member lookup failed")
		return
	}

	body := fmt.Sprintf(
		"A late payment penalty of %.2f was applied to your loan installment due %s. Outstanding amount: %.2f.",
		penalty, sched.DueDate.Format("2006-01-02"), sched.Outstanding)

	if member.Email != nil {
		item := &repository.EmailQueueItem{
			Recipient: *member.Email,
			Subject:   "Late payment penalty applied",
			Body:      body,
			Priority:  DefaultPriority,
		}
		if err := h.notes.EnqueueEmail(ctx, item); err != nil {
			h.log.Warn().Err(err).Str("member_id", member.ID).Msg("Penalty notice: email enqueue failed")
		}
	}
	if member.Phone != nil {
		item := &repository.SMSQueueItem{
			Phone:    *member.Phone,
			Message:  fmt.Sprintf("Penalty of %.2f applied to your overdue loan installment.", penalty),
			Priority: DefaultPriority,
		}
		if err := h.notes.EnqueueSMS(ctx, item); err != nil {
			h.log.Warn().Err(err).Str("member_id", member.ID).Msg("Penalty notice: sms enqueue failed")
		}
	}
}
