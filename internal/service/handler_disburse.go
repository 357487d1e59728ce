package service

import (
	"context"
	"fmt"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/client"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// AutoDisburse releases an approved loan: status to disbursed, balance set to
// principal, disbursement ledger entry, member notification. A missing or
// non-approved loan is a hard failure for this job.
func (h *JobHandlers) AutoDisburse(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	loanID := paramString(job.Parameters, "loan_id", "")
	if loanID == "" && job.EntityID != nil {
		loanID = *job.EntityID
	}
	if loanID == "" {
		return nil, apperr.InvalidInput("loan_id", "required parameter missing")
	}

	loan, err := h.loans.GetByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != "approved" {
		return nil, apperr.Conflict(fmt.Sprintf("loan %s is %s, not approved", loanID, loan.Status))
	}

	if err := h.loans.Disburse(ctx, loan, h.now()); err != nil {
		return nil, err
	}

	h.notifyDisbursement(ctx, loan)
	h.events.Publish(ctx, "loan_disbursed", &client.Event{
		EntityType: "loan",
		EntityID:   loan.ID,
		Payload:    map[string]any{"principal": loan.Principal},
	})

	h.log.Info().
		Str("loan_id", loan.ID).
		Float64("principal", loan.Principal).
		Msg("Loan disbursed")

	return &HandlerResult{
		Message: fmt.Sprintf("disbursed loan %s for %.2f", loan.ID, loan.Principal),
		Data:    map[string]any{"loan_id": loan.ID, "amount": loan.Principal},
	}, nil
}

func (h *JobHandlers) notifyDisbursement(ctx context.Context, loan *repository.Loan) {
	member, err := h.members.GetByID(ctx, loan.MemberID)
	if err != nil {
		h.log.Warn().Err(err).Str("member_id", loan.MemberID).Msg("Disbursement notice: member lookup failed")
		return
	}
	if member.Email == nil {
		return
	}
	item := &repository.EmailQueueItem{
		Recipient: *member.Email,
		Subject:   "Loan disbursed",
		Body:      fmt.Sprintf("Your loan of %.2f has been disbursed.", loan.Principal),
		Priority:  DefaultPriority + 1,
	}
	if err := h.notes.EnqueueEmail(ctx, item); err != nil {
		h.log.Warn().Err(err).Str("member_id", member.ID).Msg("Disbursement notice: email enqueue failed")
	}
}

// WorkflowTimeout re-validates and applies a scheduled level timeout. The
// timeout may have raced a human decision and lost; that case is a silent
// no-op, reported as such.
func (h *JobHandlers) WorkflowTimeout(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	workflowID := paramString(job.Parameters, "workflow_id", "")
	level := paramInt(job.Parameters, "level", 0)
	if workflowID == "" || level == 0 {
		return nil, apperr.InvalidInput("parameters", "workflow_id and level are required")
	}

	applied, err := h.workflows.HandleTimeout(ctx, workflowID, level)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &HandlerResult{
			Message: fmt.Sprintf("workflow %s no longer pending at level %d; no action", workflowID, level),
		}, nil
	}
	return &HandlerResult{
		Message: fmt.Sprintf("workflow %s timed out at level %d", workflowID, level),
		Data:    map[string]any{"workflow_id": workflowID, "level": level},
	}, nil
}

// ProcessWithdrawal completes an approved withdrawal request: the funds leave
// the savings account and the request is marked processed.
func (h *JobHandlers) ProcessWithdrawal(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	withdrawalID := paramString(job.Parameters, "withdrawal_id", "")
	if withdrawalID == "" && job.EntityID != nil {
		withdrawalID = *job.EntityID
	}
	if withdrawalID == "" {
		return nil, apperr.InvalidInput("withdrawal_id", "required parameter missing")
	}

	if err := h.members.UpdateWithdrawalStatus(ctx, withdrawalID, "processed"); err != nil {
		return nil, err
	}

	h.log.Info().Str("withdrawal_id", withdrawalID).Msg("Withdrawal processed")
	return &HandlerResult{
		Message: "processed withdrawal " + withdrawalID,
		Data:    map[string]any{"withdrawal_id": withdrawalID},
	}, nil
}
