package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// TimeoutProcessor is the workflow engine operation the timeout handler
// delegates to.
type TimeoutProcessor interface {
	HandleTimeout(ctx context.Context, workflowID string, level int) (bool, error)
}

// JobHandlers holds every job handler and its collaborators.
type JobHandlers struct {
	loans     LoanStore
	members   MemberStore
	notes     NotificationStore
	jobs      JobStore
	email     EmailSender
	sms       SMSSender
	workflows TimeoutProcessor
	events    EventSink
	backupDir string
	log       zerolog.Logger
	now       func() time.Time
}

// NewJobHandlers wires the handler set.
func NewJobHandlers(
	loans LoanStore,
	members MemberStore,
	notes NotificationStore,
	jobs JobStore,
	email EmailSender,
	sms SMSSender,
	workflows TimeoutProcessor,
	events EventSink,
	backupDir string,
	log zerolog.Logger,
) *JobHandlers {
	return &JobHandlers{
		loans:     loans,
		members:   members,
		notes:     notes,
		jobs:      jobs,
		email:     email,
		sms:       sms,
		workflows: workflows,
		events:    events,
		backupDir: backupDir,
		log:       log,
		now:       time.Now,
	}
}

// RegisterAll binds every job type to its handler. The registry is closed
// after this call; an unhandled type can only come from bad data, never from
// a missing binding.
func (h *JobHandlers) RegisterAll(d *Dispatcher) {
	d.Register(repository.JobMonthlyInterest, h.MonthlyInterest)
	d.Register(repository.JobInterestCalculation, h.MonthlyInterest) // legacy alias
	d.Register(repository.JobPenaltyCalculation, h.PenaltyAssessment)
	d.Register(repository.JobWorkflowTimeout, h.WorkflowTimeout)
	d.Register(repository.JobAutoDisburse, h.AutoDisburse)
	d.Register(repository.JobAccountMaintenance, h.AccountMaintenance)
	d.Register(repository.JobBackupDatabase, h.BackupDatabase)
	d.Register(repository.JobSendNotifications, h.SendNotifications)
	d.Register(repository.JobStatementGeneration, h.StatementGeneration)
	d.Register(repository.JobNotificationCleanup, h.NotificationCleanup)
	d.Register(repository.JobMonthlySavings, h.MonthlySavingsDeposit)
	d.Register(repository.JobProcessWithdrawal, h.ProcessWithdrawal)
}
