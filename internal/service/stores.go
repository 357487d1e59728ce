package service

import (
	"context"
	"time"

	"github.com/saccohq/be-coop-scheduler/internal/client"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// Store interfaces consumed by the services. The pgx repositories satisfy
// them; tests substitute in-memory fakes.

// TxRunner scopes a function to one database transaction; repository calls
// made with the scoped context join it. database.DB satisfies this.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// JobStore is the durable job queue.
type JobStore interface {
	Create(ctx context.Context, job *repository.Job) (string, error)
	SelectDue(ctx context.Context, now time.Time, limit int) ([]*repository.Job, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id, message string) error
	MarkFailed(ctx context.Context, id, message string) error
	Cancel(ctx context.Context, id string) (bool, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WorkflowStore persists workflow instances.
type WorkflowStore interface {
	Create(ctx context.Context, wf *repository.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error)
	GetActiveByEntity(ctx context.Context, entityType repository.EntityType, entityID string) (*repository.WorkflowInstance, error)
	Advance(ctx context.Context, id string, fromLevel int) error
	Complete(ctx context.Context, id string, status repository.WorkflowStatus, comments *string, completedAt time.Time) error
}

// TemplateStore resolves workflow templates and their levels.
type TemplateStore interface {
	FindMatching(ctx context.Context, entityType repository.EntityType, amount *float64) (*repository.WorkflowTemplate, error)
	GetLevel(ctx context.Context, templateID string, levelNumber int) (*repository.ApprovalLevel, error)
}

// AssignmentStore persists approval assignments and the action audit log.
type AssignmentStore interface {
	CreateBatch(ctx context.Context, assignments []*repository.ApprovalAssignment) error
	GetPending(ctx context.Context, workflowID, approverID string, level int) (*repository.ApprovalAssignment, error)
	RecordDecision(ctx context.Context, id string, status repository.AssignmentStatus, comments *string) error
	CancelPending(ctx context.Context, workflowID string) error
	CancelPendingAtLevel(ctx context.Context, workflowID string, level int) error
	AppendAction(ctx context.Context, action *repository.ApprovalAction) error
}

// UserDirectory resolves approvers by role.
type UserDirectory interface {
	ActiveUsersWithRoles(ctx context.Context, roles []string) ([]*repository.Approver, error)
}

// NotificationStore is the pair of retryable delivery queues.
type NotificationStore interface {
	EnqueueEmail(ctx context.Context, item *repository.EmailQueueItem) error
	EnqueueSMS(ctx context.Context, item *repository.SMSQueueItem) error
	PendingEmails(ctx context.Context, now time.Time, limit int) ([]*repository.EmailQueueItem, error)
	PendingSMS(ctx context.Context, now time.Time, limit int) ([]*repository.SMSQueueItem, error)
	MarkSending(ctx context.Context, table, id string) (bool, error)
	MarkSent(ctx context.Context, table, id string) error
	MarkFailure(ctx context.Context, table, id, errMsg string, nextAttemptAt time.Time) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoanStore is the loan/interest/penalty data-access path.
type LoanStore interface {
	GetByID(ctx context.Context, id string) (*repository.Loan, error)
	AccruableLoans(ctx context.Context, targetDate time.Time, period string) ([]*repository.Loan, error)
	PostInterest(ctx context.Context, loan *repository.Loan, period string, amount float64) error
	OverdueSchedules(ctx context.Context, targetDate time.Time) ([]*repository.PaymentSchedule, error)
	ApplyPenalty(ctx context.Context, sched *repository.PaymentSchedule, targetDate time.Time, amount float64) error
	Disburse(ctx context.Context, loan *repository.Loan, now time.Time) error
	UpdateStatus(ctx context.Context, id, status string) error
}

// MemberStore covers members, savings and statements.
type MemberStore interface {
	GetByID(ctx context.Context, id string) (*repository.Member, error)
	Activate(ctx context.Context, id string) error
	UpdateWithdrawalStatus(ctx context.Context, id, status string) error
	PendingDeposits(ctx context.Context, period string) ([]*repository.SavingsDeposit, error)
	PostDeposit(ctx context.Context, dep *repository.SavingsDeposit, tag string) error
	StatementMembers(ctx context.Context, from, to time.Time, memberID *string, limit int) ([]string, error)
	HasStatement(ctx context.Context, memberID string, periodStart time.Time) (bool, error)
	CreateStatement(ctx context.Context, st *repository.MemberStatement) error
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RefreshCreditScores(ctx context.Context) (int64, error)
}

// EmailSender is the external email gateway collaborator.
type EmailSender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// SMSSender is the external SMS gateway collaborator.
type SMSSender interface {
	Send(ctx context.Context, phone, message string) error
}

// EventSink publishes lifecycle events (best-effort).
type EventSink interface {
	Publish(ctx context.Context, eventType string, event *client.Event)
}
