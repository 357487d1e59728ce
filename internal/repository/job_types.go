package repository

import "time"

// JobStatus is the lifecycle state of a scheduled job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// JobType identifies the handler a job is routed to.
type JobType string

const (
	JobMonthlyInterest     JobType = "monthly_interest"
	JobInterestCalculation JobType = "interest_calculation" // legacy alias of monthly_interest
	JobPenaltyCalculation  JobType = "penalty_calculation"
	JobWorkflowTimeout     JobType = "workflow_timeout"
	JobAutoDisburse        JobType = "auto_disburse"
	JobAccountMaintenance  JobType = "account_maintenance"
	JobBackupDatabase      JobType = "backup_database"
	JobSendNotifications   JobType = "send_notifications"
	JobStatementGeneration JobType = "statement_generation"
	JobNotificationCleanup JobType = "notification_cleanup"
	JobMonthlySavings      JobType = "monthly_savings_deposit"
	JobProcessWithdrawal   JobType = "process_withdrawal"
)

// Job is one unit of deferred, durable work.
type Job struct {
	ID            string
	JobType       JobType
	JobName       *string // dedup key; nil on schemas without the column
	EntityID      *string
	Parameters    map[string]any
	Status        JobStatus
	Priority      int
	ScheduledAt   time.Time
	ExecutedAt    *time.Time
	CompletedAt   *time.Time
	ResultMessage *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobStats is a count of jobs per status, for audit queries.
type JobStats struct {
	Pending   int64
	Running   int64
	Completed int64
	Failed    int64
	Cancelled int64
}
