package repository

import "time"

// ── Members, loans, savings ──────────────────────────────────────────────────

// Member is a society member (narrow view: fields the core reads and mutates).
type Member struct {
	ID          string
	FullName    string
	Email       *string
	Phone       *string
	Status      string // pending | active | suspended | closed
	CreditScore *int
}

// Loan is a member loan as seen by the scheduler core.
type Loan struct {
	ID              string
	MemberID        string
	Status          string // pending | approved | disbursed | active | closed | rejected
	Principal       float64
	AmountPaid      float64
	Balance         float64
	InterestRate    float64 // annual percentage; 0 = use the run default
	AccruedInterest float64
	AutoDisburse    bool
	DisbursedAt     *time.Time
	CreatedAt       time.Time
}

// PaymentSchedule is one repayment installment row.
type PaymentSchedule struct {
	ID              string
	LoanID          string
	MemberID        string
	DueDate         time.Time
	AmountDue       float64
	Outstanding     float64
	PenaltyAmount   float64
	GraceDays       int
	LastPenaltyDate *time.Time
}

// SavingsDeposit is one monthly deposit row, posted by the savings job.
type SavingsDeposit struct {
	ID          string
	AccountID   string
	MemberID    string
	Period      string // YYYY-MM
	Amount      float64
	Status      string // pending | posted | skipped
	Description string
}

// MemberStatement is one generated statement row per member and period.
type MemberStatement struct {
	ID             string
	MemberID       string
	Reference      string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	OpeningBalance float64
	ClosingBalance float64
	TotalCredits   float64
	TotalDebits    float64
	GeneratedAt    time.Time
}

// ── Notification queues ──────────────────────────────────────────────────────

// NotificationStatus is the delivery state of a queued notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// EmailQueueItem is one retryable email delivery.
type EmailQueueItem struct {
	ID           string
	Recipient    string
	Subject      string
	Body         string
	Status       NotificationStatus
	Attempts     int
	MaxAttempts  int
	Priority     int
	ScheduledAt  time.Time
	ErrorMessage *string
}

// SMSQueueItem is one retryable SMS delivery.
type SMSQueueItem struct {
	ID           string
	Phone        string
	Message      string
	Status       NotificationStatus
	Attempts     int
	MaxAttempts  int
	Priority     int
	ScheduledAt  time.Time
	ErrorMessage *string
}
