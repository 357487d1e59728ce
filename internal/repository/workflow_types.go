package repository

import "time"

// ── Approval workflow domain types ───────────────────────────────────────────

// EntityType names the kind of business record a workflow is bound to.
type EntityType string

const (
	EntityLoan               EntityType = "loan"
	EntityMemberRegistration EntityType = "member_registration"
	EntityWithdrawal         EntityType = "withdrawal"
)

// WorkflowStatus is the lifecycle state of a workflow instance.
type WorkflowStatus string

const (
	WorkflowPending          WorkflowStatus = "pending"
	WorkflowApproved         WorkflowStatus = "approved"
	WorkflowRejected         WorkflowStatus = "rejected"
	WorkflowChangesRequested WorkflowStatus = "changes_requested"
	WorkflowTimedOut         WorkflowStatus = "timeout"
)

// Terminal reports whether no further transition is defined from s.
func (s WorkflowStatus) Terminal() bool { return s != WorkflowPending }

// ApprovalDecision is the action an approver takes on an assignment.
type ApprovalDecision string

const (
	DecisionApprove        ApprovalDecision = "approve"
	DecisionReject         ApprovalDecision = "reject"
	DecisionRequestChanges ApprovalDecision = "request_changes"
)

// WorkflowTemplate is static routing configuration per entity type. For loans
// the amount range scopes which template applies.
type WorkflowTemplate struct {
	ID         string
	EntityType EntityType
	Name       string
	IsActive   bool
	MinAmount  *float64 // nil = no lower bound
	MaxAmount  *float64 // nil = no upper bound
	Priority   int
	Levels     []*ApprovalLevel
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ApprovalLevel is one stage of a template.
type ApprovalLevel struct {
	ID            string
	TemplateID    string
	LevelNumber   int
	RequiredRoles []string
	TimeoutHours  int // 0 = no timeout job scheduled for this level
	Priority      int
}

// WorkflowInstance is one in-flight approval process bound to a business entity.
type WorkflowInstance struct {
	ID            string
	EntityType    EntityType
	EntityID      string
	TemplateID    string
	CurrentLevel  int
	TotalLevels   int
	Status        WorkflowStatus
	Amount        *float64
	RequestedBy   string
	FinalComments *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// AssignmentStatus is the state of one approver's obligation at one level.
type AssignmentStatus string

const (
	AssignmentPending       AssignmentStatus = "pending"
	AssignmentApproved      AssignmentStatus = "approve"
	AssignmentRejected      AssignmentStatus = "reject"
	AssignmentChangesWanted AssignmentStatus = "request_changes"
	AssignmentCancelled     AssignmentStatus = "cancelled"
)

// ApprovalAssignment is one (workflow, approver, level) obligation.
type ApprovalAssignment struct {
	ID         string
	WorkflowID string
	ApproverID string
	Level      int
	Status     AssignmentStatus
	AssignedAt time.Time
	ActionAt   *time.Time
	Comments   *string
}

// ApprovalAction is one immutable audit record of a decision taken.
type ApprovalAction struct {
	ID         string
	WorkflowID string
	ApproverID string
	Action     string
	Level      int
	Comments   *string
	CreatedAt  time.Time
}

// Approver is an active user resolved from the role directory.
type Approver struct {
	ID       string
	FullName string
	Email    string
	Role     string
}
