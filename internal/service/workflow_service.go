package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/client"
	"github.com/saccohq/be-coop-scheduler/internal/metrics"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// JobScheduler is the slice of the scheduler the workflow engine uses to
// plant level-timeout and completion jobs.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, jobType repository.JobType, entityID *string, runAt time.Time, params map[string]any, priority int) (string, error)
}

// WorkflowService drives entities through sequential approval levels.
// Transitions are triggered both synchronously (ProcessApproval) and
// asynchronously (HandleTimeout, invoked by the timeout job handler). Every
// public call runs its reads and writes in one transaction.
type WorkflowService struct {
	db          TxRunner
	workflows   WorkflowStore
	templates   TemplateStore
	assignments AssignmentStore
	users       UserDirectory
	notes       NotificationStore
	scheduler   JobScheduler
	loans       LoanStore
	members     MemberStore
	events      EventSink
	log         zerolog.Logger
	now         func() time.Time
}

// NewWorkflowService wires the workflow engine.
func NewWorkflowService(
	db TxRunner,
	workflows WorkflowStore,
	templates TemplateStore,
	assignments AssignmentStore,
	users UserDirectory,
	notes NotificationStore,
	scheduler JobScheduler,
	loans LoanStore,
	members MemberStore,
	events EventSink,
	log zerolog.Logger,
) *WorkflowService {
	return &WorkflowService{
		db:          db,
		workflows:   workflows,
		templates:   templates,
		assignments: assignments,
		users:       users,
		notes:       notes,
		scheduler:   scheduler,
		loans:       loans,
		members:     members,
		events:      events,
		log:         log,
		now:         time.Now,
	}
}

// ── Workflow creation ─────────────────────────────────────────────────────────

// StartWorkflow selects the narrowest matching active template for the entity,
// creates the instance at level 1 and immediately opens level 1, all in one
// transaction. Fails with nothing persisted when the entity already has a
// pending workflow, no template matches, or level 1 has no resolvable
// approvers.
func (s *WorkflowService) StartWorkflow(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
	amount *float64,
	requestedBy string,
) (*repository.WorkflowInstance, error) {
	var wf *repository.WorkflowInstance
	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		wf, err = s.start(ctx, entityType, entityID, amount, requestedBy)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.WorkflowsStarted.Inc()
	s.events.Publish(ctx, "workflow_started", &client.Event{
		EntityType: string(entityType),
		EntityID:   entityID,
		ActorID:    requestedBy,
		Payload:    map[string]any{"workflow_id": wf.ID, "total_levels": wf.TotalLevels},
	})

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("entity_type", string(entityType)).
		Str("entity_id", entityID).
		Int("total_levels", wf.TotalLevels).
		Msg("Workflow started")

	return wf, nil
}

func (s *WorkflowService) start(
	ctx context.Context,
	entityType repository.EntityType,
	entityID string,
	amount *float64,
	requestedBy string,
) (*repository.WorkflowInstance, error) {
	active, err := s.workflows.GetActiveByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperr.Conflict(fmt.Sprintf("entity %s already has workflow %s pending", entityID, active.ID))
	}

	tpl, err := s.templates.FindMatching(ctx, entityType, amount)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperr.Conflict(fmt.Sprintf("no active workflow template for %s", entityType))
	}
	if len(tpl.Levels) == 0 {
		return nil, apperr.Conflict(fmt.Sprintf("template %s has no approval levels", tpl.ID))
	}

	// Resolve level 1 before writing anything so a refused workflow never
	// leaves a pending instance behind the active-entity guard.
	approvers, err := s.resolveApprovers(ctx, tpl.Levels[0])
	if err != nil {
		return nil, err
	}

	wf := &repository.WorkflowInstance{
		EntityType:   entityType,
		EntityID:     entityID,
		TemplateID:   tpl.ID,
		CurrentLevel: 1,
		TotalLevels:  len(tpl.Levels),
		Status:       repository.WorkflowPending,
		Amount:       amount,
		RequestedBy:  requestedBy,
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	if err := s.openLevel(ctx, wf, tpl.Levels[0], approvers); err != nil {
		return nil, err
	}
	return wf, nil
}

// resolveApprovers returns the active holders of a level's required roles.
// A level with zero resolvable approvers is a hard failure: the workflow
// cannot proceed through it.
func (s *WorkflowService) resolveApprovers(ctx context.Context, level *repository.ApprovalLevel) ([]*repository.Approver, error) {
	approvers, err := s.users.ActiveUsersWithRoles(ctx, level.RequiredRoles)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		return nil, apperr.Conflict(fmt.Sprintf(
			"no active approvers for level %d (roles %v)",
			level.LevelNumber, level.RequiredRoles))
	}
	return approvers, nil
}

// openLevel creates the level's pending assignments, notifies the approvers,
// and plants the level timeout job when the level defines one. Callers resolve
// the approvers first; this only writes.
func (s *WorkflowService) openLevel(ctx context.Context, wf *repository.WorkflowInstance, level *repository.ApprovalLevel, approvers []*repository.Approver) error {
	assignments := make([]*repository.ApprovalAssignment, 0, len(approvers))
	for _, a := range approvers {
		assignments = append(assignments, &repository.ApprovalAssignment{
			WorkflowID: wf.ID,
			ApproverID: a.ID,
			Level:      level.LevelNumber,
		})
	}
	if err := s.assignments.CreateBatch(ctx, assignments); err != nil {
		return err
	}

	for _, a := range approvers {
		s.notifyApprover(ctx, wf, a, level.LevelNumber)
	}

	if level.TimeoutHours > 0 {
		runAt := s.now().Add(time.Duration(level.TimeoutHours) * time.Hour)
		params := map[string]any{"workflow_id": wf.ID, "level": level.LevelNumber}
		if _, err := s.scheduler.ScheduleJob(ctx, repository.JobWorkflowTimeout, &wf.ID, runAt, params, DefaultPriority+2); err != nil {
			return err
		}
	}

	s.events.Publish(ctx, "approval_required", &client.Event{
		EntityType: string(wf.EntityType),
		EntityID:   wf.EntityID,
		Payload:    map[string]any{"workflow_id": wf.ID, "level": level.LevelNumber, "approvers": len(approvers)},
	})
	return nil
}

// ── Approval processing ───────────────────────────────────────────────────────

// ProcessApproval applies one approver's decision at the workflow's current
// level, in one transaction. The acting identity is always explicit; holding
// a pending assignment at the current level is both the permission and the
// staleness check.
func (s *WorkflowService) ProcessApproval(
	ctx context.Context,
	workflowID, approverID string,
	decision repository.ApprovalDecision,
	comments *string,
) (*repository.WorkflowInstance, error) {
	var wf *repository.WorkflowInstance
	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		wf, err = s.processApproval(ctx, workflowID, approverID, decision, comments)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (s *WorkflowService) processApproval(
	ctx context.Context,
	workflowID, approverID string,
	decision repository.ApprovalDecision,
	comments *string,
) (*repository.WorkflowInstance, error) {
	switch decision {
	case repository.DecisionApprove, repository.DecisionReject, repository.DecisionRequestChanges:
	default:
		return nil, apperr.InvalidInput("action", fmt.Sprintf("unknown decision %q", decision))
	}

	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != repository.WorkflowPending {
		return nil, apperr.Conflict(fmt.Sprintf("workflow is not pending (status: %s)", wf.Status))
	}

	assignment, err := s.assignments.GetPending(ctx, workflowID, approverID, wf.CurrentLevel)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, apperr.New(apperr.CodeUnauthorized,
			fmt.Sprintf("approver %s holds no pending assignment at level %d", approverID, wf.CurrentLevel))
	}

	if decision == repository.DecisionApprove && wf.CurrentLevel < wf.TotalLevels {
		return s.advance(ctx, wf, assignment, comments)
	}

	if err := s.record(ctx, wf, assignment, decision, comments); err != nil {
		return nil, err
	}

	switch decision {
	case repository.DecisionApprove:
		return s.complete(ctx, wf, repository.WorkflowApproved, comments, approverID)
	case repository.DecisionReject:
		return s.complete(ctx, wf, repository.WorkflowRejected, comments, approverID)
	default:
		return s.complete(ctx, wf, repository.WorkflowChangesRequested, comments, approverID)
	}
}

// record appends the audit action and flips the approver's assignment. Runs
// only after the transition has been validated, so a refused transition
// leaves the assignment decidable.
func (s *WorkflowService) record(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	assignment *repository.ApprovalAssignment,
	decision repository.ApprovalDecision,
	comments *string,
) error {
	if err := s.assignments.AppendAction(ctx, &repository.ApprovalAction{
		WorkflowID: wf.ID,
		ApproverID: assignment.ApproverID,
		Action:     string(decision),
		Level:      wf.CurrentLevel,
		Comments:   comments,
	}); err != nil {
		return err
	}
	return s.assignments.RecordDecision(ctx, assignment.ID, decisionStatus(decision), comments)
}

// advance applies a mid-workflow approval. The next level is resolved and
// validated before anything is written, so a level with no resolvable
// approvers refuses the decision and leaves the workflow decidable where it
// stands.
func (s *WorkflowService) advance(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	assignment *repository.ApprovalAssignment,
	comments *string,
) (*repository.WorkflowInstance, error) {
	next, err := s.templates.GetLevel(ctx, wf.TemplateID, wf.CurrentLevel+1)
	if err != nil {
		return nil, err
	}
	approvers, err := s.resolveApprovers(ctx, next)
	if err != nil {
		return nil, err
	}

	if err := s.record(ctx, wf, assignment, repository.DecisionApprove, comments); err != nil {
		return nil, err
	}

	// Next-level assignments stay inert until the level bump lands: pending
	// lookups pin the workflow's current level.
	if err := s.openLevel(ctx, wf, next, approvers); err != nil {
		return nil, err
	}
	if err := s.workflows.Advance(ctx, wf.ID, wf.CurrentLevel); err != nil {
		return nil, err
	}
	if err := s.assignments.CancelPendingAtLevel(ctx, wf.ID, wf.CurrentLevel); err != nil {
		return nil, err
	}
	wf.CurrentLevel++

	s.log.Info().
		Str("workflow_id", wf.ID).
		Int("level", wf.CurrentLevel).
		Msg("Workflow advanced")
	return wf, nil
}

// complete drives the workflow to a terminal status exactly once, cancels all
// still-pending assignments, and fans out the entity-specific completion
// actions.
func (s *WorkflowService) complete(
	ctx context.Context,
	wf *repository.WorkflowInstance,
	status repository.WorkflowStatus,
	comments *string,
	actorID string,
) (*repository.WorkflowInstance, error) {
	if err := s.workflows.Complete(ctx, wf.ID, status, comments, s.now()); err != nil {
		return nil, err
	}
	if err := s.assignments.CancelPending(ctx, wf.ID); err != nil {
		return nil, err
	}
	wf.Status = status

	if err := s.applyCompletion(ctx, wf, status); err != nil {
		return nil, err
	}

	metrics.WorkflowsCompleted.WithLabelValues(string(status)).Inc()
	s.events.Publish(ctx, "workflow_completed", &client.Event{
		EntityType: string(wf.EntityType),
		EntityID:   wf.EntityID,
		ActorID:    actorID,
		Payload:    map[string]any{"workflow_id": wf.ID, "status": string(status)},
	})

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("status", string(status)).
		Msg("Workflow completed")
	return wf, nil
}

// applyCompletion performs the entity-specific side effects of a terminal
// transition. Timeout leaves the business entity untouched; the requester is
// notified instead.
func (s *WorkflowService) applyCompletion(ctx context.Context, wf *repository.WorkflowInstance, status repository.WorkflowStatus) error {
	if status == repository.WorkflowTimedOut {
		s.notifyRequester(ctx, wf, "Approval timed out",
			"Your request was not decided within the allotted time and has expired.")
		return nil
	}

	switch wf.EntityType {
	case repository.EntityLoan:
		return s.completeLoan(ctx, wf, status)
	case repository.EntityMemberRegistration:
		return s.completeRegistration(ctx, wf, status)
	case repository.EntityWithdrawal:
		return s.completeWithdrawal(ctx, wf, status)
	}
	return apperr.InvalidInput("entity_type", string(wf.EntityType))
}

func (s *WorkflowService) completeLoan(ctx context.Context, wf *repository.WorkflowInstance, status repository.WorkflowStatus) error {
	switch status {
	case repository.WorkflowApproved:
		if err := s.loans.UpdateStatus(ctx, wf.EntityID, "approved"); err != nil {
			return err
		}
		loan, err := s.loans.GetByID(ctx, wf.EntityID)
		if err != nil {
			return err
		}
		if loan.AutoDisburse {
			params := map[string]any{"loan_id": wf.EntityID}
			if _, err := s.scheduler.ScheduleJob(ctx, repository.JobAutoDisburse, &wf.EntityID, s.now(), params, DefaultPriority+1); err != nil {
				return err
			}
		}
		return nil
	case repository.WorkflowRejected:
		return s.loans.UpdateStatus(ctx, wf.EntityID, "rejected")
	case repository.WorkflowChangesRequested:
		return s.loans.UpdateStatus(ctx, wf.EntityID, "revision_requested")
	}
	return nil
}

func (s *WorkflowService) completeRegistration(ctx context.Context, wf *repository.WorkflowInstance, status repository.WorkflowStatus) error {
	if status != repository.WorkflowApproved {
		s.notifyRequester(ctx, wf, "Registration not approved",
			"Your membership application was not approved.")
		return nil
	}

	if err := s.members.Activate(ctx, wf.EntityID); err != nil {
		return err
	}

	member, err := s.members.GetByID(ctx, wf.EntityID)
	if err != nil {
		return err
	}
	if member.Email != nil {
		item := &repository.EmailQueueItem{
			Recipient: *member.Email,
			Subject:   "Welcome to the society",
			Body:      fmt.Sprintf("Dear %s, your membership has been approved. Welcome!", member.FullName),
			Priority:  DefaultPriority + 1,
		}
		if err := s.notes.EnqueueEmail(ctx, item); err != nil {
			s.log.Warn().Err(err).Str("member_id", member.ID).Msg("Welcome email enqueue failed")
		}
	}
	return nil
}

func (s *WorkflowService) completeWithdrawal(ctx context.Context, wf *repository.WorkflowInstance, status repository.WorkflowStatus) error {
	if status != repository.WorkflowApproved {
		return s.members.UpdateWithdrawalStatus(ctx, wf.EntityID, "rejected")
	}
	if err := s.members.UpdateWithdrawalStatus(ctx, wf.EntityID, "approved"); err != nil {
		return err
	}
	_, err := s.scheduler.ScheduleJob(ctx, repository.JobProcessWithdrawal, &wf.EntityID, s.now(),
		map[string]any{"withdrawal_id": wf.EntityID}, DefaultPriority)
	return err
}

// ── Timeout path ──────────────────────────────────────────────────────────────

// HandleTimeout applies a scheduled level timeout in one transaction. Returns
// false without action when the workflow already advanced past the targeted
// level or reached a terminal status: the timeout raced a human decision and
// lost.
func (s *WorkflowService) HandleTimeout(ctx context.Context, workflowID string, level int) (bool, error) {
	var applied bool
	err := s.db.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		applied, err = s.handleTimeout(ctx, workflowID, level)
		return err
	})
	return applied, err
}

func (s *WorkflowService) handleTimeout(ctx context.Context, workflowID string, level int) (bool, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if wf.Status != repository.WorkflowPending || wf.CurrentLevel != level {
		return false, nil
	}

	comments := fmt.Sprintf("timed out at level %d", level)
	if _, err := s.complete(ctx, wf, repository.WorkflowTimedOut, &comments, "system"); err != nil {
		return false, err
	}
	return true, nil
}

// ── Notification helpers ──────────────────────────────────────────────────────

// notifyApprover enqueues an approval request. Best-effort: a failed enqueue
// never fails the level transition.
func (s *WorkflowService) notifyApprover(ctx context.Context, wf *repository.WorkflowInstance, approver *repository.Approver, level int) {
	item := &repository.EmailQueueItem{
		Recipient: approver.Email,
		Subject:   fmt.Sprintf("Approval required: %s %s", wf.EntityType, wf.EntityID),
		Body: fmt.Sprintf(
			"An approval is awaiting your action at level %d of %d.\nRequested by: %s",
			level, wf.TotalLevels, wf.RequestedBy),
		Priority: DefaultPriority + 1,
	}
	if err := s.notes.EnqueueEmail(ctx, item); err != nil {
		s.log.Warn().Err(err).
			Str("workflow_id", wf.ID).
			Str("approver_id", approver.ID).
			Msg("Approval request enqueue failed")
	}
}

func (s *WorkflowService) notifyRequester(ctx context.Context, wf *repository.WorkflowInstance, subject, body string) {
	member, err := s.members.GetByID(ctx, wf.RequestedBy)
	if err != nil || member.Email == nil {
		return
	}
	item := &repository.EmailQueueItem{
		Recipient: *member.Email,
		Subject:   subject,
		Body:      body,
		Priority:  DefaultPriority,
	}
	if err := s.notes.EnqueueEmail(ctx, item); err != nil {
		s.log.Warn().Err(err).Str("workflow_id", wf.ID).Msg("Requester notice enqueue failed")
	}
}

func decisionStatus(d repository.ApprovalDecision) repository.AssignmentStatus {
	switch d {
	case repository.DecisionApprove:
		return repository.AssignmentApproved
	case repository.DecisionReject:
		return repository.AssignmentRejected
	case repository.DecisionRequestChanges:
		return repository.AssignmentChangesWanted
	}
	return repository.AssignmentCancelled
}
