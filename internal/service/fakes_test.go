package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/client"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// In-memory fakes implementing the store interfaces with the same state-pin
// semantics as the pgx repositories.

// fakeTxRunner runs the function directly; the fakes are not transactional,
// so tests assert stepwise consistency rather than rollback.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ── job store ────────────────────────────────────────────────────────────────

type fakeJobStore struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*repository.Job
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*repository.Job{}}
}

// Create mirrors the repository's lookup-insert-recheck shape: the lookup and
// the insert are separate critical sections, so racing creators can both pass
// the lookup and must converge on the canonical row afterwards.
func (s *fakeJobStore) Create(ctx context.Context, job *repository.Job) (string, error) {
	if job.JobName != nil {
		if id := s.findActiveByName(*job.JobName); id != "" {
			return id, nil
		}
	}
	s.mu.Lock()
	s.seq++
	job.ID = fmt.Sprintf("job-%d", s.seq)
	job.Status = repository.JobPending
	job.CreatedAt = time.Now()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	if job.JobName != nil {
		if id := s.findActiveByName(*job.JobName); id != "" && id != job.ID {
			s.mu.Lock()
			delete(s.jobs, job.ID)
			s.mu.Unlock()
			return id, nil
		}
	}
	return job.ID, nil
}

// findActiveByName returns the oldest non-terminal job carrying the name.
func (s *fakeJobStore) findActiveByName(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	best := ""
	for id, existing := range s.jobs {
		if existing.JobName == nil || *existing.JobName != name {
			continue
		}
		if existing.Status != repository.JobPending && existing.Status != repository.JobRunning {
			continue
		}
		if best == "" || len(id) < len(best) || (len(id) == len(best) && id < best) {
			best = id
		}
	}
	return best
}

func (s *fakeJobStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]*repository.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*repository.Job
	for _, job := range s.jobs {
		if job.Status == repository.JobPending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID < due[j].ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *fakeJobStore) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != repository.JobPending {
		return false, nil
	}
	job.Status = repository.JobRunning
	job.ExecutedAt = &now
	return true, nil
}

func (s *fakeJobStore) MarkCompleted(ctx context.Context, id, message string) error {
	return s.finalize(id, repository.JobCompleted, message)
}

func (s *fakeJobStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.finalize(id, repository.JobFailed, message)
}

func (s *fakeJobStore) finalize(id string, status repository.JobStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != repository.JobRunning {
		return apperr.Conflict("job is not running: " + id)
	}
	now := time.Now()
	job.Status = status
	job.CompletedAt = &now
	job.ResultMessage = &message
	return nil
}

func (s *fakeJobStore) Cancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != repository.JobPending {
		return false, nil
	}
	job.Status = repository.JobCancelled
	return true, nil
}

func (s *fakeJobStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, job := range s.jobs {
		switch job.Status {
		case repository.JobCompleted, repository.JobFailed, repository.JobCancelled:
			if job.CompletedAt == nil || job.CompletedAt.Before(cutoff) {
				delete(s.jobs, id)
				removed++
			}
		}
	}
	return removed, nil
}

func (s *fakeJobStore) get(id string) *repository.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *fakeJobStore) byType(jobType repository.JobType) []*repository.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Job
	for _, job := range s.jobs {
		if job.JobType == jobType {
			out = append(out, job)
		}
	}
	return out
}

// ── workflow store ───────────────────────────────────────────────────────────

type fakeWorkflowStore struct {
	seq       int
	instances map[string]*repository.WorkflowInstance
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{instances: map[string]*repository.WorkflowInstance{}}
}

func (s *fakeWorkflowStore) Create(ctx context.Context, wf *repository.WorkflowInstance) error {
	s.seq++
	wf.ID = fmt.Sprintf("wf-%d", s.seq)
	wf.CreatedAt = time.Now()
	stored := *wf
	s.instances[wf.ID] = &stored
	return nil
}

func (s *fakeWorkflowStore) GetByID(ctx context.Context, id string) (*repository.WorkflowInstance, error) {
	wf, ok := s.instances[id]
	if !ok {
		return nil, apperr.NotFound("workflow_instance", id)
	}
	copied := *wf
	return &copied, nil
}

func (s *fakeWorkflowStore) GetActiveByEntity(ctx context.Context, entityType repository.EntityType, entityID string) (*repository.WorkflowInstance, error) {
	for _, wf := range s.instances {
		if wf.EntityType == entityType && wf.EntityID == entityID && wf.Status == repository.WorkflowPending {
			copied := *wf
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeWorkflowStore) Advance(ctx context.Context, id string, fromLevel int) error {
	wf, ok := s.instances[id]
	if !ok || wf.Status != repository.WorkflowPending || wf.CurrentLevel != fromLevel {
		return apperr.Conflict("workflow is not pending at the expected level")
	}
	wf.CurrentLevel++
	return nil
}

func (s *fakeWorkflowStore) Complete(ctx context.Context, id string, status repository.WorkflowStatus, comments *string, completedAt time.Time) error {
	wf, ok := s.instances[id]
	if !ok || wf.Status != repository.WorkflowPending {
		return apperr.Conflict("workflow already reached a terminal status")
	}
	wf.Status = status
	wf.FinalComments = comments
	wf.CompletedAt = &completedAt
	return nil
}

// ── template store ───────────────────────────────────────────────────────────

type fakeTemplateStore struct {
	templates []*repository.WorkflowTemplate
}

func (s *fakeTemplateStore) FindMatching(ctx context.Context, entityType repository.EntityType, amount *float64) (*repository.WorkflowTemplate, error) {
	var candidates []*repository.WorkflowTemplate
	for _, tpl := range s.templates {
		if tpl.EntityType == entityType && tpl.IsActive {
			candidates = append(candidates, tpl)
		}
	}
	return repository.SelectTemplate(candidates, amount), nil
}

func (s *fakeTemplateStore) GetLevel(ctx context.Context, templateID string, levelNumber int) (*repository.ApprovalLevel, error) {
	for _, tpl := range s.templates {
		if tpl.ID != templateID {
			continue
		}
		for _, level := range tpl.Levels {
			if level.LevelNumber == levelNumber {
				return level, nil
			}
		}
	}
	return nil, apperr.NotFound("approval_level", templateID)
}

// ── assignment store ─────────────────────────────────────────────────────────

type fakeAssignmentStore struct {
	seq         int
	assignments []*repository.ApprovalAssignment
	actions     []*repository.ApprovalAction
}

func (s *fakeAssignmentStore) CreateBatch(ctx context.Context, assignments []*repository.ApprovalAssignment) error {
	for _, a := range assignments {
		s.seq++
		a.ID = fmt.Sprintf("asg-%d", s.seq)
		a.Status = repository.AssignmentPending
		a.AssignedAt = time.Now()
		s.assignments = append(s.assignments, a)
	}
	return nil
}

func (s *fakeAssignmentStore) GetPending(ctx context.Context, workflowID, approverID string, level int) (*repository.ApprovalAssignment, error) {
	for _, a := range s.assignments {
		if a.WorkflowID == workflowID && a.ApproverID == approverID &&
			a.Level == level && a.Status == repository.AssignmentPending {
			return a, nil
		}
	}
	return nil, nil
}

func (s *fakeAssignmentStore) RecordDecision(ctx context.Context, id string, status repository.AssignmentStatus, comments *string) error {
	for _, a := range s.assignments {
		if a.ID == id && a.Status == repository.AssignmentPending {
			now := time.Now()
			a.Status = status
			a.Comments = comments
			a.ActionAt = &now
			return nil
		}
	}
	return apperr.Conflict("assignment is not pending: " + id)
}

func (s *fakeAssignmentStore) CancelPending(ctx context.Context, workflowID string) error {
	for _, a := range s.assignments {
		if a.WorkflowID == workflowID && a.Status == repository.AssignmentPending {
			a.Status = repository.AssignmentCancelled
		}
	}
	return nil
}

func (s *fakeAssignmentStore) CancelPendingAtLevel(ctx context.Context, workflowID string, level int) error {
	for _, a := range s.assignments {
		if a.WorkflowID == workflowID && a.Level == level && a.Status == repository.AssignmentPending {
			a.Status = repository.AssignmentCancelled
		}
	}
	return nil
}

func (s *fakeAssignmentStore) AppendAction(ctx context.Context, action *repository.ApprovalAction) error {
	action.CreatedAt = time.Now()
	s.actions = append(s.actions, action)
	return nil
}

func (s *fakeAssignmentStore) pendingFor(workflowID string, level int) []*repository.ApprovalAssignment {
	var out []*repository.ApprovalAssignment
	for _, a := range s.assignments {
		if a.WorkflowID == workflowID && a.Level == level && a.Status == repository.AssignmentPending {
			out = append(out, a)
		}
	}
	return out
}

// ── user directory ───────────────────────────────────────────────────────────

type fakeUserDirectory struct {
	byRole map[string][]*repository.Approver
}

func (s *fakeUserDirectory) ActiveUsersWithRoles(ctx context.Context, roles []string) ([]*repository.Approver, error) {
	seen := map[string]bool{}
	var out []*repository.Approver
	for _, role := range roles {
		for _, a := range s.byRole[role] {
			if !seen[a.ID] {
				seen[a.ID] = true
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// ── notification store ───────────────────────────────────────────────────────

type fakeNotificationStore struct {
	seq    int
	emails []*repository.EmailQueueItem
	sms    []*repository.SMSQueueItem
}

func (s *fakeNotificationStore) EnqueueEmail(ctx context.Context, item *repository.EmailQueueItem) error {
	s.seq++
	item.ID = fmt.Sprintf("email-%d", s.seq)
	item.Status = repository.NotificationPending
	if item.MaxAttempts == 0 {
		item.MaxAttempts = 3
	}
	s.emails = append(s.emails, item)
	return nil
}

func (s *fakeNotificationStore) EnqueueSMS(ctx context.Context, item *repository.SMSQueueItem) error {
	s.seq++
	item.ID = fmt.Sprintf("sms-%d", s.seq)
	item.Status = repository.NotificationPending
	if item.MaxAttempts == 0 {
		item.MaxAttempts = 3
	}
	s.sms = append(s.sms, item)
	return nil
}

func (s *fakeNotificationStore) PendingEmails(ctx context.Context, now time.Time, limit int) ([]*repository.EmailQueueItem, error) {
	var out []*repository.EmailQueueItem
	for _, item := range s.emails {
		if item.Status == repository.NotificationPending && !item.ScheduledAt.After(now) {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeNotificationStore) PendingSMS(ctx context.Context, now time.Time, limit int) ([]*repository.SMSQueueItem, error) {
	var out []*repository.SMSQueueItem
	for _, item := range s.sms {
		if item.Status == repository.NotificationPending && !item.ScheduledAt.After(now) {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeNotificationStore) MarkSending(ctx context.Context, table, id string) (bool, error) {
	if table == "email_queue" {
		for _, item := range s.emails {
			if item.ID == id && item.Status == repository.NotificationPending {
				item.Status = repository.NotificationSending
				return true, nil
			}
		}
		return false, nil
	}
	for _, item := range s.sms {
		if item.ID == id && item.Status == repository.NotificationPending {
			item.Status = repository.NotificationSending
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeNotificationStore) MarkSent(ctx context.Context, table, id string) error {
	if table == "email_queue" {
		for _, item := range s.emails {
			if item.ID == id && item.Status == repository.NotificationSending {
				item.Status = repository.NotificationSent
			}
		}
		return nil
	}
	for _, item := range s.sms {
		if item.ID == id && item.Status == repository.NotificationSending {
			item.Status = repository.NotificationSent
		}
	}
	return nil
}

func (s *fakeNotificationStore) MarkFailure(ctx context.Context, table, id, errMsg string, nextAttemptAt time.Time) error {
	fail := func(attempts, max int) repository.NotificationStatus {
		if attempts >= max {
			return repository.NotificationFailed
		}
		return repository.NotificationPending
	}
	if table == "email_queue" {
		for _, item := range s.emails {
			if item.ID == id {
				item.Attempts++
				item.Status = fail(item.Attempts, item.MaxAttempts)
				item.ErrorMessage = &errMsg
				if item.Status == repository.NotificationPending {
					item.ScheduledAt = nextAttemptAt
				}
			}
		}
		return nil
	}
	for _, item := range s.sms {
		if item.ID == id {
			item.Attempts++
			item.Status = fail(item.Attempts, item.MaxAttempts)
			item.ErrorMessage = &errMsg
			if item.Status == repository.NotificationPending {
				item.ScheduledAt = nextAttemptAt
			}
		}
	}
	return nil
}

func (s *fakeNotificationStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	keepEmails := s.emails[:0]
	for _, item := range s.emails {
		if item.Status == repository.NotificationSent || item.Status == repository.NotificationFailed {
			removed++
			continue
		}
		keepEmails = append(keepEmails, item)
	}
	s.emails = keepEmails
	keepSMS := s.sms[:0]
	for _, item := range s.sms {
		if item.Status == repository.NotificationSent || item.Status == repository.NotificationFailed {
			removed++
			continue
		}
		keepSMS = append(keepSMS, item)
	}
	s.sms = keepSMS
	return removed, nil
}

// ── loan store ───────────────────────────────────────────────────────────────

type posting struct {
	loanID string
	period string
	amount float64
}

type fakeLoanStore struct {
	loans     map[string]*repository.Loan
	schedules []*repository.PaymentSchedule
	postings  []posting
	postErr   map[string]error
}

func newFakeLoanStore() *fakeLoanStore {
	return &fakeLoanStore{loans: map[string]*repository.Loan{}, postErr: map[string]error{}}
}

func (s *fakeLoanStore) GetByID(ctx context.Context, id string) (*repository.Loan, error) {
	loan, ok := s.loans[id]
	if !ok {
		return nil, apperr.NotFound("loan", id)
	}
	return loan, nil
}

func (s *fakeLoanStore) AccruableLoans(ctx context.Context, targetDate time.Time, period string) ([]*repository.Loan, error) {
	var out []*repository.Loan
	for _, loan := range s.loans {
		if loan.Status != "active" && loan.Status != "disbursed" {
			continue
		}
		if loan.DisbursedAt == nil || loan.DisbursedAt.After(targetDate) {
			continue
		}
		if s.hasPosting(loan.ID, period) {
			continue
		}
		out = append(out, loan)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeLoanStore) hasPosting(loanID, period string) bool {
	for _, p := range s.postings {
		if p.loanID == loanID && p.period == period {
			return true
		}
	}
	return false
}

func (s *fakeLoanStore) PostInterest(ctx context.Context, loan *repository.Loan, period string, amount float64) error {
	if err := s.postErr[loan.ID]; err != nil {
		return err
	}
	s.postings = append(s.postings, posting{loanID: loan.ID, period: period, amount: amount})
	loan.Balance += amount
	loan.AccruedInterest += amount
	return nil
}

func (s *fakeLoanStore) OverdueSchedules(ctx context.Context, targetDate time.Time) ([]*repository.PaymentSchedule, error) {
	var out []*repository.PaymentSchedule
	for _, sched := range s.schedules {
		if !sched.DueDate.Before(targetDate) || sched.Outstanding <= 0 {
			continue
		}
		if sched.LastPenaltyDate != nil && sched.LastPenaltyDate.Equal(targetDate) {
			continue
		}
		out = append(out, sched)
	}
	return out, nil
}

func (s *fakeLoanStore) ApplyPenalty(ctx context.Context, sched *repository.PaymentSchedule, targetDate time.Time, amount float64) error {
	sched.PenaltyAmount += amount
	t := targetDate
	sched.LastPenaltyDate = &t
	return nil
}

func (s *fakeLoanStore) Disburse(ctx context.Context, loan *repository.Loan, now time.Time) error {
	stored, ok := s.loans[loan.ID]
	if !ok || stored.Status != "approved" {
		return apperr.Conflict("loan is not approved for disbursement")
	}
	stored.Status = "disbursed"
	stored.Balance = stored.Principal
	stored.DisbursedAt = &now
	return nil
}

func (s *fakeLoanStore) UpdateStatus(ctx context.Context, id, status string) error {
	loan, ok := s.loans[id]
	if !ok {
		return apperr.NotFound("loan", id)
	}
	loan.Status = status
	return nil
}

// ── member store ─────────────────────────────────────────────────────────────

type fakeMemberStore struct {
	members     map[string]*repository.Member
	deposits    []*repository.SavingsDeposit
	statements  []*repository.MemberStatement
	stmtMembers []string
	credits     map[string]float64
	withdrawals map[string]string
	logsPurged  int64
	scoreCount  int64
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{members: map[string]*repository.Member{}, withdrawals: map[string]string{}}
}

func (s *fakeMemberStore) GetByID(ctx context.Context, id string) (*repository.Member, error) {
	m, ok := s.members[id]
	if !ok {
		return nil, apperr.NotFound("member", id)
	}
	return m, nil
}

func (s *fakeMemberStore) Activate(ctx context.Context, id string) error {
	m, ok := s.members[id]
	if !ok || m.Status != "pending" {
		return apperr.Conflict("member is not pending activation: " + id)
	}
	m.Status = "active"
	return nil
}

func (s *fakeMemberStore) UpdateWithdrawalStatus(ctx context.Context, id, status string) error {
	s.withdrawals[id] = status
	return nil
}

func (s *fakeMemberStore) PendingDeposits(ctx context.Context, period string) ([]*repository.SavingsDeposit, error) {
	var out []*repository.SavingsDeposit
	for _, dep := range s.deposits {
		if dep.Period == period && dep.Status == "pending" {
			out = append(out, dep)
		}
	}
	return out, nil
}

func (s *fakeMemberStore) PostDeposit(ctx context.Context, dep *repository.SavingsDeposit, tag string) error {
	if dep.Status != "pending" {
		return apperr.Conflict("deposit is not pending: " + dep.ID)
	}
	dep.Status = "posted"
	if tag != "" {
		dep.Description += " " + tag
	}
	return nil
}

func (s *fakeMemberStore) StatementMembers(ctx context.Context, from, to time.Time, memberID *string, limit int) ([]string, error) {
	if memberID != nil {
		return []string{*memberID}, nil
	}
	return s.stmtMembers, nil
}

func (s *fakeMemberStore) HasStatement(ctx context.Context, memberID string, periodStart time.Time) (bool, error) {
	for _, st := range s.statements {
		if st.MemberID == memberID && st.PeriodStart.Equal(periodStart) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeMemberStore) CreateStatement(ctx context.Context, st *repository.MemberStatement) error {
	var prior *repository.MemberStatement
	for _, prev := range s.statements {
		if prev.MemberID == st.MemberID && !prev.PeriodEnd.After(st.PeriodStart) &&
			(prior == nil || prev.PeriodEnd.After(prior.PeriodEnd)) {
			prior = prev
		}
	}
	if prior != nil {
		st.OpeningBalance = prior.ClosingBalance
	}
	st.TotalCredits = s.credits[st.MemberID]
	st.ClosingBalance = st.OpeningBalance + st.TotalCredits - st.TotalDebits
	st.ID = fmt.Sprintf("stmt-%d", len(s.statements)+1)
	st.GeneratedAt = time.Now()
	s.statements = append(s.statements, st)
	return nil
}

func (s *fakeMemberStore) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.logsPurged, nil
}

func (s *fakeMemberStore) RefreshCreditScores(ctx context.Context) (int64, error) {
	return s.scoreCount, nil
}

// ── gateways and events ──────────────────────────────────────────────────────

type fakeEmailSender struct {
	err  error
	sent []string
}

func (s *fakeEmailSender) Send(ctx context.Context, recipient, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, recipient)
	return nil
}

type fakeSMSSender struct {
	err  error
	sent []string
}

func (s *fakeSMSSender) Send(ctx context.Context, phone, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, phone)
	return nil
}

type fakeEventSink struct {
	events []string
}

func (s *fakeEventSink) Publish(ctx context.Context, eventType string, event *client.Event) {
	s.events = append(s.events, eventType)
}
