package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// DefaultPriority is assigned when the scheduling caller does not care.
const DefaultPriority = 5

// Scheduler enqueues jobs with per-type dedup names so scheduling the same
// logical period twice returns the existing job instead of a duplicate.
type Scheduler struct {
	jobs JobStore
	log  zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(jobs JobStore, log zerolog.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, log: log}
}

// ScheduleJob creates a pending job, deduplicated by derived name.
func (s *Scheduler) ScheduleJob(
	ctx context.Context,
	jobType repository.JobType,
	entityID *string,
	runAt time.Time,
	params map[string]any,
	priority int,
) (string, error) {
	if priority == 0 {
		priority = DefaultPriority
	}

	job := &repository.Job{
		JobType:     jobType,
		JobName:     DeriveJobName(jobType, entityID, runAt, params),
		EntityID:    entityID,
		Parameters:  params,
		Priority:    priority,
		ScheduledAt: runAt,
	}

	id, err := s.jobs.Create(ctx, job)
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("job_id", id).
		Str("job_type", string(jobType)).
		Time("scheduled_at", runAt).
		Msg("Job scheduled")

	return id, nil
}

// DeriveJobName builds the dedup identity for a job, or nil for types that
// may legitimately repeat.
func DeriveJobName(jobType repository.JobType, entityID *string, runAt time.Time, params map[string]any) *string {
	var name string

	switch jobType {
	case repository.JobMonthlyInterest, repository.JobInterestCalculation:
		period := runAt
		if t, err := paramDate(params, "target_date", runAt); err == nil {
			period = t
		}
		name = fmt.Sprintf("monthly_interest_%s", period.Format("200601"))

	case repository.JobPenaltyCalculation:
		period := runAt
		if t, err := paramDate(params, "target_date", runAt); err == nil {
			period = t
		}
		name = fmt.Sprintf("penalty_calculation_%s", period.Format("20060102"))

	case repository.JobWorkflowTimeout:
		name = fmt.Sprintf("workflow_timeout_%s_%d",
			paramString(params, "workflow_id", "unknown"),
			paramInt(params, "level", 0))

	case repository.JobAutoDisburse:
		name = fmt.Sprintf("auto_disburse_%s", paramString(params, "loan_id", deref(entityID)))

	case repository.JobMonthlySavings:
		month := paramString(params, "target_month", PeriodOf(runAt))
		name = fmt.Sprintf("monthly_savings_deposit_%s", month)

	case repository.JobProcessWithdrawal:
		name = fmt.Sprintf("process_withdrawal_%s", deref(entityID))

	default:
		// send_notifications, maintenance, backup, statements, cleanup repeat
		// freely; no dedup identity.
		return nil
	}

	return &name
}

func deref(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
