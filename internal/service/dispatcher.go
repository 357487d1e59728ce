package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/saccohq/be-coop-scheduler/internal/metrics"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// DefaultBatchSize bounds how many due jobs one dispatcher pass claims.
const DefaultBatchSize = 50

// HandlerResult is what a job handler returns on success.
type HandlerResult struct {
	Message string
	Data    map[string]any
}

// BatchOutcome is the structured partial-failure output of a bulk handler.
type BatchOutcome struct {
	Processed int
	Total     float64
	Errors    []string
}

// Summary renders the outcome as a job result message.
func (o *BatchOutcome) Summary(what string) string {
	msg := fmt.Sprintf("processed %d %s", o.Processed, what)
	if len(o.Errors) > 0 {
		msg += fmt.Sprintf(" (%d errors: %s)", len(o.Errors), strings.Join(o.Errors, "; "))
	}
	return msg
}

// JobResult is the per-job record returned by one dispatcher pass.
type JobResult struct {
	JobID   string
	JobType repository.JobType
	Success bool
	Message string
	Data    map[string]any
}

// HandlerFunc executes one claimed job.
type HandlerFunc func(ctx context.Context, job *repository.Job) (*HandlerResult, error)

// Dispatcher claims due jobs and routes them through a closed handler
// registry. An unregistered job type is a handled failure, never a crash.
type Dispatcher struct {
	db        TxRunner
	jobs      JobStore
	registry  map[repository.JobType]HandlerFunc
	batchSize int
	log       zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher with an empty registry.
func NewDispatcher(db TxRunner, jobs JobStore, batchSize int, log zerolog.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Dispatcher{
		db:        db,
		jobs:      jobs,
		registry:  make(map[repository.JobType]HandlerFunc),
		batchSize: batchSize,
		log:       log,
		now:       time.Now,
	}
}

// Register binds a job type to its handler. Rebinding a type panics: the
// registry is closed at startup and a duplicate binding is a wiring bug.
func (d *Dispatcher) Register(jobType repository.JobType, fn HandlerFunc) {
	if _, exists := d.registry[jobType]; exists {
		panic("duplicate handler registration: " + string(jobType))
	}
	d.registry[jobType] = fn
}

// RunPendingJobs executes one dispatcher pass: select due jobs in priority
// order, claim each atomically, run its handler, and finalize. A handler
// error fails that one job only; the pass always returns a result list.
func (d *Dispatcher) RunPendingJobs(ctx context.Context) ([]JobResult, error) {
	started := d.now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(started).Seconds())
	}()

	due, err := d.jobs.SelectDue(ctx, started, d.batchSize)
	if err != nil {
		return nil, err
	}

	results := make([]JobResult, 0, len(due))
	succeeded := 0

	for _, job := range due {
		claimed, err := d.jobs.Claim(ctx, job.ID, d.now())
		if err != nil {
			d.log.Error().Err(err).Str("job_id", job.ID).Msg("Job claim failed")
			continue
		}
		if !claimed {
			// Another dispatcher instance won the race; skip silently.
			continue
		}

		result := d.execute(ctx, job)
		results = append(results, result)
		if result.Success {
			succeeded++
			metrics.JobsProcessed.WithLabelValues(string(job.JobType), "success").Inc()
		} else {
			metrics.JobsProcessed.WithLabelValues(string(job.JobType), "failure").Inc()
		}
	}

	d.log.Info().
		Int("processed", len(results)).
		Int("succeeded", succeeded).
		Int("failed", len(results)-succeeded).
		Msg("Dispatcher pass complete")

	return results, nil
}

// execute runs one claimed job to a terminal status. The handler's writes and
// the completion mark commit together; a handler error rolls them back before
// the failure is recorded in a separate statement.
func (d *Dispatcher) execute(ctx context.Context, job *repository.Job) JobResult {
	handler, ok := d.registry[job.JobType]
	if !ok {
		msg := fmt.Sprintf("unknown job type: %s", job.JobType)
		d.failJob(ctx, job, msg)
		return JobResult{JobID: job.ID, JobType: job.JobType, Message: msg}
	}

	var res *HandlerResult
	err := d.db.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = handler(ctx, job)
		if err != nil {
			return err
		}
		return d.jobs.MarkCompleted(ctx, job.ID, res.Message)
	})
	if err != nil {
		d.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("job_type", string(job.JobType)).
			Msg("Job handler failed")
		d.failJob(ctx, job, err.Error())
		return JobResult{JobID: job.ID, JobType: job.JobType, Message: err.Error()}
	}

	d.log.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.JobType)).
		Str("result", res.Message).
		Msg("Job completed")

	return JobResult{
		JobID:   job.ID,
		JobType: job.JobType,
		Success: true,
		Message: res.Message,
		Data:    res.Data,
	}
}

func (d *Dispatcher) failJob(ctx context.Context, job *repository.Job, msg string) {
	if err := d.jobs.MarkFailed(ctx, job.ID, msg); err != nil {
		d.log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to mark job failed")
	}
}
