package service

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

const (
	logRetentionDays = 90
	jobRetentionDays = 180
)

// AccountMaintenance runs the requested housekeeping tasks. Defaults to all
// of them; each task's failure is isolated from its siblings.
func (h *JobHandlers) AccountMaintenance(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	tasks := paramStringList(job.Parameters, "tasks")
	if len(tasks) == 0 {
		tasks = []string{"cleanup_logs", "update_credit_scores", "archive_old_data"}
	}

	outcome := &BatchOutcome{}
	data := map[string]any{}

	for _, task := range tasks {
		var count int64
		var err error

		switch task {
		case "cleanup_logs":
			cutoff := h.now().AddDate(0, 0, -logRetentionDays)
			count, err = h.members.DeleteAuditLogsBefore(ctx, cutoff)
		case "update_credit_scores":
			count, err = h.members.RefreshCreditScores(ctx)
		case "archive_old_data":
			cutoff := h.now().AddDate(0, 0, -jobRetentionDays)
			count, err = h.jobs.DeleteTerminalBefore(ctx, cutoff)
		default:
			err = fmt.Errorf("unknown maintenance task %q", task)
		}

		if err != nil {
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", task, err))
			continue
		}
		outcome.Processed++
		data[task] = count
	}

	data["errors"] = outcome.Errors
	h.log.Info().
		Strs("tasks", tasks).
		Int("succeeded", outcome.Processed).
		Int("errors", len(outcome.Errors)).
		Msg("Account maintenance complete")

	return &HandlerResult{Message: outcome.Summary("tasks"), Data: data}, nil
}

// BackupDatabase invokes pg_dump with a generated backup name. The external
// process failing fails the job.
func (h *JobHandlers) BackupDatabase(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	name := paramString(job.Parameters, "backup_name", "")
	if name == "" {
		name = fmt.Sprintf("coop_%s_%s", h.now().Format("20060102_150405"), uuid.NewString()[:8])
	}
	// The name lands in a shell-adjacent path; keep it to a safe charset.
	name = sanitizeBackupName(name)
	target := filepath.Join(h.backupDir, name+".sql")

	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--file", target)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pg_dump failed: %v: %s", err, strings.TrimSpace(string(out)))
	}

	h.log.Info().Str("backup", target).Msg("Database backup complete")
	return &HandlerResult{
		Message: "backup written to " + target,
		Data:    map[string]any{"backup_file": target},
	}, nil
}

func sanitizeBackupName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}
