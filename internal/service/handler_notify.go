package service

import (
	"context"
	"fmt"
	"time"

	"github.com/saccohq/be-coop-scheduler/internal/metrics"
	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

const (
	defaultDrainLimit = 50

	// Retry backoff bounds for failed deliveries.
	retryBaseDelay = time.Minute
	retryMaxDelay  = time.Hour
)

// RetryDelay returns how far forward a failed item's scheduled_at is stamped:
// capped exponential keyed on the attempt count just recorded.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryBaseDelay << (attempts - 1)
	if delay > retryMaxDelay || delay <= 0 {
		return retryMaxDelay
	}
	return delay
}

// SendNotifications drains up to limit pending items from each delivery
// queue. Each item is flipped to sending before the gateway call; a failed
// send increments attempts and either re-pends the item with a backoff-
// stamped scheduled_at or marks it terminally failed at max_attempts.
func (h *JobHandlers) SendNotifications(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	limit := paramInt(job.Parameters, "limit", defaultDrainLimit)
	now := h.now()

	sent, failed := 0, 0

	emails, err := h.notes.PendingEmails(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, item := range emails {
		ok, err := h.deliverEmail(ctx, item)
		if err != nil {
			return nil, err
		}
		if ok {
			sent++
		} else {
			failed++
		}
	}

	texts, err := h.notes.PendingSMS(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	for _, item := range texts {
		ok, err := h.deliverSMS(ctx, item)
		if err != nil {
			return nil, err
		}
		if ok {
			sent++
		} else {
			failed++
		}
	}

	h.log.Info().
		Int("sent", sent).
		Int("failed", failed).
		Msg("Notification drain complete")

	return &HandlerResult{
		Message: fmt.Sprintf("sent %d notifications, %d failures", sent, failed),
		Data:    map[string]any{"sent": sent, "failed": failed},
	}, nil
}

func (h *JobHandlers) deliverEmail(ctx context.Context, item *repository.EmailQueueItem) (bool, error) {
	taken, err := h.notes.MarkSending(ctx, "email_queue", item.ID)
	if err != nil {
		return false, err
	}
	if !taken {
		return false, nil
	}

	if sendErr := h.email.Send(ctx, item.Recipient, item.Subject, item.Body); sendErr != nil {
		metrics.NotificationFailures.WithLabelValues("email").Inc()
		next := h.now().Add(RetryDelay(item.Attempts + 1))
		if err := h.notes.MarkFailure(ctx, "email_queue", item.ID, sendErr.Error(), next); err != nil {
			return false, err
		}
		h.log.Warn().Err(sendErr).Str("recipient", item.Recipient).Msg("Email delivery failed")
		return false, nil
	}

	metrics.NotificationsSent.WithLabelValues("email").Inc()
	return true, h.notes.MarkSent(ctx, "email_queue", item.ID)
}

func (h *JobHandlers) deliverSMS(ctx context.Context, item *repository.SMSQueueItem) (bool, error) {
	taken, err := h.notes.MarkSending(ctx, "sms_queue", item.ID)
	if err != nil {
		return false, err
	}
	if !taken {
		return false, nil
	}

	if sendErr := h.sms.Send(ctx, item.Phone, item.Message); sendErr != nil {
		metrics.NotificationFailures.WithLabelValues("sms").Inc()
		next := h.now().Add(RetryDelay(item.Attempts + 1))
		if err := h.notes.MarkFailure(ctx, "sms_queue", item.ID, sendErr.Error(), next); err != nil {
			return false, err
		}
		h.log.Warn().Err(sendErr).Str("phone", item.Phone).Msg("SMS delivery failed")
		return false, nil
	}

	metrics.NotificationsSent.WithLabelValues("sms").Inc()
	return true, h.notes.MarkSent(ctx, "sms_queue", item.ID)
}

// NotificationCleanup removes sent and terminally failed queue rows older
// than the cutoff.
func (h *JobHandlers) NotificationCleanup(ctx context.Context, job *repository.Job) (*HandlerResult, error) {
	cutoffDays := paramInt(job.Parameters, "cutoff_days", 30)
	cutoff := h.now().AddDate(0, 0, -cutoffDays)

	removed, err := h.notes.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	h.log.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("Notification cleanup complete")
	return &HandlerResult{
		Message: fmt.Sprintf("removed %d notification rows older than %d days", removed, cutoffDays),
		Data:    map[string]any{"removed": removed},
	}, nil
}
