package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
	"github.com/saccohq/be-coop-scheduler/internal/schema"
)

const defaultMaxAttempts = 3

// NotificationRepository manages the two parallel retryable delivery queues.
type NotificationRepository struct {
	db   *database.DB
	caps schema.Capabilities
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *database.DB, caps schema.Capabilities) *NotificationRepository {
	return &NotificationRepository{db: db, caps: caps}
}

// EnqueueEmail inserts a pending email queue item.
func (r *NotificationRepository) EnqueueEmail(ctx context.Context, item *EmailQueueItem) error {
	if item.MaxAttempts == 0 {
		item.MaxAttempts = defaultMaxAttempts
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = time.Now()
	}

	query := `
		INSERT INTO email_queue
		    (recipient, subject, body, status, attempts, max_attempts, priority, scheduled_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5, $6)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		item.Recipient, item.Subject, item.Body,
		item.MaxAttempts, item.Priority, item.ScheduledAt,
	).Scan(&item.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to enqueue email")
	}
	item.Status = NotificationPending
	return nil
}

// EnqueueSMS inserts a pending SMS queue item. No-op on schemas without the
// sms_queue table.
func (r *NotificationRepository) EnqueueSMS(ctx context.Context, item *SMSQueueItem) error {
	if !r.caps.HasSMSQueue {
		return nil
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = defaultMaxAttempts
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = time.Now()
	}

	query := `
		INSERT INTO sms_queue
		    (phone, message, status, attempts, max_attempts, priority, scheduled_at)
		VALUES ($1, $2, 'pending', 0, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		item.Phone, item.Message,
		item.MaxAttempts, item.Priority, item.ScheduledAt,
	).Scan(&item.ID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to enqueue sms")
	}
	item.Status = NotificationPending
	return nil
}

// PendingEmails returns due pending emails in delivery order, capped at limit.
func (r *NotificationRepository) PendingEmails(ctx context.Context, now time.Time, limit int) ([]*EmailQueueItem, error) {
	query := `
		SELECT id, recipient, subject, body, status, attempts, max_attempts,
		       priority, scheduled_at, error_message
		FROM email_queue
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select pending emails")
	}
	defer rows.Close()

	var items []*EmailQueueItem
	for rows.Next() {
		item := &EmailQueueItem{}
		err := rows.Scan(
			&item.ID, &item.Recipient, &item.Subject, &item.Body,
			&item.Status, &item.Attempts, &item.MaxAttempts,
			&item.Priority, &item.ScheduledAt, &item.ErrorMessage,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan email item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// PendingSMS returns due pending SMS items in delivery order, capped at limit.
func (r *NotificationRepository) PendingSMS(ctx context.Context, now time.Time, limit int) ([]*SMSQueueItem, error) {
	if !r.caps.HasSMSQueue {
		return nil, nil
	}

	query := `
		SELECT id, phone, message, status, attempts, max_attempts,
		       priority, scheduled_at, error_message
		FROM sms_queue
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY priority DESC, scheduled_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select pending sms")
	}
	defer rows.Close()

	var items []*SMSQueueItem
	for rows.Next() {
		item := &SMSQueueItem{}
		err := rows.Scan(
			&item.ID, &item.Phone, &item.Message,
			&item.Status, &item.Attempts, &item.MaxAttempts,
			&item.Priority, &item.ScheduledAt, &item.ErrorMessage,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan sms item")
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkSending flips a pending item to sending before the gateway call.
// Returns false when the item was taken by a concurrent drain.
func (r *NotificationRepository) MarkSending(ctx context.Context, table, id string) (bool, error) {
	query := `
		UPDATE ` + table + `
		SET status = 'sending'
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to mark notification sending")
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSent finalizes a delivered item. Pinned to sending so a stale worker
// cannot clobber an item a concurrent failure path already re-pended.
func (r *NotificationRepository) MarkSent(ctx context.Context, table, id string) error {
	query := `
		UPDATE ` + table + `
		SET status = 'sent', error_message = NULL
		WHERE id = $1 AND status = 'sending'
	`
	_, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to mark notification sent")
	}
	return nil
}

// MarkFailure increments attempts and either returns the item to pending with
// a forward-stamped scheduled_at (retry with backoff) or flips it to terminal
// failed once attempts reach max_attempts.
func (r *NotificationRepository) MarkFailure(ctx context.Context, table, id, errMsg string, nextAttemptAt time.Time) error {
	query := `
		UPDATE ` + table + `
		SET attempts      = attempts + 1,
		    error_message = $2,
		    status        = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
		    scheduled_at  = CASE WHEN attempts + 1 >= max_attempts THEN scheduled_at ELSE $3 END
		WHERE id = $1
		RETURNING status
	`
	var status NotificationStatus
	err := r.db.QueryRow(ctx, query, id, errMsg, nextAttemptAt).Scan(&status)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("notification", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record notification failure")
	}
	return nil
}

// DeleteTerminalBefore removes sent/failed rows older than the cutoff from
// both queues. Used by the cleanup job.
func (r *NotificationRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64

	tag, err := r.db.Exec(ctx, `
		DELETE FROM email_queue
		WHERE status IN ('sent', 'failed') AND scheduled_at < $1
	`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to clean email queue")
	}
	total += tag.RowsAffected()

	if r.caps.HasSMSQueue {
		tag, err = r.db.Exec(ctx, `
			DELETE FROM sms_queue
			WHERE status IN ('sent', 'failed') AND scheduled_at < $1
		`, cutoff)
		if err != nil {
			return total, apperr.Wrap(err, apperr.CodeInternal, "failed to clean sms queue")
		}
		total += tag.RowsAffected()
	}
	return total, nil
}
