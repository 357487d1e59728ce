package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Minute, RetryDelay(0))
	assert.Equal(t, time.Minute, RetryDelay(1))
	assert.Equal(t, 2*time.Minute, RetryDelay(2))
	assert.Equal(t, 4*time.Minute, RetryDelay(3))
	assert.Equal(t, 32*time.Minute, RetryDelay(6))
	assert.Equal(t, time.Hour, RetryDelay(7))
	assert.Equal(t, time.Hour, RetryDelay(40))
}

func drainJob() *repository.Job {
	return &repository.Job{ID: "job-1", JobType: repository.JobSendNotifications}
}

func enqueueEmail(f *handlerFixture, recipient string) *repository.EmailQueueItem {
	item := &repository.EmailQueueItem{Recipient: recipient, Subject: "s", Body: "b"}
	_ = f.notes.EnqueueEmail(context.Background(), item)
	return item
}

func TestSendNotificationsDeliversBothQueues(t *testing.T) {
	f := newHandlerFixture(t)
	email := enqueueEmail(f, "ada@example.com")
	text := &repository.SMSQueueItem{Phone: "+254700000001", Message: "hello"}
	require.NoError(t, f.notes.EnqueueSMS(context.Background(), text))

	res, err := f.handlers.SendNotifications(context.Background(), drainJob())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Data["sent"])
	assert.Equal(t, 0, res.Data["failed"])
	assert.Equal(t, repository.NotificationSent, email.Status)
	assert.Equal(t, repository.NotificationSent, text.Status)
	assert.Equal(t, []string{"ada@example.com"}, f.email.sent)
	assert.Equal(t, []string{"+254700000001"}, f.sms.sent)
}

func TestSendNotificationsRetryWithBackoff(t *testing.T) {
	f := newHandlerFixture(t)
	f.email.err = errors.New("smtp unavailable")
	item := enqueueEmail(f, "ada@example.com")

	res, err := f.handlers.SendNotifications(context.Background(), drainJob())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data["failed"])

	// One failed attempt: back to pending, pushed forward by the base delay.
	assert.Equal(t, repository.NotificationPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.Equal(t, f.now.Add(time.Minute), item.ScheduledAt)
	require.NotNil(t, item.ErrorMessage)
	assert.Equal(t, "smtp unavailable", *item.ErrorMessage)

	// Not yet due again: the next drain leaves it alone.
	res, err = f.handlers.SendNotifications(context.Background(), drainJob())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Data["sent"])
	assert.Equal(t, 0, res.Data["failed"])
	assert.Equal(t, 1, item.Attempts)
}

func TestSendNotificationsExhaustsAttempts(t *testing.T) {
	f := newHandlerFixture(t)
	f.email.err = errors.New("smtp unavailable")
	item := enqueueEmail(f, "ada@example.com")
	require.Equal(t, 3, item.MaxAttempts)

	for i := 0; i < 3; i++ {
		_, err := f.handlers.SendNotifications(context.Background(), drainJob())
		require.NoError(t, err)
		// Step past the longest possible retry window.
		f.now = f.now.Add(2 * time.Hour)
	}

	// attempts == max_attempts: terminally failed, never re-dispatched.
	assert.Equal(t, 3, item.Attempts)
	assert.Equal(t, repository.NotificationFailed, item.Status)

	pending, err := f.notes.PendingEmails(context.Background(), f.now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSendNotificationsRecoversAfterRetry(t *testing.T) {
	f := newHandlerFixture(t)
	f.email.err = errors.New("smtp unavailable")
	item := enqueueEmail(f, "ada@example.com")

	_, err := f.handlers.SendNotifications(context.Background(), drainJob())
	require.NoError(t, err)
	require.Equal(t, 1, item.Attempts)

	// The gateway recovers and the retry window elapses.
	f.email.err = nil
	f.now = f.now.Add(2 * time.Minute)

	res, err := f.handlers.SendNotifications(context.Background(), drainJob())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data["sent"])
	assert.Equal(t, repository.NotificationSent, item.Status)
}

func TestMarkSentPinsSendingState(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	item := enqueueEmail(f, "ada@example.com")

	taken, err := f.notes.MarkSending(ctx, "email_queue", item.ID)
	require.NoError(t, err)
	require.True(t, taken)

	// A concurrent failure path re-pends the item before a stale worker
	// reports success; the stale MarkSent must not clobber the requeue.
	require.NoError(t, f.notes.MarkFailure(ctx, "email_queue", item.ID, "timeout", f.now.Add(time.Minute)))
	require.NoError(t, f.notes.MarkSent(ctx, "email_queue", item.ID))
	assert.Equal(t, repository.NotificationPending, item.Status)
}

func TestNotificationCleanup(t *testing.T) {
	f := newHandlerFixture(t)
	sent := enqueueEmail(f, "a@example.com")
	sent.Status = repository.NotificationSent
	failed := enqueueEmail(f, "b@example.com")
	failed.Status = repository.NotificationFailed
	enqueueEmail(f, "c@example.com") // still pending

	res, err := f.handlers.NotificationCleanup(context.Background(), &repository.Job{
		JobType:    repository.JobNotificationCleanup,
		Parameters: map[string]any{"cutoff_days": 7},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Data["removed"])
	require.Len(t, f.notes.emails, 1)
	assert.Equal(t, "c@example.com", f.notes.emails[0].Recipient)
}
