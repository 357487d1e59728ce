package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

func savingsJob(params map[string]any) *repository.Job {
	return &repository.Job{JobType: repository.JobMonthlySavings, Parameters: params}
}

func TestMonthlySavingsDeposit(t *testing.T) {
	f := newHandlerFixture(t)
	f.members.deposits = []*repository.SavingsDeposit{
		{ID: "d1", AccountID: "a1", MemberID: "m1", Period: "2026-03", Amount: 500, Status: "pending", Description: "March deposit"},
		{ID: "d2", AccountID: "a2", MemberID: "m2", Period: "2026-03", Amount: 750, Status: "pending", Description: "March deposit"},
		{ID: "d3", AccountID: "a3", MemberID: "m3", Period: "2026-02", Amount: 500, Status: "pending", Description: "February deposit"},
	}

	res, err := f.handlers.MonthlySavingsDeposit(context.Background(), savingsJob(map[string]any{
		"target_month": "2026-03",
		"auto_tag":     true,
	}))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Data["posted"])
	assert.Equal(t, 1250.0, res.Data["total_amount"])
	assert.Equal(t, "posted", f.members.deposits[0].Status)
	assert.Contains(t, f.members.deposits[0].Description, "[auto]")
	// Deposits outside the target month are untouched.
	assert.Equal(t, "pending", f.members.deposits[2].Status)
}

func TestMonthlySavingsDepositDefaultsToCurrentMonth(t *testing.T) {
	f := newHandlerFixture(t)
	f.members.deposits = []*repository.SavingsDeposit{
		{ID: "d1", AccountID: "a1", MemberID: "m1", Period: "2026-03", Amount: 500, Status: "pending"},
	}

	res, err := f.handlers.MonthlySavingsDeposit(context.Background(), savingsJob(nil))
	require.NoError(t, err)
	assert.Equal(t, "2026-03", res.Data["target_month"])
	assert.Equal(t, 1, res.Data["posted"])
}

func TestMonthlySavingsDepositDryRun(t *testing.T) {
	f := newHandlerFixture(t)
	f.members.deposits = []*repository.SavingsDeposit{
		{ID: "d1", AccountID: "a1", MemberID: "m1", Period: "2026-03", Amount: 500, Status: "pending"},
	}

	res, err := f.handlers.MonthlySavingsDeposit(context.Background(), savingsJob(map[string]any{
		"target_month": "2026-03",
		"dry_run":      true,
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data["pending"])
	assert.Equal(t, "pending", f.members.deposits[0].Status)
}
