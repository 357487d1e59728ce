package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saccohq/be-coop-scheduler/internal/repository"
)

// statsCmd prints job counts by status.
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := repository.NewJobRepository(a.db, a.caps).Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("pending:   %d\n", stats.Pending)
			fmt.Printf("running:   %d\n", stats.Running)
			fmt.Printf("completed: %d\n", stats.Completed)
			fmt.Printf("failed:    %d\n", stats.Failed)
			fmt.Printf("cancelled: %d\n", stats.Cancelled)
			return nil
		},
	}
}

// auditCmd prints a workflow's decision trail.
func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <workflow_id>",
		Short: "Print the approval action trail of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			wf, err := repository.NewWorkflowRepository(a.db).GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("workflow %s: %s %s, status %s, level %d/%d\n",
				wf.ID, wf.EntityType, wf.EntityID, wf.Status, wf.CurrentLevel, wf.TotalLevels)

			actions, err := repository.NewAssignmentRepository(a.db).ActionsFor(ctx, wf.ID)
			if err != nil {
				return err
			}
			for _, act := range actions {
				comments := ""
				if act.Comments != nil {
					comments = " — " + *act.Comments
				}
				fmt.Printf("%s  level %d  %-16s %s%s\n",
					act.CreatedAt.Format("2006-01-02 15:04:05"), act.Level, act.Action, act.ApproverID, comments)
			}
			return nil
		},
	}
}

// approvalsCmd lists what a user has waiting for a decision.
func approvalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approvals <approver_id>",
		Short: "List pending approval assignments for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			pending, err := repository.NewAssignmentRepository(a.db).GetPendingForApprover(ctx, args[0])
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("no pending approvals")
				return nil
			}
			for _, asg := range pending {
				fmt.Printf("%s  workflow %s  level %d  assigned %s\n",
					asg.ID, asg.WorkflowID, asg.Level, asg.AssignedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
