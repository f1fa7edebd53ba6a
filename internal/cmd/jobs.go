package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mealplanhq/mealplan/internal/app"
	"github.com/mealplanhq/mealplan/internal/store"
)

func newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and drive meal plan jobs",
	}
	jobsCmd.AddCommand(newJobsListCmd())
	jobsCmd.AddCommand(newJobsShowCmd())
	jobsCmd.AddCommand(newJobsResetCmd())
	jobsCmd.AddCommand(newJobsProcessCmd())
	return jobsCmd
}

func newJobsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE:  runJobsList,
	}
	cmd.Flags().String("status", "", "filter by status (pending, processing, completed, failed)")
	cmd.Flags().String("email", "", "filter by customer email")
	cmd.Flags().Int("limit", 50, "maximum number of jobs")
	addCommonFlags(cmd, true)
	return cmd
}

func runJobsList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	email, _ := cmd.Flags().GetString("email")
	limit, _ := cmd.Flags().GetInt("limit")

	switch status {
	case "", store.JobPending, store.JobProcessing, store.JobCompleted, store.JobFailed:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		jobs, err := svc.Store.ListJobs(ctx, store.JobFilter{
			Status: status,
			Email:  strings.ToLower(strings.TrimSpace(email)),
			Limit:  limit,
		})
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, jobs)
		}
		if len(jobs) == 0 {
			_, _ = fmt.Fprintln(out, "No jobs found.")
			return nil
		}

		rows := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			rows = append(rows, []string{
				j.ID,
				j.CustomerEmail,
				j.DietType,
				fmt.Sprintf("%d/%d", j.Month, j.Year),
				statusText(j.Status),
				fmt.Sprintf("%d/%d", j.CurrentPhase, j.TotalPhases),
				strconv.Itoa(j.RecipeCount),
				formatTime(j.CreatedAt),
			})
		}
		return renderTable(out, []string{"ID", "EMAIL", "DIET", "PLAN", "STATUS", "PHASE", "RECIPES", "CREATED"}, rows)
	})
}

func newJobsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its generated recipes",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsShow,
	}
	addCommonFlags(cmd, true)
	return cmd
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		job, err := svc.Store.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job == nil {
			return fmt.Errorf("job %q not found", args[0])
		}

		out := cmd.OutOrStdout()
		if wantJSON(cmd) {
			return printJSON(out, job)
		}

		printFields(out, [][2]string{
			{"ID", job.ID},
			{"Customer", job.CustomerEmail},
			{"Session", job.StripeSessionID},
			{"Product", job.ProductType},
			{"Diet", job.DietType},
			{"Family size", strconv.Itoa(job.FamilySize)},
			{"Needs", strings.Join(job.DietaryNeeds, ", ")},
			{"Allergies", job.Allergies},
			{"Preferences", job.Preferences},
			{"Plan", fmt.Sprintf("%d/%d (%d days)", job.Month, job.Year, job.DaysInMonth)},
			{"Status", statusText(job.Status)},
			{"Phase", fmt.Sprintf("%d/%d", job.CurrentPhase, job.TotalPhases)},
			{"Progress", job.PhaseProgress},
			{"Recipes", strconv.Itoa(job.RecipeCount)},
			{"PDF", job.PDFURL},
			{"Error", job.ErrorMessage},
			{"Created", formatTime(job.CreatedAt)},
		})
		if job.CompletedAt != nil {
			printFields(out, [][2]string{{"Completed", formatTime(*job.CompletedAt)}})
		}

		if len(job.GeneratedRecipes) == 0 {
			return nil
		}
		_, _ = fmt.Fprintln(out)
		rows := make([][]string, 0, len(job.GeneratedRecipes))
		for _, r := range job.GeneratedRecipes {
			rows = append(rows, []string{
				strconv.Itoa(r.Phase),
				strconv.Itoa(r.Slot),
				r.MealType,
				truncate(r.Name, 48),
				r.RecipeID,
			})
		}
		return renderTable(out, []string{"PHASE", "SLOT", "MEAL", "NAME", "RECIPE ID"}, rows)
	})
}

func newJobsResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <job-id>",
		Short: "Reset a job to pending so the processor starts it again",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobsReset,
	}
	addCommonFlags(cmd, false)
	return cmd
}

func runJobsReset(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		if err := svc.Store.ResetJob(ctx, args[0]); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("job %q not found", args[0])
			}
			return fmt.Errorf("reset job: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Job %s reset to pending.\n", args[0])
		return nil
	})
}

func newJobsProcessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the job processor once, like the cron endpoint",
		Args:  cobra.NoArgs,
		RunE:  runJobsProcess,
	}
	cmd.Flags().Bool("drain", false, "keep running batches until no job is claimable")
	addCommonFlags(cmd, true)
	return cmd
}

func runJobsProcess(cmd *cobra.Command, args []string) error {
	drain, _ := cmd.Flags().GetBool("drain")

	return withServices(cmd, func(ctx context.Context, svc *app.Services) error {
		out := cmd.OutOrStdout()
		failed := false
		for batch := 1; ; batch++ {
			res := svc.Processor.ProcessBatch(ctx)
			failed = failed || !res.Success
			if wantJSON(cmd) {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				_, _ = fmt.Fprintf(out, "Batch %d: processed %d, succeeded %d, failed %d (%dms)\n",
					batch, res.Processed, res.Succeeded, res.Failed, res.DurationMS)
				for _, e := range res.Errors {
					_, _ = fmt.Fprintln(out, "  "+errorStyle.Render(e))
				}
			}
			if !drain || res.Processed == 0 || ctx.Err() != nil {
				if failed {
					return errors.New("job batch reported errors")
				}
				return nil
			}
		}
	})
}
