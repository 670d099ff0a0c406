package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/arbitra-ai/oversight/pkg/hitl"
)

// NewTaskCommand groups the task lifecycle subcommands.
func NewTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and resolve human review tasks",
	}
	cmd.AddCommand(
		newTaskListCommand(),
		newTaskShowCommand(),
		newTaskAssignCommand(),
		newTaskFeedbackCommand(),
	)
	return cmd
}

func newTaskListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending tasks, highest priority first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			tasks, err := cl.ListPendingTasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), tasks)
			}
			return printTaskTable(rt.Writer(), tasks)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of tasks (server default 50)")
	return cmd
}

func newTaskShowCommand() *cobra.Command {
	var withFeedback bool
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			task, err := cl.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" && !withFeedback {
				return printJSON(rt.Writer(), task)
			}

			var history []hitl.HumanFeedback
			if withFeedback {
				if history, err = cl.GetFeedbackHistory(cmd.Context(), args[0]); err != nil {
					return err
				}
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), map[string]any{"task": task, "feedback": history})
			}

			printTaskDetail(rt.Writer(), *task)
			if withFeedback {
				printFeedbackTable(rt.Writer(), history)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withFeedback, "feedback", false, "Include the feedback ledger")
	return cmd
}

func newTaskAssignCommand() *cobra.Command {
	var reviewer string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Claim a task for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			task, err := cl.AssignTask(cmd.Context(), args[0], reviewer)
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), task)
			}
			fmt.Fprintf(rt.Writer(), "Task %s assigned to %s\n", task.ID, task.AssignedTo)
			return nil
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer id (default: authenticated identity)")
	return cmd
}

func newTaskFeedbackCommand() *cobra.Command {
	var (
		action     string
		comments   string
		confidence float64
	)
	cmd := &cobra.Command{
		Use:   "feedback <task-id>",
		Short: "Resolve a task with a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cl, err := rt.newClient()
			if err != nil {
				return err
			}
			fb, err := cl.SubmitFeedback(cmd.Context(), args[0], hitl.FeedbackRequest{
				Action:     hitl.FeedbackAction(action),
				Comments:   comments,
				Confidence: confidence,
			})
			if err != nil {
				return err
			}
			if rt.OutputFormat() == "json" {
				return printJSON(rt.Writer(), fb)
			}
			fmt.Fprintf(rt.Writer(), "Task %s resolved: %s (feedback %s)\n", fb.TaskID, fb.Action, fb.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "approved", "Decision: approved or rejected")
	cmd.Flags().StringVar(&comments, "comments", "", "Reviewer comments")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "Reviewer confidence (0-1)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTable(w io.Writer, tasks []hitl.HumanTask) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tTYPE\tSTATUS\tDEADLINE\tTITLE")
	for _, task := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			task.ID, task.Priority, task.Type, task.Status,
			task.Deadline.Format(time.RFC3339), task.Title)
	}
	return tw.Flush()
}

func printTaskDetail(w io.Writer, task hitl.HumanTask) {
	fmt.Fprintf(w, "ID:        %s\n", task.ID)
	fmt.Fprintf(w, "Title:     %s\n", task.Title)
	fmt.Fprintf(w, "Type:      %s\n", task.Type)
	fmt.Fprintf(w, "Priority:  %s\n", task.Priority)
	fmt.Fprintf(w, "Status:    %s\n", task.Status)
	fmt.Fprintf(w, "Policy:    %s\n", task.Policy)
	fmt.Fprintf(w, "Created:   %s\n", task.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Deadline:  %s\n", task.Deadline.Format(time.RFC3339))
	if task.AssignedTo != "" {
		fmt.Fprintf(w, "Assignee:  %s\n", task.AssignedTo)
	}
	fmt.Fprintf(w, "\n%s\n", task.Description)
}

func printFeedbackTable(w io.Writer, history []hitl.HumanFeedback) {
	if len(history) == 0 {
		fmt.Fprintln(w, "\nNo feedback recorded.")
		return
	}
	fmt.Fprintln(w, "\nFeedback:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREVIEWER\tACTION\tTIMESTAMP\tCOMMENTS")
	for _, fb := range history {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			fb.ID, fb.ReviewerID, fb.Action, fb.Timestamp.Format(time.RFC3339), fb.Comments)
	}
	_ = tw.Flush()
}
