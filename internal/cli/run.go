package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// NewRunCmd создаёт группу команд для управления попытками tasks.
func NewRunCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage task runs",
	}

	cmd.AddCommand(
		newRunShowCmd(clientFn, outputFn),
		newRunAttemptsCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunRerunCmd(clientFn, outputFn),
	)

	return cmd
}

var taskRunHeaders = []string{"KEY", "TASK", "STATE", "RETRYING", "SCHEDULED", "ERROR"}

func taskRunRows(runs []domain.TaskRun) [][]string {
	rows := make([][]string, len(runs))
	for i, r := range runs {
		rows[i] = []string{
			r.Key(),
			r.ID.TaskID,
			string(r.State),
			strconv.FormatBool(r.Retrying),
			formatTime(r.ScheduledStart),
			r.Error,
		}
	}
	return rows
}

func newRunShowCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_KEY",
		Short: "Show a task run (FLOW_RUN_ID/TASK_ID#N)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			run, err := client.GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}

			out.Details([][2]string{
				{"KEY", run.Key()},
				{"TASK", run.TaskName},
				{"STATE", string(run.State)},
				{"RETRYING", strconv.FormatBool(run.Retrying)},
				{"STARTED", formatTime(run.StartedAt)},
				{"FINISHED", formatTime(run.FinishedAt)},
				{"SCHEDULED", formatTime(run.ScheduledStart)},
				{"CLAIMED_UNTIL", formatTime(run.ClaimedUntil)},
				{"GENERATED_BY", run.GeneratedBy},
				{"CANCEL_REQUESTED", run.Annotations[domain.AnnotationCancelRequested]},
				{"ERROR", run.Error},
			}, run)
			return nil
		},
	}
}

func newRunAttemptsCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "attempts FLOW_RUN_ID TASK_ID",
		Short: "List all attempts of a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			runs, err := client.ListAttempts(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out.Print(taskRunHeaders, taskRunRows(runs), runs)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_KEY",
		Short: "Ask a running task run to stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			if err := client.CancelRun(cmd.Context(), id, "cli"); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Cancel requested: %s", id))
			return nil
		},
	}
}

func newRunRerunCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "rerun RUN_KEY",
		Short: "Force a task run to execute again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseRunID(args[0])
			if err != nil {
				return err
			}
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			if err := client.RerunTask(cmd.Context(), id); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Rerun submitted: %s", id))
			return nil
		},
	}
}
