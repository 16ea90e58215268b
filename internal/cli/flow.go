package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/repo"
)

// NewFlowCmd создаёт группу команд для управления flow runs.
func NewFlowCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Manage flow runs",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowShowCmd(clientFn, outputFn),
		newFlowStartCmd(clientFn, outputFn),
		newFlowCancelCmd(clientFn, outputFn),
	)

	return cmd
}

var flowRunHeaders = []string{"ID", "FLOW_ID", "STATUS", "GENERATED_BY", "CREATED"}

func flowRunRow(fr domain.FlowRun) []string {
	return []string{fr.ID, fr.FlowID, string(fr.Status), fr.GeneratedBy, formatTime(&fr.CreatedAt)}
}

func newFlowListCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	var flowID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flow runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			runs, err := client.ListFlowRuns(cmd.Context(), repo.FlowRunFilter{
				FlowID: flowID,
				Status: domain.RunStatus(strings.ToUpper(status)),
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, fr := range runs {
				rows[i] = flowRunRow(fr)
			}

			out.Print(flowRunHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&flowID, "flow-id", "", "Filter by flow ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newFlowShowCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show FLOW_RUN_ID",
		Short: "Show a flow run and its task runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			fr, runs, err := client.GetFlowRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(struct {
					FlowRun  *domain.FlowRun  `json:"flow_run"`
					TaskRuns []domain.TaskRun `json:"task_runs"`
				}{fr, runs})
				return nil
			}

			out.Table(
				[]string{"ID", "FLOW_ID", "STATUS", "DURATION", "ERROR"},
				[][]string{{fr.ID, fr.FlowID, string(fr.Status), fr.Duration().String(), fr.Error}},
			)
			fmt.Fprintln(out.w)
			out.Table(taskRunHeaders, taskRunRows(runs))
			return nil
		},
	}
}

func newFlowStartCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	var flowRunID string
	var params []string

	cmd := &cobra.Command{
		Use:   "start FLOW_ID",
		Short: "Submit a flow for execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			p, err := parseParams(params)
			if err != nil {
				return err
			}

			id, err := client.StartFlow(cmd.Context(), args[0], flowRunID, p)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow run submitted: %s", id))
			return nil
		},
	}

	cmd.Flags().StringVar(&flowRunID, "id", "", "Flow run ID (random UUID if not specified)")
	cmd.Flags().StringSliceVar(&params, "param", nil, "Params as KEY=VALUE (repeatable)")

	return cmd
}

func newFlowCancelCmd(clientFn func() (*Client, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel FLOW_RUN_ID",
		Short: "Cancel a flow run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFn()
			if err != nil {
				return err
			}
			out := outputFn()

			n, err := client.CancelFlowRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow run cancelled: %s (%d task runs asked to stop)", args[0], n))
			return nil
		},
	}
}

// parseParams разбирает значения вида KEY=VALUE.
func parseParams(kvs []string) (domain.Params, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	params := make(domain.Params, len(kvs))
	for _, kv := range kvs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param format %q, expected KEY=VALUE", kv)
		}
		params[key] = value
	}
	return params, nil
}

// formatTime форматирует время для таблиц ("-" для пустого).
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
