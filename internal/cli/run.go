package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunStartCmd(clientFn, outputFn),
		newRunStatusCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunLastCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var inputs []string

	cmd := &cobra.Command{
		Use:   "start DEFINITION_ID",
		Short: "Start a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var inputMap map[string]any
			if len(inputs) > 0 {
				inputMap = make(map[string]any)
				for _, kv := range inputs {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
					}
					inputMap[parts[0]] = parts[1]
				}
			}

			started, err := client.StartRun(args[0], inputMap)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", started.RunID))
			out.Print(
				[]string{"RUN_ID", "DEFINITION_ID", "STATUS"},
				[][]string{{started.RunID, started.DefinitionID, started.Status}},
				started,
			)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}

func newRunStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.GetStatus()
			if err != nil {
				return err
			}

			if !status.Active {
				out.Success("No active run")
				out.Print(
					[]string{"DEFINITIONS"},
					[][]string{{strings.Join(status.Definitions, ", ")}},
					status,
				)
				return nil
			}

			progress := "-"
			if status.Progress != nil {
				progress = fmt.Sprintf("%d/%d", status.Progress.Completed, status.Progress.Total)
			}

			running := make([]string, len(status.RunningSteps))
			for i, s := range status.RunningSteps {
				running[i] = s.ID
			}

			out.Print(
				[]string{"RUN_ID", "DEFINITION_ID", "PROGRESS", "RUNNING"},
				[][]string{{status.RunID, status.DefinitionID, progress, strings.Join(running, ",")}},
				status,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			msg, err := client.CancelRun()
			if err != nil {
				return err
			}

			out.Success(msg)
			return nil
		},
	}
}

func newRunLastCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "last",
		Short: "Show the last finished run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetLastRun()
			if err != nil {
				return err
			}

			printRunDetails(out, run)
			return nil
		},
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var definitionID string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				DefinitionID: definitionID,
				Status:       status,
				Limit:        limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "DEFINITION_ID", "STATUS", "DURATION", "STARTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.DefinitionID, r.Status, formatDuration(r.DurationMs), r.StartedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&definitionID, "definition-id", "", "Filter by definition ID")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (COMPLETED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show archived run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			printRunDetails(out, run)
			return nil
		},
	}
}

// printRunDetails выводит run с результатами шагов.
func printRunDetails(out *Output, run *RunResponse) {
	out.Print(
		[]string{"ID", "DEFINITION_ID", "STATUS", "DURATION", "ERROR"},
		[][]string{{run.ID, run.DefinitionID, run.Status, formatDuration(run.DurationMs), run.Error}},
		run,
	)

	if len(run.Results) == 0 || out.asJSON {
		return
	}

	headers := []string{"STEP", "STATUS", "ATTEMPTS", "ERROR"}
	rows := make([][]string, 0, len(run.Results))
	for _, res := range run.Results {
		rows = append(rows, []string{res.StepID, res.Status, strconv.Itoa(res.Attempts), res.Error})
	}
	out.Table(headers, rows)
}

// formatDuration форматирует миллисекунды для таблиц.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
