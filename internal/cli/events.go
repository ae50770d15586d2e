package cli

import (
	"github.com/spf13/cobra"
)

// NewEventsCmd создаёт команду просмотра истории событий.
func NewEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var eventType string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show event history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListEvents(ListEventsOpts{
				Type:  eventType,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"TIMESTAMP", "TYPE", "SOURCE", "CORRELATION_ID"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{e.Timestamp, e.Type, e.Source, e.CorrelationID}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}

	cmd.Flags().StringVar(&eventType, "type", "", "Filter by event type (e.g. step.completed)")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events")

	return cmd
}
