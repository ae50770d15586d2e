package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewDefinitionCmd создаёт группу команд для просмотра definitions.
func NewDefinitionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definition",
		Aliases: []string{"def"},
		Short:   "Inspect workflow definitions",
	}

	cmd.AddCommand(
		newDefinitionListCmd(clientFn, outputFn),
		newDefinitionShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newDefinitionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			defs, err := client.ListDefinitions()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "STEPS", "DESCRIPTION"}
			rows := make([][]string, len(defs))
			for i, d := range defs {
				rows[i] = []string{d.ID, d.Name, strconv.Itoa(d.Steps), d.Description}
			}

			out.Print(headers, rows, defs)
			return nil
		},
	}
}

func newDefinitionShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show definition steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			def, err := client.GetDefinition(args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP", "NAME", "TYPE", "DEPENDS_ON", "CAPABILITIES", "TIMEOUT", "RETRIES"}
			rows := make([][]string, len(def.Steps))
			for i, s := range def.Steps {
				timeout := "-"
				if s.TimeoutSec > 0 {
					timeout = strconv.Itoa(s.TimeoutSec) + "s"
				}
				rows[i] = []string{
					s.ID,
					s.Name,
					s.Type,
					strings.Join(s.DependsOn, ","),
					strings.Join(s.Capabilities, ","),
					timeout,
					strconv.Itoa(s.MaxRetries),
				}
			}

			out.Print(headers, rows, def)
			return nil
		},
	}
}
