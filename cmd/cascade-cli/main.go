// Cascade CLI — инструмент командной строки для управления
// definitions, runs и событиями через HTTP API.
//
// Использование:
//
//	cascade [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	definition  Просмотр definitions
//	run         Управление runs
//	events      История событий
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Cascade/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "cascade",
		Short:         "Cascade CLI — workflow orchestration tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDefinitionCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewEventsCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
