package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/vptest/packages/worker"
)

var listCmd = &cobra.Command{
	Use:   "list <file|directory>...",
	Short: "List the tests a Go test file or package contains",
	Long: `List the test and example functions the gotest worker would collect.

Examples:
  vptest list ./pkg/foo/foo_test.go
  vptest list ./pkg/foo`,
	Args: cobra.MinimumNArgs(1),
	RunE: listCommand,
}

func listCommand(cmd *cobra.Command, args []string) error {
	found := 0
	for _, path := range args {
		dir, tests, err := worker.CollectGoTests(path)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStderr(), "Error reading %s: %v\n", path, err)
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\n%s:\n", dir)
		for _, t := range tests {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s (%s)\n", t.Name, t.Ref.Location)
		}
		found += len(tests)
	}

	if found == 0 {
		return fmt.Errorf("no tests found")
	}
	return nil
}
