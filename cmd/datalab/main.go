// Command datalab runs the data-analysis agent against a prompt, executes
// ad-hoc SQL, ingests CSVs into the dataset catalog, and lists past runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagRunsDir string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "datalab",
		Short:         "turn-based LLM data-analysis agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&flagRunsDir, "runs-dir", "", "override the runs root directory")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(newRunCmd(), newQueryCmd(), newIngestCmd(), newRunsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "datalab: %v\n", err)
		os.Exit(1)
	}
}
