package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flowgate",
	Short: "FlowGate: hierarchical gating for flow cytometry event data",
	Long: `FlowGate imports gating hierarchies from FlowJo v9 workspaces into an
editable YAML configuration, then evaluates them against event data:
logicle or linear scaling per channel, nested polygon and threshold
gates, marker auto-thresholds, per-population event exports and an
optional SQLite results catalog.`,
	SilenceUsage: true,
}

// Execute runs the root command. Any failure is an input or schema
// problem, reported on stderr with a non-zero exit.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
