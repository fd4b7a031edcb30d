package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohler55/ojg/alt"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/pretty"
	"github.com/spf13/cobra"

	"github.com/agentic-research/flowgate/internal/config"
	"github.com/agentic-research/flowgate/internal/workspace"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [config.yaml|workspace.xml] [jsonpath]",
	Short: "Query a configuration or workspace with JSONPath",
	Long: `Inspect prints a configuration, or a FlowJo workspace converted to one,
as JSON. An optional JSONPath expression narrows the output, e.g.

  flowgate inspect panel.yaml '$.populations[*].name'
  flowgate inspect panel.yaml "$.panel['FITC-A']"
  flowgate inspect workspace.xml '$.transforms'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		var data any
		if strings.EqualFold(filepath.Ext(path), ".xml") {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open workspace: %w", err)
			}
			defer f.Close()
			doc, err := workspace.Import(f)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			data = alt.Decompose(config.FromWorkspace(name, doc))
		} else {
			fs, cfgPath, err := hostFS(path)
			if err != nil {
				return err
			}
			exp, err := config.Load(fs, cfgPath)
			if err != nil {
				return err
			}
			data = alt.Decompose(exp)
		}

		if len(args) == 2 {
			expr, err := jp.ParseString(args[1])
			if err != nil {
				return fmt.Errorf("parse jsonpath %q: %w", args[1], err)
			}
			matches := expr.Get(data)
			switch len(matches) {
			case 0:
				return fmt.Errorf("no match for %q", args[1])
			case 1:
				data = matches[0]
			default:
				data = matches
			}
		}

		fmt.Println(pretty.JSON(data, 80.3))
		return nil
	},
}
