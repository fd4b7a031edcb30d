package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/ohler55/ojg/alt"
	"github.com/ohler55/ojg/pretty"
	"github.com/spf13/cobra"

	"github.com/agentic-research/flowgate/internal/config"
	"github.com/agentic-research/flowgate/internal/workspace"
)

var importNoMerge bool

func init() {
	importCmd.Flags().BoolVar(&importNoMerge, "no-merge", false, "Overwrite the configuration instead of merging with an existing one")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import [workspace.xml] [config.yaml]",
	Short: "Import a FlowJo v9 workspace into a YAML configuration",
	Long: `Import parses a FlowJo v9 workspace, converts its gate hierarchy and
transform declarations into the YAML configuration format and writes the
result. When the output file already exists its manual edits (roles,
ignore flags, marker rules) are preserved and only the imported geometry
is refreshed; --no-merge discards the existing file instead.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		wspPath, outPath := args[0], args[1]

		f, err := os.Open(wspPath)
		if err != nil {
			return fmt.Errorf("open workspace: %w", err)
		}
		defer f.Close()

		doc, err := workspace.Import(f)
		if err != nil {
			return err
		}

		name := strings.TrimSuffix(filepath.Base(wspPath), filepath.Ext(wspPath))
		exp := config.FromWorkspace(name, doc)

		fs, outPath, err := hostFS(outPath)
		if err != nil {
			return err
		}

		if !importNoMerge {
			if prev, err := config.Load(fs, outPath); err == nil {
				exp = config.Merge(exp, prev)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
		}

		if err := config.Save(fs, outPath, exp); err != nil {
			// Dump the merged document so the offending entry can be
			// found without re-running under a debugger.
			fmt.Fprintln(os.Stderr, pretty.JSON(alt.Decompose(exp)))
			return err
		}

		fmt.Printf("Imported %d channels and %d populations into %s\n",
			len(exp.Panel), len(exp.Populations), outPath)
		return nil
	},
}

// hostFS returns a filesystem rooted at the host root plus the absolute
// form of the given path, so commands accept both relative and absolute
// arguments.
func hostFS(path string) (billy.Filesystem, string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", err
	}
	return osfs.New("/"), abs, nil
}
