package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/spf13/cobra"

	"github.com/agentic-research/flowgate/internal/config"
	"github.com/agentic-research/flowgate/internal/export"
	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/gating"
	"github.com/agentic-research/flowgate/internal/indexsort"
	"github.com/agentic-research/flowgate/internal/transform"
)

var (
	analyzeOut        string
	analyzeDB         string
	analyzeIndex      string
	analyzePopulation string
	analyzeX          string
	analyzeY          string
	analyzeTolerance  float64
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "gated", "Output directory for population CSVs")
	analyzeCmd.Flags().StringVar(&analyzeDB, "db", "", "SQLite catalog to record run statistics in")
	analyzeCmd.Flags().StringVar(&analyzeIndex, "index", "", "Index sort report to overlay on a gated population")
	analyzeCmd.Flags().StringVar(&analyzePopulation, "population", "", "Population anchoring the index overlay (default: last population)")
	analyzeCmd.Flags().StringVar(&analyzeX, "x", "", "Overlay x channel (default: the population's gate channels)")
	analyzeCmd.Flags().StringVar(&analyzeY, "y", "", "Overlay y channel")
	analyzeCmd.Flags().Float64Var(&analyzeTolerance, "tolerance", indexsort.DefaultTolerance, "Per-channel tolerance for value matching of index rows")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [config.yaml] [events.csv...]",
	Short: "Gate event data and export per-population CSVs",
	Long: `Analyze evaluates the configured gate hierarchy against one or more
event CSVs. Each population gets a gated_<name>.csv under the output
directory; with several input files the rows carry a sample_id column and
are concatenated per population. A stats.csv summarizes counts and parent
fractions, --db additionally records them in a SQLite catalog, and
--index overlays an index sort report onto a gated population.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, cfgPath, err := hostFS(args[0])
		if err != nil {
			return err
		}

		exp, err := config.Load(fs, cfgPath)
		if err != nil {
			return err
		}
		tree, transforms, err := config.Compile(exp)
		if err != nil {
			return err
		}
		engine := gating.NewEngine(tree, transforms)

		samples := args[1:]
		if analyzeIndex != "" && len(samples) > 1 {
			return fmt.Errorf("index overlay requires a single events file, got %d", len(samples))
		}

		outDir, err := filepath.Abs(analyzeOut)
		if err != nil {
			return err
		}
		if err := fs.MkdirAll(outDir, 0o755); err != nil {
			return err
		}
		writer := export.NewCSVWriter(fs, outDir)

		var catalog *export.Catalog
		if analyzeDB != "" {
			if catalog, err = export.OpenCatalog(analyzeDB); err != nil {
				return err
			}
			defer catalog.Close()
		}

		for _, sample := range samples {
			_, samplePath, err := hostFS(sample)
			if err != nil {
				return err
			}
			m, err := frame.ReadCSV(fs, samplePath)
			if err != nil {
				return err
			}

			results, err := engine.Evaluate(m)
			if err != nil {
				return fmt.Errorf("%s: %w", sample, err)
			}

			sampleID := strings.TrimSuffix(filepath.Base(sample), filepath.Ext(sample))
			if err := writer.WriteSample(sampleID, m, results); err != nil {
				return err
			}
			if err := writer.WriteStats(sampleID, results); err != nil {
				return err
			}
			if catalog != nil {
				if _, err := catalog.RecordRun(sampleID, sample, results); err != nil {
					return err
				}
			}
			for _, res := range results {
				if res.Node == gating.Root {
					continue
				}
				fmt.Printf("%s %s: %d/%d events\n", sampleID, res.Path, res.Count, res.ParentCount)
			}

			if analyzeIndex != "" {
				if err := overlayIndex(fs, outDir, tree, transforms, m, results); err != nil {
					return err
				}
			}
		}
		return nil
	},
}

func overlayIndex(fs billy.Filesystem, outDir string, tree *gating.Tree, transforms transform.Set, m *frame.Matrix, results []gating.Result) error {
	anchor := results[len(results)-1]
	if analyzePopulation != "" {
		found := false
		for _, res := range results {
			if res.Name == analyzePopulation {
				anchor, found = res, true
				break
			}
		}
		if !found {
			return fmt.Errorf("no population named %q", analyzePopulation)
		}
	}

	xCh, yCh := analyzeX, analyzeY
	if xCh == "" || yCh == "" {
		chs := tree.Node(anchor.Node).Gate.Channels()
		if len(chs) < 2 {
			return fmt.Errorf("population %q has no two-channel gate, pass --x and --y", anchor.Name)
		}
		xCh, yCh = chs[0], chs[1]
	}

	_, indexPath, err := hostFS(analyzeIndex)
	if err != nil {
		return err
	}
	tbl, err := indexsort.Read(fs, indexPath)
	if err != nil {
		return err
	}
	overlay, err := indexsort.Match(tbl, m, anchor.Mask, xCh, yCh, transforms, analyzeTolerance)
	if err != nil {
		return err
	}

	if err := export.WriteOverlay(fs, fs.Join(outDir, "index_overlay.csv"), overlay); err != nil {
		return err
	}
	mode := "matched by value"
	if tbl.Events != nil {
		mode = "matched by event id"
	}
	if overlay.Positional {
		mode = "matched by position (no shared channels)"
	}
	fmt.Printf("index overlay on %s: %d wells %s, %d unmatched\n",
		anchor.Path, len(overlay.Points), mode, len(overlay.Unmatched))
	return nil
}
