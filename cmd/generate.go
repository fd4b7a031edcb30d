package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentic-research/flowgate/api"
	"github.com/agentic-research/flowgate/internal/config"
	"github.com/agentic-research/flowgate/internal/frame"
	"github.com/agentic-research/flowgate/internal/transform"
)

var generateName string

func init() {
	generateCmd.Flags().StringVar(&generateName, "name", "experiment", "Experiment name for the metadata block")
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:     "generate-config [events.csv] [config.yaml]",
	Aliases: []string{"generate"},
	Short:   "Generate a skeleton configuration from an event file's channels",
	Long: `Generate-config reads the channel header of an event file and writes a starting
configuration for hand-editing. Every channel begins ignored, so each one
is switched on deliberately once its role, fluorochrome and transform are
reviewed; fluorescence channels get default logicle parameters to start
from.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, eventsPath, err := hostFS(args[0])
		if err != nil {
			return err
		}
		m, err := frame.ReadCSV(fs, eventsPath)
		if err != nil {
			return err
		}

		exp := &api.Experiment{
			Metadata:     api.Metadata{ExperimentName: generateName},
			Panel:        make(map[string]api.PanelChannel, len(m.Channels())),
			Compensation: api.Compensation{Source: "none"},
		}
		for _, name := range m.Channels() {
			exp.Panel[name] = api.PanelChannel{Ignore: true}
			if transform.InferRole(name) == transform.FluorescenceLogicle {
				if exp.Transforms == nil {
					exp.Transforms = make(map[string]api.TransformSpec)
				}
				exp.Transforms[name] = api.TransformSpec{T: 262144, W: 0.5, M: 4.5}
			}
		}

		fs, outPath, err := hostFS(args[1])
		if err != nil {
			return err
		}
		if err := config.Save(fs, outPath, exp); err != nil {
			return err
		}
		fmt.Printf("Wrote skeleton configuration with %d channels to %s\n", len(exp.Panel), outPath)
		return nil
	},
}
