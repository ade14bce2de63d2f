package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/ui"
)

// statusReport is what status prints.
type statusReport struct {
	Source  string       `yaml:"source"`
	Path    string       `yaml:"path"`
	State   source.State `yaml:"state"`
	Nodes   int          `yaml:"nodes"`
	Links   int          `yaml:"links"`
	Skipped []string     `yaml:"skipped,omitempty"`
	Sources int          `yaml:"sources"`
	Config  string       `yaml:"config"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "run",
	Short:   "Show the current data source and what it contains",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		return withApp(cmd.Context(), func(a *app) error {
			counts, err := a.engine.Counts(cmd.Context())
			if err != nil {
				return err
			}
			ds := a.engine.CurrentSource()
			st := statusReport{
				Source:  ds.ID,
				Path:    ds.Path,
				State:   a.engine.State(),
				Nodes:   counts.Nodes,
				Links:   counts.Links,
				Sources: len(a.engine.Sources()),
				Config:  appConfig.SourcesFile,
			}
			for _, err := range a.report.Errors {
				st.Skipped = append(st.Skipped, err.Error())
			}

			out := cmd.OutOrStdout()
			if format == "yaml" {
				return writeYAML(out, st)
			}

			fmt.Fprintf(out, "\n%s graphsync status\n\n", ui.RenderAccent("📊"))
			fmt.Fprint(out, ui.KeyValue(
				[2]string{"Source", fmt.Sprintf("%s (%s)", st.Source, ds.Name)},
				[2]string{"Path", st.Path},
				[2]string{"State", string(st.State)},
				[2]string{"Nodes", fmt.Sprint(st.Nodes)},
				[2]string{"Links", fmt.Sprint(st.Links)},
				[2]string{"Sources", fmt.Sprint(st.Sources)},
				[2]string{"Config", st.Config},
			))
			if len(st.Skipped) > 0 {
				fmt.Fprintf(out, "\n%s %d files skipped; run 'graphsync sync' for details\n",
					ui.RenderWarn("⚠"), len(st.Skipped))
			}
			fmt.Fprintln(out)
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().String("format", "text", "output format: text or yaml")
	rootCmd.AddCommand(statusCmd)
}
