package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/ui"
)

var sourceCmd = &cobra.Command{
	Use:     "source",
	GroupID: "sources",
	Short:   "Manage data source directories",
	Long: `A data source is a named directory holding nodes/ and links/. The registry
of sources and the current one is kept in <state-dir>/sources.json.`,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered data sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}
		reg, err := openRegistry()
		if err != nil {
			return err
		}

		sources := reg.List()
		current := reg.Current().ID
		out := cmd.OutOrStdout()

		if format == "yaml" {
			return writeYAML(out, struct {
				Current string              `yaml:"current"`
				Sources []source.DataSource `yaml:"sources"`
			}{current, sources})
		}

		rows := make([][]string, 0, len(sources))
		for _, ds := range sources {
			marker := ""
			if ds.ID == current {
				marker = ui.RenderPass("*")
			}
			rows = append(rows, []string{marker, ds.ID, ds.Name, ds.Path, ds.Description})
		}
		fmt.Fprint(out, ui.Table([]string{"", "ID", "NAME", "PATH", "DESCRIPTION"}, rows))
		return nil
	},
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a data source directory",
	Long: `Register a directory as a data source. The id is derived from the name
unless --id is given; a taken id gets a numeric suffix. The directory does not
have to exist yet; it is created when the source is switched to.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		desc, _ := cmd.Flags().GetString("description")

		reg, err := openRegistry()
		if err != nil {
			return err
		}
		ds, err := reg.Add(id, source.DataSource{Name: args[0], Path: args[1], Description: desc})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Added data source %s at %s\n", ui.RenderPass("✓"), ds.ID, ds.Path)
		return nil
	},
}

var sourceRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Unregister a data source (files are kept)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		if err := reg.Remove(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Removed data source %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var sourceSwitchCmd = &cobra.Command{
	Use:   "switch <id>",
	Short: "Make a data source current",
	Long: `Validate the data source, load it into the cache and persist it as current.
A source that fails validation leaves the current one untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			ds, err := a.engine.SwitchSource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			counts, err := a.engine.Counts(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Switched to %s (%s): %d nodes, %d links\n",
				ui.RenderPass("✓"), ds.ID, ds.Path, counts.Nodes, counts.Links)
			return nil
		})
	},
}

func init() {
	sourceListCmd.Flags().String("format", "text", "output format: text or yaml")
	sourceAddCmd.Flags().String("id", "", "source id (default derived from the name)")
	sourceAddCmd.Flags().String("description", "", "free-form description")

	sourceCmd.AddCommand(sourceListCmd, sourceAddCmd, sourceRemoveCmd, sourceSwitchCmd)
	rootCmd.AddCommand(sourceCmd)
}
