// Command graphsync keeps a directory of node and link JSON files in sync with
// a query cache and serves live change notifications.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/config"
	"github.com/mschirtzinger/graphsync/internal/logging"
	"github.com/mschirtzinger/graphsync/internal/ui"
)

var (
	cfgFile string
	v       = config.NewViper()

	// Set by the root PersistentPreRunE.
	appConfig *config.Config
	logger    = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "graphsync",
	Short: "Synchronize graph JSON files with a query cache",
	Long: `graphsync treats a directory of nodes/*.json and links/*.json files as the
source of truth for a graph. It loads them into a query cache, writes changes
back atomically, picks up edits made by other tools, and can switch between
several data source directories without restarting.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		l, err := logging.New(cfg.LoggingOptions())
		if err != nil {
			return err
		}
		appConfig = cfg
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "data", Title: "Graph data:"},
		&cobra.Group{ID: "sources", Title: "Data sources:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.String("state-dir", "", "directory for the source registry and default data (default ~/.graphsync)")
	flags.String("cache", "", "cache database path, or :memory:")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "stderr log format: console or json")

	bindFlag("state_dir", "state-dir")
	bindFlag("cache.path", "cache")
	bindFlag("log.level", "log-level")
	bindFlag("log.format", "log-format")
}

// bindFlag makes a persistent flag override key when it is set.
func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.FormatError(err))
		os.Exit(1)
	}
}
