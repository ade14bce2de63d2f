package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/graphsync/internal/errors"
	"github.com/mschirtzinger/graphsync/internal/graph/db"
	"github.com/mschirtzinger/graphsync/internal/graph/engine"
	"github.com/mschirtzinger/graphsync/internal/graph/loadtest"
	"github.com/mschirtzinger/graphsync/internal/graph/source"
	"github.com/mschirtzinger/graphsync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "run",
	Short:   "Measure load time and concurrent query latency on generated data",
	Long: `Generate a throwaway data source, load it into a fresh cache and measure
how the engine serves concurrent readers. Nothing in the state directory is
touched.

Examples:
  graphsync bench
  graphsync bench --nodes 10000 --links-per-node 3 --readers 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, _ := cmd.Flags().GetInt("nodes")
		linksPerNode, _ := cmd.Flags().GetFloat64("links-per-node")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		duration, _ := cmd.Flags().GetDuration("consistency")

		if readers <= 0 || queries <= 0 {
			return errors.New("--readers and --queries must be positive")
		}

		dir, err := os.MkdirTemp("", "graphsync-bench-*")
		if err != nil {
			return errors.Wrap(err, "failed to create temp dir")
		}
		defer os.RemoveAll(dir)

		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		fmt.Fprintf(out, "%s Generating %d nodes...\n", ui.RenderAccent("🔄"), nodes)
		ds, err := loadtest.Generate(filepath.Join(dir, "data"), nodes, linksPerNode)
		if err != nil {
			return err
		}

		reg, err := source.Open(filepath.Join(dir, "sources.json"), ds.Root, logger)
		if err != nil {
			return err
		}
		cacheDB, err := db.OpenContext(ctx, db.MemoryPath)
		if err != nil {
			return err
		}
		defer cacheDB.Close()

		eng, err := engine.New(engine.Options{Registry: reg, Cache: cacheDB, Logger: logger})
		if err != nil {
			return err
		}
		defer eng.Close()

		start := time.Now()
		report, err := eng.Start(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Loaded %d nodes and %d links in %v\n\n",
			ui.RenderPass("✓"), report.Nodes, report.Links, time.Since(start).Round(time.Millisecond))

		stats, err := loadtest.RunConcurrentQueries(ctx, eng, ds.NodeIDs, readers, queries)
		if err != nil {
			return err
		}
		stats.Print(out)

		if duration > 0 {
			vctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()
			if err := loadtest.VerifyConsistency(vctx, eng, ds.NodeIDs, readers); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s No inconsistent reads in %v\n", ui.RenderPass("✓"), duration)
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("nodes", 1000, "number of nodes to generate")
	benchCmd.Flags().Float64("links-per-node", 2, "average links per node")
	benchCmd.Flags().Int("readers", 50, "concurrent readers")
	benchCmd.Flags().Int("queries", 20, "queries per reader")
	benchCmd.Flags().Duration("consistency", 2*time.Second, "duration of the consistency check, 0 to skip")
	rootCmd.AddCommand(benchCmd)
}
