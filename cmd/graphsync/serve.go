package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mschirtzinger/graphsync/internal/graph/dashboard"
	"github.com/mschirtzinger/graphsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "run",
	Short:   "Load the current data source, watch it and serve the dashboard",
	Long: `Load every node and link file of the current data source into the cache,
watch the directories for edits made by other tools, and serve the dashboard.

Endpoints:
  /ws       WebSocket stream of change notifications and stats
  /graph    every cached node and link as JSON
  /health   engine status (503 while degraded)
  /metrics  Prometheus metrics

Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("dashboard-addr"); addr != "" {
			appConfig.Dashboard.Addr = addr
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := startApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Loaded %s: %d nodes, %d links\n",
			ui.RenderPass("✓"), a.report.Source, a.report.Nodes, a.report.Links)
		if len(a.report.Errors) > 0 {
			fmt.Fprintf(out, "%s Skipped %d files:\n", ui.RenderWarn("⚠"), len(a.report.Errors))
			printSkipped(out, a.report.Errors)
		}

		server := dashboard.NewServer(a.engine, dashboard.Config{
			Addr:     appConfig.Dashboard.Addr,
			Logger:   logger,
			Gatherer: a.metrics,
		})
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Fprintf(out, "%s Watching %s\n", ui.RenderAccent("👀"), a.engine.Root())
		fmt.Fprintf(out, "   Dashboard: http://%s\n", server.Addr())
		fmt.Fprintf(out, "   WebSocket: ws://%s/ws\n", server.Addr())
		fmt.Fprintf(out, "\nPress Ctrl+C to stop\n\n")

		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down...")
		if err := server.Stop(); err != nil {
			logger.Error("Dashboard shutdown failed", zap.Error(err))
		}
		return a.Close()
	},
}

func init() {
	serveCmd.Flags().String("dashboard-addr", "", "dashboard listen address (default from config, 127.0.0.1:8080)")
	rootCmd.AddCommand(serveCmd)
}
