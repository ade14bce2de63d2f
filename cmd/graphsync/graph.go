package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/graphsync/internal/graph/schema"
	"github.com/mschirtzinger/graphsync/internal/ui"
)

var nodeCmd = &cobra.Command{
	Use:     "node",
	GroupID: "data",
	Short:   "Create and delete nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a node",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		url, _ := cmd.Flags().GetString("url")
		id, _ := cmd.Flags().GetString("id")

		n := &schema.Node{ID: id, Label: label}
		if url = strings.TrimSpace(url); url != "" {
			n.URL = &url
		}

		return withApp(cmd.Context(), func(a *app) error {
			created, err := a.engine.CreateNode(cmd.Context(), n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created node %s\n", ui.RenderPass("✓"), created.ID)
			return nil
		})
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Delete a node and every link that references it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			res, err := a.engine.DeleteNode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted node %s and %d links\n",
				ui.RenderPass("✓"), res.NodeID, res.DeletedLinks)
			for _, id := range res.LinkIDs {
				fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", ui.RenderMuted(id))
			}
			return nil
		})
	},
}

var linkCmd = &cobra.Command{
	Use:     "link",
	GroupID: "data",
	Short:   "Create and delete links",
}

var linkAddCmd = &cobra.Command{
	Use:   "add <source-id> <target-id>",
	Short: "Link two existing nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		id, _ := cmd.Flags().GetString("id")

		l := &schema.Link{ID: id, SourceID: args[0], TargetID: args[1]}
		if label = strings.TrimSpace(label); label != "" {
			l.Label = &label
		}

		return withApp(cmd.Context(), func(a *app) error {
			created, err := a.engine.CreateLink(cmd.Context(), l)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created link %s (%s → %s)\n",
				ui.RenderPass("✓"), created.ID, created.SourceID, created.TargetID)
			return nil
		})
	},
}

var linkRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Delete a link",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.engine.DeleteLink(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted link %s\n", ui.RenderPass("✓"), args[0])
			return nil
		})
	},
}

func init() {
	nodeAddCmd.Flags().String("label", "", "node label (required)")
	nodeAddCmd.Flags().String("url", "", "optional URL")
	nodeAddCmd.Flags().String("id", "", "node id (default generated)")
	_ = nodeAddCmd.MarkFlagRequired("label")

	linkAddCmd.Flags().String("label", "", "optional link label")
	linkAddCmd.Flags().String("id", "", "link id (default generated)")

	nodeCmd.AddCommand(nodeAddCmd, nodeRemoveCmd)
	linkCmd.AddCommand(linkAddCmd, linkRemoveCmd)
	rootCmd.AddCommand(nodeCmd, linkCmd)
}
