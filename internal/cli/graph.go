package cli

import (
	"context"
	"log/slog"

	"github.com/VladMinzatu/binsize/internal/graphstore"
	"github.com/VladMinzatu/binsize/internal/sizetree"
	"github.com/spf13/cobra"
)

func (a *App) connectGraph(ctx context.Context) (*graphstore.Loader, error) {
	n := a.cfg.Neo4j
	slog.Debug("Connecting to neo4j", "uri", n.URI, "user", n.User, "database", n.Database)
	return graphstore.Connect(ctx, n.URI, n.User, n.Password, n.Database)
}

func (a *App) graphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Load size trees into Neo4j",
	}

	var fromSnapshot bool
	load := &cobra.Command{
		Use:   "load <snapshot> [binary]",
		Short: "Load the tree of a binary, or of a stored snapshot, as a graph",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name := args[0]

			var tree *sizetree.SizeNode
			if fromSnapshot {
				store, err := a.openHistory()
				if err != nil {
					return err
				}
				defer store.Close()
				t, _, err := store.Load(ctx, name)
				if err != nil {
					return err
				}
				tree = t
			} else {
				path, err := a.binary(args, 1)
				if err != nil {
					return err
				}
				res, err := a.analyze(ctx, path)
				if err != nil {
					return err
				}
				tree = res.Tree
			}

			loader, err := a.connectGraph(ctx)
			if err != nil {
				return err
			}
			defer loader.Close(context.Background())

			if err := loader.CreateIndexes(ctx); err != nil {
				return err
			}
			return loader.LoadTree(ctx, name, tree)
		},
	}
	load.Flags().BoolVar(&fromSnapshot, "from-snapshot", false, "load the stored snapshot of that name instead of analyzing a binary")

	rm := &cobra.Command{
		Use:   "rm <snapshot>...",
		Short: "Delete snapshots from the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := a.connectGraph(cmd.Context())
			if err != nil {
				return err
			}
			defer loader.Close(context.Background())
			for _, name := range args {
				if err := loader.DeleteSnapshot(cmd.Context(), name); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.AddCommand(load, rm)
	return cmd
}
