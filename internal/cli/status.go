package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/doridoridoriand/keepitup/internal/state"
	"github.com/doridoridoriand/keepitup/internal/status"
)

type statusOptions struct {
	node    string
	owner   string
	samples int
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	so := &statusOptions{}
	cmd := &cobra.Command{
		Use:               "status",
		Short:             "print node health and recent samples",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			defer opts.logger.Sync()

			app, err := NewApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return Status(cmd.Context(), app, cmd.OutOrStdout(), so.node, so.owner, so.samples, time.Now())
		},
	}
	cmd.Flags().StringVar(&so.node, "node", "", "only show this node id")
	cmd.Flags().StringVar(&so.owner, "owner", "", "only show nodes subscribed by this email")
	cmd.Flags().IntVar(&so.samples, "samples", status.DefaultSamples, "recent samples listed per node")
	return cmd
}

// Status renders the registry nodes with the samples stored during the
// loss window.
func Status(ctx context.Context, app *App, out io.Writer, nodeID, owner string, samples int, now time.Time) error {
	infos, err := app.Registry.List(ctx, owner)
	if err != nil {
		return err
	}

	th := app.Config.Health.Thresholds()
	nodes := state.NewNodeSet(nil, th)
	nodes.SetClock(func() time.Time { return now })
	nodes.Refresh(infos)

	points, err := app.Store.Query(ctx, nodeID, now.Add(-th.LossWindow))
	if err != nil {
		return err
	}
	nodes.Rehydrate(points)

	statuses := nodes.Snapshot()
	if nodeID != "" {
		st, ok := nodes.Lookup(nodeID)
		if !ok {
			return fmt.Errorf("node %s not found", nodeID)
		}
		statuses = []state.NodeStatus{st}
	}
	return status.Render(out, statuses, now, status.Options{Samples: samples})
}
