package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/doridoridoriand/keepitup/internal/discovery"
)

func newUpdateNodesCommand(opts *rootOptions) *cobra.Command {
	var timeit bool
	cmd := &cobra.Command{
		Use:               "update-nodes",
		Short:             "copy node names and addresses from the discovery feed",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			defer opts.logger.Sync()
			if opts.cfg.Discovery.URL == "" {
				return errors.New("discovery.url is not configured")
			}

			app, err := NewApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer app.Close()

			feed := discovery.NewFeed(opts.cfg.Discovery.URL, nil, opts.cfg.Discovery.Timeout, opts.logger)
			return UpdateNodes(cmd.Context(), app, feed, cmd.OutOrStdout(), timeit)
		},
	}
	cmd.Flags().BoolVar(&timeit, "timeit", false, "print how long the update took")
	return cmd
}

// UpdateNodes downloads the feed and syncs it into the registry.
func UpdateNodes(ctx context.Context, app *App, feed *discovery.Feed, out io.Writer, timeit bool) error {
	start := time.Now()

	skipped, err := feed.Update(ctx)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}

	result, err := feed.Sync(ctx, app.Registry)
	fmt.Fprintf(out, "updated %d, unchanged %d, missing from feed %d, malformed %d\n",
		result.Updated, result.Unchanged, result.Missing, skipped)
	if timeit {
		fmt.Fprintf(out, "took %s\n", time.Since(start).Round(time.Millisecond))
	}
	return err
}
