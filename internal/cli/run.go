package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/doridoridoriand/keepitup/internal/alarm"
	"github.com/doridoridoriand/keepitup/internal/config"
	"github.com/doridoridoriand/keepitup/internal/log"
	"github.com/doridoridoriand/keepitup/internal/metrics"
	"github.com/doridoridoriand/keepitup/internal/notify"
	"github.com/doridoridoriand/keepitup/internal/ping"
	"github.com/doridoridoriand/keepitup/internal/scheduler"
	"github.com/doridoridoriand/keepitup/internal/state"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:               "run",
		Short:             "probe every node until interrupted",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			defer opts.logger.Sync()

			prober, err := ping.NewProber(ping.Options{
				Backend:        opts.cfg.Probe.Backend,
				Privileged:     opts.cfg.Probe.Privileged,
				MaxConcurrency: opts.cfg.Probe.MaxConcurrency,
			})
			if err != nil {
				return err
			}
			return Run(cmd.Context(), opts.cfg, opts.logger, prober)
		},
	}
}

// Run starts the scheduler, and the metrics server when configured, and
// blocks until ctx is cancelled or one of them fails.
func Run(ctx context.Context, cfg *config.Config, logger *log.Logger, prober ping.Prober) error {
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	nodes := state.NewNodeSet(prober, cfg.Health.Thresholds())
	registry, recorder := metrics.NewRegistry(cfg.Metrics.Mode, nodes)

	dispatcher := alarm.NewDispatcher(app.Ledger, notify.NewLogNotifier(logger, cfg.Notify.BaseURL), app.Registry, logger)
	dispatcher.SetRecorder(recorder)

	sched := scheduler.NewScheduler(scheduler.Options{
		Interval:  cfg.Probe.Interval,
		Timeout:   cfg.Probe.Timeout,
		Retention: cfg.Retention,
	}, nodes, app.Registry, app.Store, dispatcher, logger)
	sched.SetObserver(recorder)

	logger.Info("starting", map[string]interface{}{
		"version":  Version,
		"interval": cfg.Probe.Interval.String(),
		"timeout":  cfg.Probe.Timeout.String(),
		"slices":   cfg.SliceCount(),
		"metrics":  cfg.Metrics.Listen,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Listen, registry)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped", nil)
	return nil
}
