// Package cli wires the keepitup commands.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/doridoridoriand/keepitup/internal/config"
	"github.com/doridoridoriand/keepitup/internal/log"
)

// Version is overridden at build time with -ldflags.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	flags      OverrideFlags

	cfg    *config.Config
	logger *log.Logger
}

// NewRootCommand returns the keepitup command tree writing reports to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:               "keepitup",
		Short:             "ping supervision of community nodes",
		Long:              "keepitup pings every registered node, keeps per-node health with hysteresis and raises alarms when a node stops answering.",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")
	opts.flags.Register(cmd.PersistentFlags())

	cmd.AddCommand(
		newRunCommand(opts),
		newStatusCommand(opts),
		newUpdateNodesCommand(opts),
		newNodeCommand(opts),
		newUserCommand(opts),
		newSubscribeCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads and validates the configuration and builds the logger.
func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath, o.flags.Overrides())
	if err != nil {
		return err
	}
	logger := NewLogger(cfg)
	warnings, err := cfg.Validate()
	logger.LogConfigLoad(err == nil, o.configPath, err)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range warnings {
		logger.Warn(w, nil)
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "show version",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "keepitup version %s\n", Version)
		},
	}
}
