package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"

	"github.com/spf13/cobra"

	"github.com/doridoridoriand/keepitup/internal/registry"
	"github.com/doridoridoriand/keepitup/internal/state"
)

// errReadOnlyRegistry is returned by edits against a registry backend that
// cannot create records.
var errReadOnlyRegistry = errors.New("registry backend cannot add records; use registry.backend database")

// editableRegistry is implemented by registries that create nodes, users and
// subscriptions.
type editableRegistry interface {
	AddNode(ctx context.Context, info state.NodeInfo) error
	AddUser(ctx context.Context, email string, confirmed bool) (*registry.User, error)
	Subscribe(ctx context.Context, email, nodeID string, notifyMe bool) error
}

var _ editableRegistry = (*registry.GormRegistry)(nil)

func editable(app *App) (editableRegistry, error) {
	reg, ok := app.Registry.(editableRegistry)
	if !ok {
		return nil, errReadOnlyRegistry
	}
	return reg, nil
}

// withApp loads the configuration, opens the app and runs fn with it.
func (o *rootOptions) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	if err := o.load(); err != nil {
		return err
	}
	defer o.logger.Sync()

	app, err := NewApp(cmd.Context(), o.cfg, o.logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

func newNodeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "node",
		Short:             "manage registered nodes",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	var info state.NodeInfo
	add := &cobra.Command{
		Use:               "add",
		Short:             "register a node",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				return AddNode(ctx, app, cmd.OutOrStdout(), info)
			})
		},
	}
	add.Flags().StringVar(&info.ID, "id", "", "node id")
	add.Flags().StringVar(&info.Name, "name", "", "display name, defaults to the id")
	add.Flags().StringVar(&info.Address, "address", "", "IP address or host name to ping")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("address")

	cmd.AddCommand(add)
	return cmd
}

func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "user",
		Short:             "manage notification recipients",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	var (
		email     string
		confirmed bool
	)
	add := &cobra.Command{
		Use:               "add",
		Short:             "register a user by email",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				return AddUser(ctx, app, cmd.OutOrStdout(), email, confirmed)
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().BoolVar(&confirmed, "confirmed", false, "mark the address as confirmed")
	_ = add.MarkFlagRequired("email")

	cmd.AddCommand(add)
	return cmd
}

func newSubscribeCommand(opts *rootOptions) *cobra.Command {
	var (
		email, node string
		notifyMe    bool
	)
	cmd := &cobra.Command{
		Use:               "subscribe",
		Short:             "subscribe a user to a node",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, app *App) error {
				return Subscribe(ctx, app, cmd.OutOrStdout(), email, node, notifyMe)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of a registered user")
	cmd.Flags().StringVar(&node, "node", "", "node id")
	cmd.Flags().BoolVar(&notifyMe, "notify", false, "send alarm notifications to the user")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

// AddNode registers info as a NEW node.
func AddNode(ctx context.Context, app *App, out io.Writer, info state.NodeInfo) error {
	reg, err := editable(app)
	if err != nil {
		return err
	}
	if info.ID == "" || info.Address == "" {
		return errors.New("node id and address are required")
	}
	if info.Name == "" {
		info.Name = info.ID
	}
	info.State = state.StateNew
	info.IsWaiting = true
	if err := reg.AddNode(ctx, info); err != nil {
		return err
	}
	fmt.Fprintf(out, "added node %s (%s)\n", info.ID, info.Address)
	return nil
}

// AddUser registers email as a notification recipient.
func AddUser(ctx context.Context, app *App, out io.Writer, email string, confirmed bool) error {
	reg, err := editable(app)
	if err != nil {
		return err
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email %q: %w", email, err)
	}
	user, err := reg.AddUser(ctx, email, confirmed)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "added user %d <%s>\n", user.ID, user.Email)
	return nil
}

// Subscribe links a registered user to a node.
func Subscribe(ctx context.Context, app *App, out io.Writer, email, nodeID string, notifyMe bool) error {
	reg, err := editable(app)
	if err != nil {
		return err
	}
	if err := reg.Subscribe(ctx, email, nodeID, notifyMe); err != nil {
		return err
	}
	fmt.Fprintf(out, "subscribed %s to %s (notify %t)\n", email, nodeID, notifyMe)
	return nil
}
