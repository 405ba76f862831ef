package cli

import (
	"errors"
	"fmt"

	"github.com/ariefcatur/go-worklist-sync/internal/client"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/ariefcatur/go-worklist-sync/internal/worklist"
	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var discard bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes, then pull the server state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if discard {
				n, err := a.store.DiscardFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d rejected change(s)\n", n)
			}
			if err := a.vm.SynchroniseCommand().Execute(cmd.Context()); err != nil {
				return err
			}
			if err := reportRejected(cmd, a.store); err != nil {
				return err
			}
			return worklist.Render(cmd.OutOrStdout(), a.vm)
		},
	}
	cmd.Flags().BoolVar(&discard, "discard-conflicts", false, "drop rejected local changes and restore the server copy first")
	return cmd
}

func reportRejected(cmd *cobra.Command, store *client.Store) error {
	ops, err := store.Operations(cmd.Context(), "")
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Failed() {
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected: %s %s: %s\n", op.Table, op.RowID, op.LastError)
		}
	}
	return nil
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the local worklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.vm.Reload(cmd.Context()); err != nil {
				return err
			}
			return worklist.Render(cmd.OutOrStdout(), a.vm)
		},
	}
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	return newMoveCommand(rootOpts, "complete", "Mark an order delivered", orders.StatusDelivered)
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return newMoveCommand(rootOpts, "cancel", "Cancel an order", orders.StatusCancelled)
}

func newMoveCommand(rootOpts *RootOptions, verb, short string, to orders.Status) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <order-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			move := a.store.CompleteOrder
			if to == orders.StatusCancelled {
				move = a.store.CancelOrder
			}
			changed, err := move(cmd.Context(), args[0])
			if errors.Is(err, client.ErrOrderNotFound) {
				return fmt.Errorf("no order %q in the local worklist, run sync first", args[0])
			}
			if err != nil {
				return err
			}
			if !changed {
				row, err := a.store.Order(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Order %s is %s and cannot be changed\n", args[0], row.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Order %s is now %s; run sync to send it\n", args[0], to)
			return nil
		},
	}
}

// NewUserCommand creates the user command.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "user [name]",
		Short: "Show or change the user the client acts as",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := client.LoadSettings(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			users := client.NewUserNameStore(rootOpts.ConfigPath, settings)
			if len(args) == 1 {
				if err := users.SetUserName(args[0]); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), users.UserName())
			return nil
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queued changes and whether the server has news",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			ops, err := a.store.Operations(cmd.Context(), "")
			if err != nil {
				return err
			}
			failed := 0
			for _, op := range ops {
				if op.Failed() {
					failed++
				}
			}
			fmt.Fprintf(out, "User:     %s\n", a.users.UserName())
			fmt.Fprintf(out, "Server:   %s\n", a.settings.Endpoint)
			fmt.Fprintf(out, "Queued:   %d (%d rejected)\n", len(ops), failed)

			since, err := a.store.DeltaToken(cmd.Context(), orders.TableOrders)
			if err != nil {
				return err
			}
			if since.IsZero() {
				fmt.Fprintln(out, "Pulled:   never")
			} else {
				fmt.Fprintf(out, "Pulled:   %s\n", since.Format("2006-01-02 15:04:05"))
			}

			hint, err := a.tables.SyncHint(cmd.Context())
			switch {
			case err != nil:
				fmt.Fprintln(out, "Changes:  server unreachable")
			case hint.ChangedAt == nil || !hint.ChangedAt.After(since):
				fmt.Fprintln(out, "Changes:  none")
			default:
				fmt.Fprintf(out, "Changes:  %s, run sync\n", hint.ChangedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
