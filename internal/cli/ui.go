package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-worklist-sync/internal/worklist"
	"github.com/spf13/cobra"
)

const uiHelp = `Commands:
  sync           push local changes and pull the server state
  complete <n>   mark order n delivered
  cancel <n>     cancel order n
  user <name>    switch user
  list           redraw the worklist
  quit           leave`

// NewUICommand creates the interactive worklist.
func NewUICommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Interactive worklist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.vm.Reload(cmd.Context()); err != nil {
				return err
			}
			return runUI(cmd.Context(), a.vm, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runUI(ctx context.Context, vm *worklist.MainViewModel, in io.Reader, out io.Writer) error {
	if err := worklist.Render(out, vm); err != nil {
		return err
	}
	fmt.Fprintln(out, uiHelp)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}

		var err error
		switch verb := fields[0]; verb {
		case "quit", "exit", "q":
			return nil
		case "help", "?":
			fmt.Fprintln(out, uiHelp)
			continue
		case "list", "ls":
			err = vm.Reload(ctx)
		case "sync":
			err = vm.SynchroniseCommand().Execute(ctx)
		case "user":
			if len(fields) < 2 {
				fmt.Fprintln(out, vm.UserName())
				continue
			}
			vm.SetUserName(fields[1])
		case "complete", "cancel":
			var o *worklist.OrderViewModel
			if o, err = pick(vm, fields); err == nil {
				if verb == "complete" {
					err = o.Complete(ctx)
				} else {
					err = o.Cancel(ctx)
				}
			}
		default:
			fmt.Fprintf(out, "unknown command %q, try help\n", verb)
			continue
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := worklist.Render(out, vm); err != nil {
			return err
		}
	}
}

// pick resolves the row number typed by the user.
func pick(vm *worklist.MainViewModel, fields []string) (*worklist.OrderViewModel, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("%s needs an order number", fields[0])
	}
	n, err := strconv.Atoi(fields[1])
	list := vm.Orders()
	if err != nil || n < 1 || n > len(list) {
		return nil, fmt.Errorf("no order number %q", fields[1])
	}
	return list[n-1], nil
}
