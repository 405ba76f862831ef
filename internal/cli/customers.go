package cli

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/ariefcatur/go-worklist-sync/internal/client"
	"github.com/ariefcatur/go-worklist-sync/internal/orders"
	"github.com/spf13/cobra"
)

// NewCustomersCommand creates the customers command and its subcommands.
func NewCustomersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customers",
		Short: "Show the local customers with their last pulled stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.Customers(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No customers. Run sync to fetch them.")
				return nil
			}
			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			byID := make(map[string]orders.CustomerStats, len(stats))
			for _, st := range stats {
				byID[st.ID] = st
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCITY\tTHIS MONTH\tWORKERS")
			for _, c := range list {
				month, workers := "-", "-"
				if st, ok := byID[c.ID]; ok {
					month = strconv.Itoa(st.OrdersCreatedInThisMonth)
					workers = strconv.Itoa(st.WorkerCountForOrders)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.City, month, workers)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newCustomerAddCommand(rootOpts))
	cmd.AddCommand(newCustomerRemoveCommand(rootOpts))
	return cmd
}

func newCustomerAddCommand(rootOpts *RootOptions) *cobra.Command {
	var c orders.Customer
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a customer; it is sent on the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			c.Name = args[0]
			saved, err := a.store.AddCustomer(cmd.Context(), c)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Customer %s added as %s; run sync to send it\n", saved.Name, saved.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.Street, "street", "", "street and number")
	cmd.Flags().StringVar(&c.PostalCode, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&c.City, "city", "", "city")
	return cmd
}

func newCustomerRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <customer-id>",
		Short: "Remove a customer; the deletion is sent on the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.store.RemoveCustomer(cmd.Context(), args[0])
			if errors.Is(err, client.ErrCustomerNotFound) {
				return fmt.Errorf("no customer %q in the local copy, run sync first", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Customer %s removed; run sync to send it\n", args[0])
			return nil
		},
	}
}
