package worklist

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

const createdLayout = "2006-01-02 15:04"

// Render writes the worklist as a numbered table. Row numbers are what the
// interactive commands take.
func Render(w io.Writer, vm *MainViewModel) error {
	state := "idle"
	if vm.IsSynchronising() {
		state = "synchronising"
	}
	if _, err := fmt.Fprintf(w, "User: %s (%s)\n", vm.UserName(), state); err != nil {
		return err
	}

	list := vm.Orders()
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No orders. Run sync to fetch your worklist.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tORDER\tCUSTOMER\tCREATED\tSTATUS\tACTIONS")
	for i, o := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, o.ID(), o.CustomerName(), o.CreatedAt().Format(createdLayout), status(o), actions(o))
	}
	return tw.Flush()
}

func status(o *OrderViewModel) string {
	switch {
	case o.IsCompleted():
		return "delivered"
	case o.IsCanceled():
		return "cancelled"
	}
	return "ready"
}

func actions(o *OrderViewModel) string {
	var out []string
	if o.CompleteCommand().CanExecute() {
		out = append(out, "complete")
	}
	if o.CancelCommand().CanExecute() {
		out = append(out, "cancel")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}
