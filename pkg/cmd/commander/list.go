package commander

import (
	"github.com/spf13/cobra"

	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newListCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the current release in every namespace the caller can see",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(o)
		},
	}
	return cmd
}

func runList(o *rootOptions) error {
	client, ctx, cancel, err := o.setup()
	if err != nil {
		return err
	}
	defer cancel()

	filters, err := o.filters()
	if err != nil {
		return err
	}

	st := store.New(client)
	result, err := st.List(ctx, o.namespace(), filters)
	if err != nil {
		return classifyError(err)
	}

	format, err := o.printerFlags.Format()
	if err != nil {
		return newInvocationError(err)
	}
	if err := printers.PrintReleases(o.Out, format, result.Releases, result.Errors); err != nil {
		return newInvocationError(err)
	}
	if len(result.Errors) > 0 {
		return newPartialResult()
	}
	return nil
}
