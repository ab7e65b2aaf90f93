package commander

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history NAME",
		Short: "List every stored revision of a release, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(o, args[0])
		},
	}
}

func runHistory(o *rootOptions, name string) error {
	if o.namespace() == "" {
		return newInvocationError(errors.New("history requires --namespace"))
	}
	client, ctx, cancel, err := o.setup()
	if err != nil {
		return err
	}
	defer cancel()

	st := store.New(client)
	result, err := st.History(ctx, name, o.namespace())
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
