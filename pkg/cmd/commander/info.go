package commander

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/release"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newInfoCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show the current revision of a single release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(o, args[0])
		},
	}
}

func runInfo(o *rootOptions, name string) error {
	if o.namespace() == "" {
		return newInvocationError(errors.New("info requires --namespace"))
	}
	client, ctx, cancel, err := o.setup()
	if err != nil {
		return err
	}
	defer cancel()

	st := store.New(client)
	rls, err := st.Get(ctx, name, o.namespace())
	if err != nil {
		return classifyError(err)
	}

	format, err := o.printerFlags.Format()
	if err != nil {
		return newInvocationError(err)
	}
	if err := printers.PrintReleases(o.Out, format, []*release.HelmRelease{rls}, nil); err != nil {
		return newInvocationError(err)
	}
	return nil
}
