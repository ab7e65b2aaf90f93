package commander

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/helmcommander/helmcommander/internal/drift"
	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newDriftCmd(o *rootOptions) *cobra.Command {
	var extraLive bool
	cmd := &cobra.Command{
		Use:   "drift NAME",
		Short: "Compare a release's stored manifest against the live cluster state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrift(o, args[0], extraLive)
		},
	}
	cmd.Flags().BoolVar(&extraLive, "extra-live", false, "Also report live resources the release should own but doesn't list in its manifest (best-effort)")
	return cmd
}

func runDrift(o *rootOptions, name string, extraLive bool) error {
	if o.namespace() == "" {
		return newInvocationError(errors.New("drift requires --namespace"))
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

	engine := drift.New(client)
	entries, err := engine.Diff(ctx, rls, extraLive)
	if err != nil {
		return classifyError(err)
	}

	format, err := o.printerFlags.Format()
	if err != nil {
		return newInvocationError(err)
	}
	if err := printers.PrintDiff(o.Out, format, entries); err != nil {
		return newInvocationError(err)
	}

	for _, e := range entries {
		if e.Verdict == drift.VerdictModified {
			return newPartialResult()
		}
	}
	return nil
}
