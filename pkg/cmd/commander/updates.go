package commander

import (
	"github.com/spf13/cobra"

	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/repo"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newUpdatesCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "Check deployed charts against the local repo index cache for available upgrades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdates(o)
		},
	}
}

func runUpdates(o *rootOptions) error {
	client, ctx, cancel, err := o.setup()
	if err != nil {
		return err
	}
	defer cancel()

	cfg, err := o.config()
	if err != nil {
		return newInvocationError(err)
	}

	filters, err := o.filters()
	if err != nil {
		return err
	}

	st := store.New(client)
	result, err := st.List(ctx, o.namespace(), filters)
	if err != nil {
		return classifyError(err)
	}

	resolver := repo.NewResolverWithOverride(cfg.CacheHome)
	checker := repo.NewChecker(resolver)

	rows := make([]printers.UpdateRow, 0, len(result.Releases))
	for _, rls := range result.Releases {
		row := printers.UpdateRow{Namespace: rls.Namespace, Name: rls.Name}
		if rls.Chart.Name != "" {
			// A lookup failure (e.g. unreadable index file) degrades this
			// one release's row to "unknown" rather than aborting the rest.
			if res, cerr := checker.Check(rls.Chart.Name, rls.Chart.Version); cerr == nil {
				row.Result = res
			}
		}
		rows = append(rows, row)
	}

	format, err := o.printerFlags.Format()
	if err != nil {
		return newInvocationError(err)
	}
	if err := printers.PrintUpdates(o.Out, format, rows); err != nil {
		return newInvocationError(err)
	}

	for _, r := range rows {
		if r.Result != nil && r.Result.IsUpgradeAvailable {
			return newPartialResult()
		}
	}
	return nil
}
