package commander

import (
	"github.com/spf13/cobra"

	"github.com/helmcommander/helmcommander/internal/doctor"
	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newDoctorCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Aggregate cross-release anomalies: stuck releases, orphaned secrets, mixed storage, revision bloat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(o)
		},
	}
}

func runDoctor(o *rootOptions) error {
	client, ctx, cancel, err := o.setup()
	if err != nil {
		return err
	}
	defer cancel()

	cfg, err := o.config()
	if err != nil {
		return newInvocationError(err)
	}

	thresholds := doctor.Thresholds{
		PendingStuckAfter:  cfg.DoctorPendingStuck,
		RevisionBloatCount: cfg.DoctorRevisionBloat,
		OrphanRetention:    cfg.DoctorOrphanRetention,
	}

	// Run's error, if any, is a bundle of individual check failures; each
	// check is independent and must not abort the others, so the findings
	// it did manage to collect are still printed below.
	engine := doctor.New(client, store.New(client), thresholds)
	findings, _ := engine.Run(ctx, o.namespace())

	format, err := o.printerFlags.Format()
	if err != nil {
		return newInvocationError(err)
	}
	if err := printers.PrintDoctorFindings(o.Out, format, findings); err != nil {
		return newInvocationError(err)
	}

	for _, f := range findings {
		if f.Severity == doctor.SeverityWarn || f.Severity == doctor.SeverityError {
			return newPartialResult()
		}
	}
	return nil
}
