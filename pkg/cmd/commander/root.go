// Package commander implements the helmcommander CLI surface: the
// list, info, history, drift, source, updates and doctor subcommands.
package commander

import (
	"errors"
	goflag "flag"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/klog/v2"

	"github.com/helmcommander/helmcommander/internal/config"
	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/printers"
)

const defaultTimeout = 60 * time.Second

// exitError carries the process exit code a failure should produce:
// 0 success, 1 partial (findings/drift present), 2 invocation error,
// 3 access denied / cluster unreachable.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newInvocationError(err error) error { return &exitError{code: 2, err: err} }
func newAccessError(err error) error     { return &exitError{code: 3, err: err} }
func newPartialResult() error            { return &exitError{code: 1, err: fmt.Errorf("partial result")} }

// ExitCode extracts the process exit code intended for err: 0 if err is
// nil, otherwise whatever code the command attached, defaulting to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	clientFlags  *k8s.Flags
	printerFlags *printers.Flags

	filter  string
	only    string
	timeout time.Duration
	cfgFile string

	flags *pflag.FlagSet

	genericclioptions.IOStreams
}

// New returns the root helmcommander command.
func New(streams genericclioptions.IOStreams, name string) *cobra.Command {
	o := &rootOptions{
		clientFlags:  k8s.NewFlags(),
		printerFlags: printers.NewFlags(),
		IOStreams:    streams,
	}

	cmd := &cobra.Command{
		Use:           name,
		Short:         "Read-only diagnostics for Helm v3 releases",
		Long:          "helmcommander inspects Helm v3 release storage, drift and update status directly from the Kubernetes API, without invoking the helm binary.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	o.clientFlags.AddFlags(cmd.PersistentFlags())
	o.printerFlags.AddFlags(cmd.PersistentFlags())
	config.AddFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&o.filter, "filter", "", "Regular expression matched against release and chart name")
	cmd.PersistentFlags().StringVar(&o.only, "only", "", "Restrict output to releases matching this status, or \"problematic\"")
	cmd.PersistentFlags().DurationVar(&o.timeout, "timeout", defaultTimeout, "Overall deadline for the invocation")
	cmd.PersistentFlags().StringVar(&o.cfgFile, "config", "", "Path to an optional config file")
	addLogFlags(cmd.PersistentFlags())
	o.flags = cmd.PersistentFlags()

	cmd.AddCommand(
		newListCmd(o),
		newInfoCmd(o),
		newHistoryCmd(o),
		newDriftCmd(o),
		newSourceCmd(o),
		newUpdatesCmd(o),
		newDoctorCmd(o),
	)

	return cmd
}

func addLogFlags(flags *pflag.FlagSet) {
	klogFlagSet := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlagSet)
	flags.AddGoFlagSet(klogFlagSet)
	_ = flags.Set("logtostderr", "true")

	_ = flags.MarkHidden("add_dir_header")
	_ = flags.MarkHidden("alsologtostderr")
	_ = flags.MarkHidden("log_backtrace_at")
	_ = flags.MarkHidden("log_dir")
	_ = flags.MarkHidden("log_file")
	_ = flags.MarkHidden("log_file_max_size")
	_ = flags.MarkHidden("logtostderr")
	_ = flags.MarkHidden("one_output")
	_ = flags.MarkHidden("skip_headers")
	_ = flags.MarkHidden("skip_log_headers")
	_ = flags.MarkHidden("stderrthreshold")
	_ = flags.MarkHidden("v")
	_ = flags.MarkHidden("vmodule")
}
