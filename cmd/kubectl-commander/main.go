// Command kubectl-commander is the kubectl-plugin entrypoint: the same
// root command as cmd/helmcommander, installed under the name kubectl
// looks for when invoked as `kubectl commander`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/cli-runtime/pkg/genericclioptions"

	"github.com/helmcommander/helmcommander/internal/version"
	"github.com/helmcommander/helmcommander/pkg/cmd/commander"
)

func main() {
	flags := pflag.NewFlagSet("kubectl-commander", pflag.ExitOnError)
	pflag.CommandLine = flags

	streams := genericclioptions.IOStreams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
	cmd := commander.New(streams, "kubectl commander")
	cmd.SetVersionTemplate("{{printf \"%s\" .Version}}\n")
	cmd.Version = fmt.Sprintf("%#v", version.Get())

	if err := cmd.Execute(); err != nil {
		os.Exit(commander.ExitCode(err))
	}
}
