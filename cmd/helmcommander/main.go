// Command helmcommander is the standalone CLI entrypoint. It shares its
// root command construction with cmd/kubectl-commander, so the binary and
// the kubectl plugin behave identically.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/cli-runtime/pkg/genericclioptions"

	"github.com/helmcommander/helmcommander/internal/version"
	"github.com/helmcommander/helmcommander/pkg/cmd/commander"
)

var rootCmdName = "helmcommander"

//nolint:gochecknoinits
func init() {
	if strings.HasPrefix(filepath.Base(os.Args[0]), "kubectl-") {
		rootCmdName = "kubectl commander"
	}
}

func main() {
	flags := pflag.NewFlagSet(rootCmdName, pflag.ExitOnError)
	pflag.CommandLine = flags

	streams := genericclioptions.IOStreams{In: os.Stdin, Out: os.Stdout, ErrOut: os.Stderr}
	cmd := commander.New(streams, rootCmdName)
	cmd.SetVersionTemplate("{{printf \"%s\" .Version}}\n")
	cmd.Version = fmt.Sprintf("%#v", version.Get())

	if err := cmd.Execute(); err != nil {
		os.Exit(commander.ExitCode(err))
	}
}
