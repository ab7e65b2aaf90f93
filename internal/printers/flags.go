// Package printers renders command results — release listings, diff
// entries, owner verdicts, doctor findings — as table, JSON or YAML, per
// the CLI surface. Every non-table format carries the degraded-item
// "errors" array alongside the payload.
package printers

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/cli-runtime/pkg/genericclioptions"
)

const flagOutputFormat = "output"

// Supported --output values.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Flags composes the printer flags shared by every subcommand, keeping flag
// parsing separate from printer construction.
type Flags struct {
	OutputFormat *string
}

// NewFlags returns Flags defaulted to table output.
func NewFlags() *Flags {
	f := FormatTable
	return &Flags{OutputFormat: &f}
}

// AddFlags binds --output/-o to cmd's flag set.
func (f *Flags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(f.OutputFormat, flagOutputFormat, "o", *f.OutputFormat, fmt.Sprintf("Output format. One of: %s.", strings.Join(f.AllowedFormats(), "|")))
}

// AllowedFormats is the list of formats in which data can be displayed.
func (f *Flags) AllowedFormats() []string {
	return []string{FormatTable, FormatJSON, FormatYAML}
}

// Format returns the configured output format, validated against
// AllowedFormats.
func (f *Flags) Format() (string, error) {
	format := FormatTable
	if f.OutputFormat != nil && *f.OutputFormat != "" {
		format = *f.OutputFormat
	}
	if !sets.NewString(f.AllowedFormats()...).Has(format) {
		return "", genericclioptions.NoCompatiblePrinterError{
			AllowedFormats: f.AllowedFormats(),
			OutputFormat:   &format,
		}
	}
	return format, nil
}
