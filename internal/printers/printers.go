package printers

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	cliprinters "k8s.io/cli-runtime/pkg/printers"
	"sigs.k8s.io/yaml"

	"github.com/helmcommander/helmcommander/internal/doctor"
	"github.com/helmcommander/helmcommander/internal/drift"
	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
	"github.com/helmcommander/helmcommander/internal/owner"
	"github.com/helmcommander/helmcommander/internal/release"
	"github.com/helmcommander/helmcommander/internal/repo"
)

const cellNotApplicable = "-"

// envelope is the JSON/YAML shape every non-table format renders: the
// payload plus the degraded-item errors array. Partial marks a result the
// invocation deadline truncated.
type envelope struct {
	Data    interface{}            `json:"data"`
	Errors  []helmerrors.ItemError `json:"errors,omitempty"`
	Partial bool                   `json:"partial,omitempty"`
}

func printStructured(w io.Writer, format string, data interface{}, errs []helmerrors.ItemError) error {
	env := envelope{Data: data, Errors: errs}
	for _, e := range errs {
		if e.Kind == helmerrors.Timeout {
			env.Partial = true
			break
		}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(env)
	case FormatYAML:
		out, err := yaml.Marshal(env)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unsupported structured format %q", format)
	}
}

func printTable(w io.Writer, columns []metav1.TableColumnDefinition, rows []metav1.TableRow) error {
	table := &metav1.Table{ColumnDefinitions: columns, Rows: rows}
	p := cliprinters.NewTablePrinter(cliprinters.PrintOptions{})
	return p.PrintObj(table, w)
}

// PrintReleases renders a release listing (list/history operations).
func PrintReleases(w io.Writer, format string, releases []*release.HelmRelease, errs []helmerrors.ItemError) error {
	if format != FormatTable {
		return printStructured(w, format, releases, errs)
	}
	columns := []metav1.TableColumnDefinition{
		{Name: "Namespace", Type: "string"},
		{Name: "Name", Type: "string"},
		{Name: "Revision", Type: "integer"},
		{Name: "Status", Type: "string"},
		{Name: "Chart", Type: "string"},
		{Name: "App Version", Type: "string"},
		{Name: "Storage", Type: "string"},
	}
	rows := make([]metav1.TableRow, 0, len(releases))
	for _, r := range releases {
		chart := r.Chart.Name
		if chart == "" {
			chart = cellNotApplicable
		} else {
			chart = fmt.Sprintf("%s-%s", r.Chart.Name, r.Chart.Version)
		}
		appVersion := r.Chart.AppVersion
		if appVersion == "" {
			appVersion = cellNotApplicable
		}
		// A release whose payload failed to decode is marked with an error
		// glyph in its status cell; the error itself is in the footer.
		status := string(r.Status)
		if r.DecodeError != nil {
			status += " (!)"
		}
		rows = append(rows, metav1.TableRow{
			Cells: []interface{}{r.Namespace, r.Name, r.Revision, status, chart, appVersion, string(r.StorageKind)},
		})
	}
	if err := printTable(w, columns, rows); err != nil {
		return err
	}
	return printErrorFooter(w, errs)
}

// PrintDiff renders a Drift Engine result.
func PrintDiff(w io.Writer, format string, entries []drift.DiffEntry) error {
	if format != FormatTable {
		return printStructured(w, format, entries, nil)
	}
	columns := []metav1.TableColumnDefinition{
		{Name: "Namespace", Type: "string"},
		{Name: "Kind", Type: "string"},
		{Name: "Name", Type: "string"},
		{Name: "Verdict", Type: "string"},
		{Name: "Changes", Type: "string"},
	}
	rows := make([]metav1.TableRow, 0, len(entries))
	for _, e := range entries {
		namespace := e.Namespace
		if namespace == "" {
			namespace = cellNotApplicable
		}
		changes := cellNotApplicable
		if len(e.Changes) > 0 {
			parts := make([]string, 0, len(e.Changes))
			for _, c := range e.Changes {
				parts = append(parts, fmt.Sprintf("%s: %v -> %v", c.Path, c.Old, c.New))
			}
			changes = strings.Join(parts, "; ")
		}
		rows = append(rows, metav1.TableRow{
			Cells: []interface{}{namespace, e.Kind, e.Name, string(e.Verdict), changes},
		})
	}
	return printTable(w, columns, rows)
}

// PrintOwnerVerdict renders an Owner Detector result.
func PrintOwnerVerdict(w io.Writer, format string, v owner.Verdict) error {
	if format != FormatTable {
		return printStructured(w, format, v, nil)
	}
	columns := []metav1.TableColumnDefinition{
		{Name: "Owner", Type: "string"},
		{Name: "Confidence", Type: "string"},
		{Name: "Evidence", Type: "string"},
	}
	rows := []metav1.TableRow{{
		Cells: []interface{}{string(v.Owner), string(v.Confidence), strings.Join(v.Evidence, "; ")},
	}}
	return printTable(w, columns, rows)
}

// PrintDoctorFindings renders the Doctor Engine's findings.
func PrintDoctorFindings(w io.Writer, format string, findings []doctor.Finding) error {
	if format != FormatTable {
		return printStructured(w, format, findings, nil)
	}
	columns := []metav1.TableColumnDefinition{
		{Name: "Category", Type: "string"},
		{Name: "Severity", Type: "string"},
		{Name: "Release", Type: "string"},
		{Name: "Message", Type: "string"},
	}
	rows := make([]metav1.TableRow, 0, len(findings))
	for _, f := range findings {
		release := f.Release
		if release == "" {
			release = cellNotApplicable
		}
		rows = append(rows, metav1.TableRow{
			Cells: []interface{}{string(f.Category), string(f.Severity), release, f.Message},
		})
	}
	return printTable(w, columns, rows)
}

// UpdateRow pairs a release identity with its Update Checker result, for the
// "updates" subcommand.
type UpdateRow struct {
	Namespace string
	Name      string
	Result    *repo.UpdateResult
}

// PrintUpdates renders the Update Checker's per-release results.
func PrintUpdates(w io.Writer, format string, rows []UpdateRow) error {
	if format != FormatTable {
		return printStructured(w, format, rows, nil)
	}
	columns := []metav1.TableColumnDefinition{
		{Name: "Namespace", Type: "string"},
		{Name: "Name", Type: "string"},
		{Name: "Current", Type: "string"},
		{Name: "Latest", Type: "string"},
		{Name: "Repo", Type: "string"},
		{Name: "Upgrade Available", Type: "string"},
	}
	tableRows := make([]metav1.TableRow, 0, len(rows))
	for _, r := range rows {
		if r.Result == nil {
			tableRows = append(tableRows, metav1.TableRow{
				Cells: []interface{}{r.Namespace, r.Name, cellNotApplicable, cellNotApplicable, cellNotApplicable, "unknown"},
			})
			continue
		}
		tableRows = append(tableRows, metav1.TableRow{
			Cells: []interface{}{r.Namespace, r.Name, r.Result.Current, r.Result.Latest, r.Result.Repo, fmt.Sprintf("%t", r.Result.IsUpgradeAvailable)},
		})
	}
	return printTable(w, columns, tableRows)
}

func printErrorFooter(w io.Writer, errs []helmerrors.ItemError) error {
	for _, e := range errs {
		if _, err := fmt.Fprintf(w, "error: %s: %s: %s\n", e.Item, e.Kind, e.Message); err != nil {
			return err
		}
	}
	return nil
}
