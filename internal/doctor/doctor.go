// Package doctor implements the Doctor Engine: a set of independent
// diagnostic checks over every release and storage object, none of which
// aborts the others on failure.
package doctor

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/labels"

	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/release"
	"github.com/helmcommander/helmcommander/internal/store"
)

// Severity grades a Finding.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Category is one of the fixed diagnostic kinds.
type Category string

const (
	CategoryStorageMixed       Category = "storage-mixed"
	CategoryFailed             Category = "failed"
	CategoryPendingStuck       Category = "pending-stuck"
	CategoryNoDeployedRevision Category = "no-deployed-revision"
	CategoryDuplicateChart     Category = "duplicate-chart"
	CategoryOrphanedSecret     Category = "orphaned-secret"
	CategoryRevisionBloat      Category = "revision-bloat"
)

// Finding is one diagnostic emitted by the engine.
type Finding struct {
	Category Category
	Severity Severity
	Release  string // namespace/name; the namespace alone for duplicate-chart; empty for cluster-wide findings
	Message  string
}

// Thresholds configures the tunable check triggers, wired from the
// doctor.pending-stuck, doctor.revision-bloat and doctor.orphan-retention
// config keys.
type Thresholds struct {
	PendingStuckAfter  time.Duration
	RevisionBloatCount int
	OrphanRetention    time.Duration
}

// DefaultThresholds returns the built-in trigger values.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PendingStuckAfter:  15 * time.Minute,
		RevisionBloatCount: 10,
		OrphanRetention:    24 * time.Hour,
	}
}

// Engine runs the Doctor checks.
type Engine struct {
	client     k8s.Interface
	store      *store.Store
	thresholds Thresholds
}

// New returns an Engine backed by the given access layer and store.
func New(client k8s.Interface, st *store.Store, thresholds Thresholds) *Engine {
	return &Engine{client: client, store: st, thresholds: thresholds}
}

// Run executes every check across every namespace (namespace == "" means
// cluster-wide) and returns the combined findings. Each check's failure is
// collected rather than aborting the others.
func (e *Engine) Run(ctx context.Context, namespace string) ([]Finding, error) {
	listing, err := e.store.List(ctx, namespace, store.Filters{})
	var merr *multierror.Error
	if err != nil {
		merr = multierror.Append(merr, err)
	}
	var releases []*release.HelmRelease
	if listing != nil {
		releases = listing.Releases
		for _, ie := range listing.Errors {
			merr = multierror.Append(merr, helmerrors.New(ie.Kind, ie.Item, errString(ie.Message)))
		}
	}

	var findings []Finding
	findings = append(findings, checkStorageMixed(releases)...)
	findings = append(findings, checkFailed(releases)...)
	findings = append(findings, checkPendingStuck(releases, e.thresholds.PendingStuckAfter)...)
	findings = append(findings, checkDuplicateChart(releases)...)

	// The remaining three checks each make their own cluster calls
	// (per-release history lookups, a cluster-wide secret listing) and are
	// independent of one another, so they run concurrently; each
	// result is collected under its own mutex-free slot and merged after
	// the group completes, rather than fanning writes into shared state.
	var noDeployed, bloat, orphaned []Finding
	var nerr, berr, oerr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		noDeployed, nerr = e.checkNoDeployedRevision(gctx, releases)
		return nil
	})
	g.Go(func() error {
		bloat, berr = e.checkRevisionBloat(gctx, releases)
		return nil
	})
	g.Go(func() error {
		orphaned, oerr = e.checkOrphanedSecrets(gctx, namespace, releases)
		return nil
	})
	_ = g.Wait()

	findings = append(findings, noDeployed...)
	findings = append(findings, bloat...)
	findings = append(findings, orphaned...)
	if nerr != nil {
		merr = multierror.Append(merr, nerr)
	}
	if berr != nil {
		merr = multierror.Append(merr, berr)
	}
	if oerr != nil {
		merr = multierror.Append(merr, oerr)
	}

	return findings, merr.ErrorOrNil()
}

func checkStorageMixed(releases []*release.HelmRelease) []Finding {
	hasSecret, hasConfigMap := false, false
	for _, r := range releases {
		switch r.StorageKind {
		case release.StorageSecret:
			hasSecret = true
		case release.StorageConfigMap:
			hasConfigMap = true
		}
	}
	if hasSecret && hasConfigMap {
		return []Finding{{
			Category: CategoryStorageMixed,
			Severity: SeverityWarn,
			Message:  "releases exist under both the secret and configmap storage drivers",
		}}
	}
	return nil
}

func checkFailed(releases []*release.HelmRelease) []Finding {
	var findings []Finding
	for _, r := range releases {
		if r.Status == release.StatusFailed {
			findings = append(findings, Finding{
				Category: CategoryFailed,
				Severity: SeverityError,
				Release:  r.Key(),
				Message:  "release status is failed",
			})
		}
	}
	return findings
}

func checkPendingStuck(releases []*release.HelmRelease, after time.Duration) []Finding {
	var findings []Finding
	for _, r := range releases {
		if !r.Status.IsPending() {
			continue
		}
		if r.UpdatedAt.IsZero() || time.Since(r.UpdatedAt) > after {
			findings = append(findings, Finding{
				Category: CategoryPendingStuck,
				Severity: SeverityError,
				Release:  r.Key(),
				Message:  "release has been " + string(r.Status) + " for longer than the stuck threshold",
			})
		}
	}
	return findings
}

func checkDuplicateChart(releases []*release.HelmRelease) []Finding {
	type key struct{ namespace, chart string }
	counts := map[key][]string{}
	for _, r := range releases {
		if r.Chart.Name == "" {
			continue
		}
		k := key{namespace: r.Namespace, chart: r.Chart.Name}
		counts[k] = append(counts[k], r.Name)
	}
	var findings []Finding
	for k, names := range counts {
		if len(names) < 2 {
			continue
		}
		findings = append(findings, Finding{
			Category: CategoryDuplicateChart,
			Severity: SeverityWarn,
			Release:  k.namespace,
			Message:  "multiple releases use chart " + k.chart + " in this namespace",
		})
	}
	return findings
}

// checkNoDeployedRevision and checkRevisionBloat both need a release's full
// history, which List's fast summary doesn't carry; each release is
// queried independently so one release's history failure doesn't abort
// the others.
func (e *Engine) checkNoDeployedRevision(ctx context.Context, releases []*release.HelmRelease) ([]Finding, error) {
	var findings []Finding
	var merr *multierror.Error
	for _, r := range releases {
		hist, err := e.store.History(ctx, r.Name, r.Namespace)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		hasDeployed := false
		for _, h := range hist.Releases {
			if h.Status == release.StatusDeployed {
				hasDeployed = true
				break
			}
		}
		if !hasDeployed {
			findings = append(findings, Finding{
				Category: CategoryNoDeployedRevision,
				Severity: SeverityWarn,
				Release:  r.Key(),
				Message:  "no revision in this release's history has status deployed",
			})
		}
	}
	return findings, merr.ErrorOrNil()
}

func (e *Engine) checkRevisionBloat(ctx context.Context, releases []*release.HelmRelease) ([]Finding, error) {
	var findings []Finding
	var merr *multierror.Error
	for _, r := range releases {
		hist, err := e.store.History(ctx, r.Name, r.Namespace)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if len(hist.Releases) > e.thresholds.RevisionBloatCount {
			findings = append(findings, Finding{
				Category: CategoryRevisionBloat,
				Severity: SeverityInfo,
				Release:  r.Key(),
				Message:  "release has more stored revisions than the bloat threshold",
			})
		}
	}
	return findings, merr.ErrorOrNil()
}

// checkOrphanedSecrets scans every helm.sh/release.v1 Secret directly
// (bypassing the latest-only Store) to find name labels with exactly one
// revision, uninstalled, older than the retention threshold.
func (e *Engine) checkOrphanedSecrets(ctx context.Context, namespace string, releases []*release.HelmRelease) ([]Finding, error) {
	sel := labels.SelectorFromSet(labels.Set{release.LabelOwner: release.OwnerHelm})
	secrets, err := e.client.ListSecrets(ctx, k8s.ListOptions{Namespace: namespace, LabelSelector: sel})
	if err != nil {
		return nil, err
	}

	// Revisions are counted per (namespace, name): two releases sharing a
	// name in different namespaces are unrelated.
	type secretKey struct{ namespace, name string }
	counts := map[secretKey]int{}
	for _, s := range secrets {
		counts[secretKey{s.GetNamespace(), s.GetLabels()[release.LabelName]}]++
	}

	var findings []Finding
	for _, s := range secrets {
		name := s.GetLabels()[release.LabelName]
		if counts[secretKey{s.GetNamespace(), name}] != 1 {
			continue
		}
		status := release.Status(s.GetLabels()[release.LabelStatus])
		if status != release.StatusUninstalled {
			continue
		}
		age := s.GetCreationTimestamp().Time
		if age.IsZero() || time.Since(age) < e.thresholds.OrphanRetention {
			continue
		}
		findings = append(findings, Finding{
			Category: CategoryOrphanedSecret,
			Severity: SeverityWarn,
			Release:  s.GetNamespace() + "/" + name,
			Message:  "sole uninstalled revision has outlived the orphan retention threshold",
		})
	}
	return findings, nil
}

type errString string

func (e errString) Error() string { return string(e) }
