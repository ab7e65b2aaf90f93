// Package store implements the label-indexed Release Store: it
// enumerates storage objects without decoding every payload, selects the
// latest revision per (name, namespace), and applies filters.
package store

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"

	"golang.org/x/sync/errgroup"

	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/release"
)

// Filters narrows a List call.
type Filters struct {
	// Match, when non-nil, is matched against name and chart_name (union).
	Match *regexp.Regexp
	// OnlyProblematic retains releases in a problem status, including the
	// derived superseded-without-deployed pseudo-status.
	OnlyProblematic bool
	// Status, when non-empty, is an exact case-insensitive status match.
	Status string
}

// Store enumerates release storage objects and selects current revisions.
type Store struct {
	client k8s.Interface
}

// New returns a Store backed by the given access layer.
func New(client k8s.Interface) *Store {
	return &Store{client: client}
}

// entry is one storage object, decoded only far enough to select the latest
// revision within its (name, namespace) group.
type entry struct {
	obj  unstructuredv1.Unstructured
	kind release.StorageKind
}

func (e entry) name() string      { return e.obj.GetLabels()[release.LabelName] }
func (e entry) namespace() string { return e.obj.GetNamespace() }
func (e entry) version() int {
	r, err := release.FromLabels(&e.obj, e.kind)
	if err != nil {
		return -1
	}
	return r.Revision
}

// Result wraps a listing with the per-item errors that degraded rather than
// aborted it: a single corrupt item must not mask the rest of the list.
type Result struct {
	Releases []*release.HelmRelease
	Errors   []helmerrors.ItemError
}

// fetchEntries lists every helm-owned Secret and ConfigMap in scope. The two
// listings are independent network calls, so they run concurrently;
// either one failing degrades to a collected error rather than aborting the
// other.
func (s *Store) fetchEntries(ctx context.Context, namespace string) ([]entry, *multierror.Error) {
	sel := labels.SelectorFromSet(labels.Set{release.LabelOwner: release.OwnerHelm})
	opts := k8s.ListOptions{Namespace: namespace, LabelSelector: sel}

	var secrets, cfgmaps []unstructuredv1.Unstructured
	var secretsErr, cfgmapsErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		secrets, secretsErr = s.client.ListSecrets(gctx, opts)
		return nil
	})
	g.Go(func() error {
		cfgmaps, cfgmapsErr = s.client.ListConfigMaps(gctx, opts)
		return nil
	})
	_ = g.Wait() // the goroutines themselves never return an error; failures are captured above

	var merr *multierror.Error
	if secretsErr != nil {
		merr = multierror.Append(merr, secretsErr)
	}
	if cfgmapsErr != nil {
		merr = multierror.Append(merr, cfgmapsErr)
	}

	var entries []entry
	for i := range secrets {
		entries = append(entries, entry{obj: secrets[i], kind: release.StorageSecret})
	}
	for i := range cfgmaps {
		entries = append(entries, entry{obj: cfgmaps[i], kind: release.StorageConfigMap})
	}

	return entries, merr
}

// groupKey is (name, namespace).
type groupKey struct{ name, namespace string }

// selectLatest groups entries by (name, namespace). The latest entry of each
// group is chosen afterwards by pickLatestByVersionAndTime.
func selectLatest(entries []entry) map[groupKey][]entry {
	groups := map[groupKey][]entry{}
	for _, e := range entries {
		k := groupKey{name: e.name(), namespace: e.namespace()}
		groups[k] = append(groups[k], e)
	}
	return groups
}

// List returns the current HelmRelease per (name, namespace), ordered by
// (namespace, name) ascending, with filters applied.
func (s *Store) List(ctx context.Context, namespace string, f Filters) (*Result, error) {
	entries, merr := s.fetchEntries(ctx, namespace)
	res := &Result{}
	if merr != nil {
		for _, e := range merr.Errors {
			res.Errors = append(res.Errors, helmerrors.FromError("list", e))
		}
	}

	groups := selectLatest(entries)
	var releases []*release.HelmRelease
	for key, group := range groups {
		latest := pickLatestByVersionAndTime(group)
		rls, err := decodeFull(latest)
		if err != nil {
			// A corrupt payload must not mask the rest of the list: the
			// release stays in the output with status unknown and the
			// decode error attached, next to the collected item error.
			res.Errors = append(res.Errors, helmerrors.FromError(key.namespace+"/"+key.name, err))
			rls = degraded(latest, err)
		}
		if f.OnlyProblematic {
			history, _ := s.historyFor(group)
			if !isProblematic(rls, history) {
				continue
			}
		}
		if f.Status != "" && !strings.EqualFold(string(rls.Status), f.Status) {
			continue
		}
		if f.Match != nil && !f.Match.MatchString(rls.Name) && !f.Match.MatchString(rls.Chart.Name) {
			continue
		}
		releases = append(releases, rls)
	}

	sort.Slice(releases, func(i, j int) bool {
		if releases[i].Namespace != releases[j].Namespace {
			return releases[i].Namespace < releases[j].Namespace
		}
		return releases[i].Name < releases[j].Name
	})
	res.Releases = releases
	return res, nil
}

// Get returns the highest-revision HelmRelease matching (name, namespace).
func (s *Store) Get(ctx context.Context, name, namespace string) (*release.HelmRelease, error) {
	entries, merr := s.fetchEntries(ctx, namespace)
	if merr != nil && len(entries) == 0 {
		return nil, merr.ErrorOrNil()
	}
	var group []entry
	for _, e := range entries {
		if e.name() == name && e.namespace() == namespace {
			group = append(group, e)
		}
	}
	if len(group) == 0 {
		return nil, helmerrors.New(helmerrors.NotFound, namespace+"/"+name, errNotFound{name, namespace})
	}
	latest := pickLatestByVersionAndTime(group)
	return decodeFull(latest)
}

// History returns every revision of (name, namespace), descending by
// revision, plus any per-revision decode errors that degraded the result
// rather than aborting it.
func (s *Store) History(ctx context.Context, name, namespace string) (*Result, error) {
	entries, merr := s.fetchEntries(ctx, namespace)
	if merr != nil && len(entries) == 0 {
		return nil, merr.ErrorOrNil()
	}
	res := &Result{}
	for _, e := range entries {
		if e.name() != name || e.namespace() != namespace {
			continue
		}
		rls, err := decodeFull(e)
		if err != nil {
			res.Errors = append(res.Errors, helmerrors.FromError(e.obj.GetName(), err))
			rls = degraded(e, err)
		}
		res.Releases = append(res.Releases, rls)
	}
	sort.Slice(res.Releases, func(i, j int) bool { return res.Releases[i].Revision > res.Releases[j].Revision })
	if len(res.Releases) == 0 {
		return nil, helmerrors.New(helmerrors.NotFound, namespace+"/"+name, errNotFound{name, namespace})
	}
	return res, nil
}

func (s *Store) historyFor(group []entry) ([]*release.HelmRelease, error) {
	var out []*release.HelmRelease
	for _, e := range group {
		rls, err := decodeFull(e)
		if err != nil {
			continue
		}
		out = append(out, rls)
	}
	return out, nil
}

// isProblematic implements the only=problematic predicate, including the
// derived superseded-without-deployed pseudo-status.
func isProblematic(rls *release.HelmRelease, history []*release.HelmRelease) bool {
	switch rls.Status {
	case release.StatusFailed, release.StatusPendingInstall, release.StatusPendingUpgrade, release.StatusPendingRollback:
		return true
	}
	hasDeployed := false
	for _, h := range history {
		if h.Status == release.StatusDeployed {
			hasDeployed = true
			break
		}
	}
	return !hasDeployed
}

// degraded synthesizes a label-only stand-in for a storage object whose
// payload failed to decode, with Status forced to unknown and the decode
// error attached.
func degraded(e entry, decodeErr error) *release.HelmRelease {
	rls, err := release.FromLabels(&e.obj, e.kind)
	if err != nil {
		rls = &release.HelmRelease{
			Name:              e.name(),
			Namespace:         e.namespace(),
			Revision:          1,
			StorageKind:       e.kind,
			StorageObjectName: e.obj.GetName(),
			Partial:           true,
		}
		if v := e.version(); v > 0 {
			rls.Revision = v
		}
	}
	rls.Status = release.StatusUnknown
	rls.DecodeError = decodeErr
	return rls
}

func decodeFull(e entry) (*release.HelmRelease, error) {
	switch e.kind {
	case release.StorageSecret:
		return release.DecodeSecret(&e.obj)
	case release.StorageConfigMap:
		return release.DecodeConfigMap(&e.obj)
	default:
		return nil, helmerrors.New(helmerrors.UnknownStorage, e.obj.GetName(), errUnknownKind{})
	}
}

// pickLatestByVersionAndTime returns the entry with the highest version
// label; ties are broken by the newer labelUpdatedAt, then by the
// lexicographically greater object name.
func pickLatestByVersionAndTime(group []entry) entry {
	best := group[0]
	bestVersion := best.version()
	bestTime := labelUpdatedAt(best.obj)
	for _, e := range group[1:] {
		v := e.version()
		t := labelUpdatedAt(e.obj)
		switch {
		case v > bestVersion:
			best, bestVersion, bestTime = e, v, t
		case v == bestVersion:
			switch {
			case t.After(bestTime):
				best, bestTime = e, t
			case t.Equal(bestTime) && e.obj.GetName() > best.obj.GetName():
				best = e
			}
		}
	}
	return best
}

// labelUpdatedAt returns the storage object's creation timestamp, used as
// the tie-breaker in latest-revision selection when two entries share
// the same version label (a revision's own updated_at lives inside the
// encoded payload, which the fast path deliberately avoids decoding).
func labelUpdatedAt(obj unstructuredv1.Unstructured) time.Time {
	return obj.GetCreationTimestamp().Time
}

type errNotFound struct{ name, namespace string }

func (e errNotFound) Error() string {
	return "release " + e.name + " not found in namespace " + e.namespace
}

type errUnknownKind struct{}

func (errUnknownKind) Error() string { return "unrecognized storage kind" }
