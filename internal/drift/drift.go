// Package drift implements the Drift Engine: it splits a release's
// stored manifest into documents, fetches each document's live counterpart,
// and computes a masked structural diff.
package drift

import (
	"context"
	"fmt"
	"sort"
	"strings"

	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"

	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/release"
)

// Verdict classifies the relationship between a stored document and its
// live counterpart.
type Verdict string

const (
	VerdictUnchanged   Verdict = "unchanged"
	VerdictModified    Verdict = "modified"
	VerdictMissingLive Verdict = "missing_live"
	VerdictExtraLive   Verdict = "extra_live"
)

// Change is one differing path between the stored and live documents.
type Change struct {
	Path string
	Old  interface{}
	New  interface{}
}

// DiffEntry is one element of a diff result.
type DiffEntry struct {
	IdentityKey string
	Kind        string
	Namespace   string
	Name        string
	Verdict     Verdict
	Changes     []Change
}

// Engine computes drift for a release's rendered manifest against the live
// cluster state.
type Engine struct {
	client k8s.Interface
}

// New returns an Engine backed by the given access layer.
func New(client k8s.Interface) *Engine {
	return &Engine{client: client}
}

// Diff returns the ordered sequence of DiffEntry for rls. extraLive
// controls whether best-effort extra-live detection is attempted.
func (e *Engine) Diff(ctx context.Context, rls *release.HelmRelease, extraLive bool) ([]DiffEntry, error) {
	docs := SplitDocuments(rls.ManifestText)

	var entries []DiffEntry
	var owned []identity
	for _, doc := range docs {
		stored := map[string]interface{}{}
		if err := yaml.Unmarshal([]byte(doc), &stored); err != nil {
			continue
		}
		kind, _ := stored["kind"].(string)
		if kind == "" {
			continue
		}
		id := identityOf(stored, rls.Namespace)
		owned = append(owned, id)

		live, err := e.fetchLive(ctx, id)
		entry := DiffEntry{IdentityKey: id.String(), Kind: id.kind, Namespace: id.namespace, Name: id.name}
		if err != nil {
			switch helmerrors.KindOf(err) {
			case helmerrors.NotFound:
				entry.Verdict = VerdictMissingLive
			case helmerrors.AccessDenied:
				entry.Verdict = VerdictMissingLive
				entry.Changes = []Change{{Path: "$", Old: "access-denied", New: nil}}
			default:
				entry.Verdict = VerdictMissingLive
				entry.Changes = []Change{{Path: "$", Old: err.Error(), New: nil}}
			}
			entries = append(entries, entry)
			continue
		}

		maskedStored := mask(stored)
		maskedLive := mask(live.Object)
		changes := structuralDiff("", maskedStored, maskedLive)
		if len(changes) == 0 {
			entry.Verdict = VerdictUnchanged
		} else {
			entry.Verdict = VerdictModified
			entry.Changes = changes
		}
		entries = append(entries, entry)
	}

	if extraLive {
		extra, err := e.detectExtraLive(ctx, rls, owned)
		if err == nil {
			entries = append(entries, extra...)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Namespace != entries[j].Namespace {
			return entries[i].Namespace < entries[j].Namespace
		}
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// identity is a document's (kind, namespace, name) coordinate.
type identity struct {
	group, version, kind string
	namespace, name      string
}

func (id identity) String() string {
	if id.namespace == "" {
		return fmt.Sprintf("%s/%s", id.kind, id.name)
	}
	return fmt.Sprintf("%s/%s/%s", id.kind, id.namespace, id.name)
}

func identityOf(doc map[string]interface{}, releaseNamespace string) identity {
	apiVersion, _ := doc["apiVersion"].(string)
	kind, _ := doc["kind"].(string)
	group, version := splitAPIVersion(apiVersion)

	metadata, _ := doc["metadata"].(map[string]interface{})
	name, _ := metadata["name"].(string)
	namespace, _ := metadata["namespace"].(string)
	if !k8s.IsClusterScopedKind(kind) && namespace == "" {
		namespace = releaseNamespace
	}
	if k8s.IsClusterScopedKind(kind) {
		namespace = ""
	}
	return identity{group: group, version: version, kind: kind, namespace: namespace, name: name}
}

func splitAPIVersion(apiVersion string) (group, version string) {
	parts := strings.SplitN(apiVersion, "/", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[1]
}

func (e *Engine) fetchLive(ctx context.Context, id identity) (*unstructuredv1.Unstructured, error) {
	gvk := schema.GroupVersionKind{Group: id.group, Version: id.version, Kind: id.kind}
	return e.client.GetResource(ctx, gvk, id.namespace, id.name)
}

// detectExtraLive finds live resources the release should
// own, by app.kubernetes.io/instance label, that aren't in the stored
// manifest. Best-effort: a listing failure for any one kind is swallowed
// rather than aborting the whole diff.
func (e *Engine) detectExtraLive(ctx context.Context, rls *release.HelmRelease, owned []identity) ([]DiffEntry, error) {
	seen := map[string]bool{}
	for _, id := range owned {
		seen[id.String()] = true
	}

	kinds := map[identity]bool{}
	for _, id := range owned {
		kinds[identity{group: id.group, version: id.version, kind: id.kind}] = true
	}

	var extra []DiffEntry
	for gvk := range kinds {
		items, err := e.client.ListCustomResources(ctx, gvk.group, gvk.version, strings.ToLower(gvk.kind)+"s", "")
		if err != nil {
			continue
		}
		for _, item := range items {
			labels := item.GetLabels()
			if labels["app.kubernetes.io/instance"] != rls.Name {
				continue
			}
			id := identity{group: gvk.group, version: gvk.version, kind: gvk.kind, namespace: item.GetNamespace(), name: item.GetName()}
			if seen[id.String()] {
				continue
			}
			extra = append(extra, DiffEntry{
				IdentityKey: id.String(),
				Kind:        id.kind,
				Namespace:   id.namespace,
				Name:        id.name,
				Verdict:     VerdictExtraLive,
			})
		}
	}
	return extra, nil
}
