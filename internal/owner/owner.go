// Package owner implements the Owner Detector: a priority-ordered
// classifier that identifies which higher-level system manages a release.
package owner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/release"
)

// Owner identifies the higher-level system managing a release.
type Owner string

const (
	OwnerArgoCD     Owner = "argocd"
	OwnerFlux       Owner = "flux"
	OwnerK3sHelm    Owner = "k3s-helmchart"
	OwnerNativeHelm Owner = "native-helm"
	OwnerUnknown    Owner = "unknown"
)

// Confidence grades how certain a Verdict is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Verdict is the Owner Detector's output for one release.
type Verdict struct {
	Owner      Owner
	Confidence Confidence
	Evidence   []string
}

const (
	annotationArgoTrackingID = "argocd.argoproj.io/tracking-id"
	labelArgoInstance        = "argocd.argoproj.io/instance"
	labelFluxHelmName        = "helm.toolkit.fluxcd.io/name"
	labelManagedBy           = "app.kubernetes.io/managed-by"

	crdFluxHelmRelease = "helmreleases.helm.toolkit.fluxcd.io"
	crdK3sHelmChart    = "helmcharts.helm.cattle.io"
)

// Detector classifies releases by checking each ownership rule in priority
// order, caching CRD-existence checks per invocation so repeated queries
// across many releases pay the discovery cost once.
type Detector struct {
	client k8s.Interface

	mu         sync.Mutex
	crdCache   map[string]crdResult // CRD name -> resolved existence + instances
	crdDemoted map[string]bool      // CRD name -> check failed and was demoted to "not present"
}

// crdResult is one cached CRD resolution: whether the CRD exists, and if so
// the custom resource instances listed for it.
type crdResult struct {
	exists bool
	items  []unstructuredv1.Unstructured
}

// New returns a Detector backed by the given access layer.
func New(client k8s.Interface) *Detector {
	return &Detector{client: client, crdCache: map[string]crdResult{}, crdDemoted: map[string]bool{}}
}

// Detect returns the OwnerVerdict for rls, given the (optionally empty) set
// of its rendered resources.
func (d *Detector) Detect(ctx context.Context, rls *release.HelmRelease, resources []unstructuredv1.Unstructured) Verdict {
	if v, ok := d.detectArgoCD(resources); ok {
		return v
	}
	if v, ok := d.detectFlux(ctx, rls, resources); ok {
		return v
	}
	if v, ok := d.detectK3sHelmChart(ctx, rls); ok {
		return v
	}
	if v, ok := d.detectManagedByAnnotation(resources); ok {
		return v
	}
	evidence := []string{"no higher-level owner evidence found"}
	evidence = append(evidence, d.demotionNotes()...)
	return Verdict{Owner: OwnerNativeHelm, Confidence: ConfidenceLow, Evidence: evidence}
}

// demotionNotes reports CRD checks that failed and were demoted to "CRD not
// present", so the fallback verdict's evidence still records them.
func (d *Detector) demotionNotes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var notes []string
	for name := range d.crdDemoted {
		notes = append(notes, fmt.Sprintf("CRD check for %s failed and was treated as not present", name))
	}
	sort.Strings(notes)
	return notes
}

func (d *Detector) detectArgoCD(resources []unstructuredv1.Unstructured) (Verdict, bool) {
	for _, r := range resources {
		if v, ok := r.GetLabels()[labelArgoInstance]; ok {
			return Verdict{
				Owner:      OwnerArgoCD,
				Confidence: ConfidenceHigh,
				Evidence:   []string{fmt.Sprintf("label %s=%s on %s/%s", labelArgoInstance, v, r.GetKind(), r.GetName())},
			}, true
		}
		if v, ok := r.GetAnnotations()[annotationArgoTrackingID]; ok {
			return Verdict{
				Owner:      OwnerArgoCD,
				Confidence: ConfidenceHigh,
				Evidence:   []string{fmt.Sprintf("annotation %s=%s on %s/%s", annotationArgoTrackingID, v, r.GetKind(), r.GetName())},
			}, true
		}
	}
	return Verdict{}, false
}

func (d *Detector) detectFlux(ctx context.Context, rls *release.HelmRelease, resources []unstructuredv1.Unstructured) (Verdict, bool) {
	for _, r := range resources {
		if v, ok := r.GetLabels()[labelFluxHelmName]; ok {
			return Verdict{
				Owner:      OwnerFlux,
				Confidence: ConfidenceHigh,
				Evidence:   []string{fmt.Sprintf("label %s=%s on %s/%s", labelFluxHelmName, v, r.GetKind(), r.GetName())},
			}, true
		}
	}

	exists, items := d.crdExists(ctx, crdFluxHelmRelease)
	if !exists {
		return Verdict{}, false
	}
	for _, hr := range items {
		name, _, _ := unstructuredv1.NestedString(hr.Object, "status", "helmChart")
		if strings.Contains(name, rls.Name) {
			return Verdict{
				Owner:      OwnerFlux,
				Confidence: ConfidenceHigh,
				Evidence:   []string{fmt.Sprintf("CRD %s entry %q references status.helmChart=%q", crdFluxHelmRelease, hr.GetName(), name)},
			}, true
		}
	}
	return Verdict{}, false
}

func (d *Detector) detectK3sHelmChart(ctx context.Context, rls *release.HelmRelease) (Verdict, bool) {
	exists, items := d.crdExists(ctx, crdK3sHelmChart)
	if !exists {
		return Verdict{}, false
	}
	for _, hc := range items {
		if hc.GetNamespace() == "kube-system" && hc.GetName() == rls.Name {
			return Verdict{
				Owner:      OwnerK3sHelm,
				Confidence: ConfidenceHigh,
				Evidence:   []string{fmt.Sprintf("CRD %s has entry kube-system/%s", crdK3sHelmChart, rls.Name)},
			}, true
		}
	}
	return Verdict{}, false
}

func (d *Detector) detectManagedByAnnotation(resources []unstructuredv1.Unstructured) (Verdict, bool) {
	for _, r := range resources {
		v := r.GetAnnotations()[labelManagedBy]
		if v == "" {
			v = r.GetLabels()[labelManagedBy]
		}
		if v != "" && !strings.EqualFold(v, "Helm") {
			return Verdict{
				Owner:      Owner(strings.ToLower(v)),
				Confidence: ConfidenceMedium,
				Evidence:   []string{fmt.Sprintf("%s=%s on %s/%s", labelManagedBy, v, r.GetKind(), r.GetName())},
			}, true
		}
	}
	return Verdict{}, false
}

// crdExists reports whether the named CRD is installed, and if so its
// current custom resource instances. The whole resolution — existence and
// instance listing, positive or negative — is cached per invocation, so
// repeated queries across many releases pay the discovery cost once per
// CRD name. An access-denied failure is demoted to "CRD not present"
// rather than aborting the caller.
func (d *Detector) crdExists(ctx context.Context, crdName string) (bool, []unstructuredv1.Unstructured) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if res, ok := d.crdCache[crdName]; ok {
		return res.exists, res.items
	}
	res := d.resolveCRD(ctx, crdName)
	d.crdCache[crdName] = res
	return res.exists, res.items
}

// resolveCRD performs the uncached lookup. Callers hold d.mu.
func (d *Detector) resolveCRD(ctx context.Context, crdName string) crdResult {
	crds, err := d.client.ListCRDs(ctx)
	exists := false
	if err == nil {
		for _, crd := range crds {
			if crd.GetName() == crdName {
				exists = true
				break
			}
		}
	}
	if err != nil {
		d.crdDemoted[crdName] = true
	}
	if !exists {
		return crdResult{}
	}

	group, version, plural := splitCRDName(crdName)
	items, err := d.client.ListCustomResources(ctx, group, version, plural, "")
	if err != nil {
		// Listing instances failed (often access-denied) but the CRD itself
		// is present — treat as "no matching entries" rather than aborting
		// the caller, and record the demotion for the fallback evidence.
		d.crdDemoted[crdName] = true
		return crdResult{exists: true}
	}
	return crdResult{exists: true, items: items}
}

// splitCRDName derives (group, version, plural) from a CRD's metadata.name,
// which is always "<plural>.<group>" by Kubernetes convention. Version is
// left as a best-effort "v1" default since the CRD list doesn't carry a
// served-version hint at this layer; callers needing the exact served
// version should resolve it via the RESTMapper instead.
func splitCRDName(crdName string) (group, version, plural string) {
	parts := strings.SplitN(crdName, ".", 2)
	if len(parts) != 2 {
		return "", "v1", crdName
	}
	return parts[1], "v1", parts[0]
}
