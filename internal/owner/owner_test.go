package owner_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"k8s.io/apimachinery/pkg/api/meta"
	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/owner"
	"github.com/helmcommander/helmcommander/internal/release"
)

type fakeClient struct {
	crds           []unstructuredv1.Unstructured
	custom         map[string][]unstructuredv1.Unstructured // plural -> instances
	crdListErr     error
	crdListHits    int
	customListHits int
}

func (f *fakeClient) GetMapper() meta.RESTMapper        { return nil }
func (f *fakeClient) IsReachable(context.Context) error { return nil }
func (f *fakeClient) ListSecrets(context.Context, k8s.ListOptions) ([]unstructuredv1.Unstructured, error) {
	return nil, nil
}
func (f *fakeClient) ListConfigMaps(context.Context, k8s.ListOptions) ([]unstructuredv1.Unstructured, error) {
	return nil, nil
}
func (f *fakeClient) GetResource(context.Context, schema.GroupVersionKind, string, string) (*unstructuredv1.Unstructured, error) {
	return nil, nil
}

func (f *fakeClient) ListCustomResources(_ context.Context, _, _, plural, _ string) ([]unstructuredv1.Unstructured, error) {
	f.customListHits++
	return f.custom[plural], nil
}

func (f *fakeClient) ListCRDs(context.Context) ([]unstructuredv1.Unstructured, error) {
	f.crdListHits++
	if f.crdListErr != nil {
		return nil, f.crdListErr
	}
	return f.crds, nil
}

func resourceWith(kind, name string, labels, annotations map[string]interface{}) unstructuredv1.Unstructured {
	metadata := map[string]interface{}{"name": name}
	if labels != nil {
		metadata["labels"] = labels
	}
	if annotations != nil {
		metadata["annotations"] = annotations
	}
	return unstructuredv1.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       kind,
		"metadata":   metadata,
	}}
}

func crdObject(name string) unstructuredv1.Unstructured {
	return unstructuredv1.Unstructured{Object: map[string]interface{}{
		"apiVersion": "apiextensions.k8s.io/v1",
		"kind":       "CustomResourceDefinition",
		"metadata":   map[string]interface{}{"name": name},
	}}
}

func TestDetectArgoCDWinsOverManagedBy(t *testing.T) {
	t.Parallel()

	resources := []unstructuredv1.Unstructured{
		resourceWith("Service", "app1",
			map[string]interface{}{
				"argocd.argoproj.io/instance":  "app1",
				"app.kubernetes.io/managed-by": "Helm",
			}, nil),
	}

	d := owner.New(&fakeClient{})
	v := d.Detect(context.Background(), &release.HelmRelease{Name: "app1", Namespace: "web"}, resources)
	if v.Owner != owner.OwnerArgoCD || v.Confidence != owner.ConfidenceHigh {
		t.Fatalf("expected argocd/high, got %s/%s", v.Owner, v.Confidence)
	}
	if len(v.Evidence) == 0 {
		t.Fatal("expected evidence for the argocd verdict")
	}
}

func TestDetectArgoCDPriorityOverFlux(t *testing.T) {
	t.Parallel()

	// A resource carrying both kinds of evidence resolves to Argo CD, the
	// higher-priority rule.
	resources := []unstructuredv1.Unstructured{
		resourceWith("Deployment", "app1",
			map[string]interface{}{
				"argocd.argoproj.io/instance": "app1",
				"helm.toolkit.fluxcd.io/name": "app1",
			}, nil),
	}

	d := owner.New(&fakeClient{})
	v := d.Detect(context.Background(), &release.HelmRelease{Name: "app1"}, resources)
	if v.Owner != owner.OwnerArgoCD {
		t.Fatalf("expected argocd to win over flux, got %s", v.Owner)
	}
}

func TestDetectFluxByCRD(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		crds: []unstructuredv1.Unstructured{crdObject("helmreleases.helm.toolkit.fluxcd.io")},
		custom: map[string][]unstructuredv1.Unstructured{
			"helmreleases": {
				{Object: map[string]interface{}{
					"apiVersion": "helm.toolkit.fluxcd.io/v1",
					"kind":       "HelmRelease",
					"metadata":   map[string]interface{}{"name": "podinfo", "namespace": "flux-system"},
					"status":     map[string]interface{}{"helmChart": "flux-system/podinfo"},
				}},
			},
		},
	}

	d := owner.New(client)
	v := d.Detect(context.Background(), &release.HelmRelease{Name: "podinfo", Namespace: "default"}, nil)
	if v.Owner != owner.OwnerFlux || v.Confidence != owner.ConfidenceHigh {
		t.Fatalf("expected flux/high, got %s/%s", v.Owner, v.Confidence)
	}
}

func TestDetectK3sHelmChart(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		crds: []unstructuredv1.Unstructured{crdObject("helmcharts.helm.cattle.io")},
		custom: map[string][]unstructuredv1.Unstructured{
			"helmcharts": {
				{Object: map[string]interface{}{
					"apiVersion": "helm.cattle.io/v1",
					"kind":       "HelmChart",
					"metadata":   map[string]interface{}{"name": "traefik", "namespace": "kube-system"},
				}},
			},
		},
	}

	d := owner.New(client)
	v := d.Detect(context.Background(), &release.HelmRelease{Name: "traefik", Namespace: "kube-system"}, nil)
	if v.Owner != owner.OwnerK3sHelm {
		t.Fatalf("expected k3s-helmchart, got %s", v.Owner)
	}
}

func TestDetectManagedByAnnotationMediumConfidence(t *testing.T) {
	t.Parallel()

	resources := []unstructuredv1.Unstructured{
		resourceWith("ConfigMap", "settings", nil,
			map[string]interface{}{"app.kubernetes.io/managed-by": "Rancher"}),
	}

	d := owner.New(&fakeClient{})
	v := d.Detect(context.Background(), &release.HelmRelease{Name: "settings"}, resources)
	if v.Owner != owner.Owner("rancher") || v.Confidence != owner.ConfidenceMedium {
		t.Fatalf("expected rancher/medium, got %s/%s", v.Owner, v.Confidence)
	}
}

func TestDetectManagedByHelmIsNotEvidence(t *testing.T) {
	t.Parallel()

	resources := []unstructuredv1.Unstructured{
		resourceWith("Service", "plain", map[string]interface{}{"app.kubernetes.io/managed-by": "Helm"}, nil),
	}

	d := owner.New(&fakeClient{})
	v := d.Detect(context.Background(), &release.HelmRelease{Name: "plain"}, resources)
	if v.Owner != owner.OwnerNativeHelm || v.Confidence != owner.ConfidenceLow {
		t.Fatalf("expected native-helm/low fallback, got %s/%s", v.Owner, v.Confidence)
	}
}

func TestCRDCheckCachedAcrossReleases(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	d := owner.New(client)

	for i := 0; i < 5; i++ {
		d.Detect(context.Background(), &release.HelmRelease{Name: fmt.Sprintf("rel-%d", i)}, nil)
	}
	// Two CRDs are probed (flux, k3s) and both come back absent on the
	// first release; every later release must hit the cache.
	if client.crdListHits > 2 {
		t.Fatalf("expected at most 2 CRD listings, got %d", client.crdListHits)
	}
}

func TestPresentCRDCachedAcrossReleases(t *testing.T) {
	t.Parallel()

	// Both probed CRDs exist, so the positive path — existence plus the
	// instance listing — must be cached too, not just the negative one.
	client := &fakeClient{
		crds: []unstructuredv1.Unstructured{
			crdObject("helmreleases.helm.toolkit.fluxcd.io"),
			crdObject("helmcharts.helm.cattle.io"),
		},
		custom: map[string][]unstructuredv1.Unstructured{
			"helmcharts": {
				{Object: map[string]interface{}{
					"apiVersion": "helm.cattle.io/v1",
					"kind":       "HelmChart",
					"metadata":   map[string]interface{}{"name": "traefik", "namespace": "kube-system"},
				}},
			},
		},
	}
	d := owner.New(client)

	for i := 0; i < 5; i++ {
		d.Detect(context.Background(), &release.HelmRelease{Name: fmt.Sprintf("rel-%d", i)}, nil)
	}
	if client.crdListHits > 2 {
		t.Fatalf("expected at most one CRD listing per probed CRD, got %d", client.crdListHits)
	}
	if client.customListHits > 2 {
		t.Fatalf("expected at most one instance listing per present CRD, got %d", client.customListHits)
	}
}

func TestCRDAccessDeniedDemotedWithEvidence(t *testing.T) {
	t.Parallel()

	client := &fakeClient{crdListErr: fmt.Errorf("customresourcedefinitions is forbidden")}
	d := owner.New(client)

	v := d.Detect(context.Background(), &release.HelmRelease{Name: "app"}, nil)
	if v.Owner != owner.OwnerNativeHelm {
		t.Fatalf("expected fallback to native-helm, got %s", v.Owner)
	}
	demotionNoted := false
	for _, e := range v.Evidence {
		if strings.Contains(e, "treated as not present") {
			demotionNoted = true
		}
	}
	if !demotionNoted {
		t.Fatalf("expected the evidence to note the demoted CRD check, got %v", v.Evidence)
	}
}
