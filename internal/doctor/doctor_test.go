package doctor_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"strconv"
	"testing"
	"time"

	"k8s.io/apimachinery/pkg/api/meta"
	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/helmcommander/helmcommander/internal/doctor"
	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/store"
)

type fakeClient struct {
	secrets    []unstructuredv1.Unstructured
	configmaps []unstructuredv1.Unstructured
}

func (f *fakeClient) GetMapper() meta.RESTMapper        { return nil }
func (f *fakeClient) IsReachable(context.Context) error { return nil }
func (f *fakeClient) ListSecrets(context.Context, k8s.ListOptions) ([]unstructuredv1.Unstructured, error) {
	return f.secrets, nil
}
func (f *fakeClient) ListConfigMaps(context.Context, k8s.ListOptions) ([]unstructuredv1.Unstructured, error) {
	return f.configmaps, nil
}
func (f *fakeClient) GetResource(context.Context, schema.GroupVersionKind, string, string) (*unstructuredv1.Unstructured, error) {
	return nil, nil
}
func (f *fakeClient) ListCustomResources(context.Context, string, string, string, string) ([]unstructuredv1.Unstructured, error) {
	return nil, nil
}
func (f *fakeClient) ListCRDs(context.Context) ([]unstructuredv1.Unstructured, error) {
	return nil, nil
}

const testManifest = `---\nkind: Service\napiVersion: v1\nmetadata:\n  name: svc\n`

func encodePayload(name, namespace string, version int, status string, lastDeployed time.Time) string {
	payload := `{"name":"` + name + `","namespace":"` + namespace + `","version":` + strconv.Itoa(version) +
		`,"info":{"status":"` + status + `","last_deployed":"` + lastDeployed.UTC().Format(time.RFC3339) + `"},` +
		`"chart":{"metadata":{"name":"` + name + `-chart","version":"1.0.0","appVersion":"1.0"}},` +
		`"manifest":"` + testManifest + `"}`

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(payload))
	_ = gw.Close()

	inner := base64.StdEncoding.EncodeToString(buf.Bytes())
	return base64.StdEncoding.EncodeToString([]byte(inner))
}

func storageObject(kind, objName, namespace, releaseName, status string, version int, created, lastDeployed time.Time) unstructuredv1.Unstructured {
	// base64(base64(gzip(json))) serves both drivers: the secret path peels
	// the transport layer before its own base64+gunzip, the configmap path
	// peels two base64 layers directly.
	data := encodePayload(releaseName, namespace, version, status, lastDeployed)
	obj := map[string]interface{}{
		"apiVersion": "v1",
		"kind":       kind,
		"metadata": map[string]interface{}{
			"name":              objName,
			"namespace":         namespace,
			"creationTimestamp": created.UTC().Format(time.RFC3339),
			"labels": map[string]interface{}{
				"owner":   "helm",
				"name":    releaseName,
				"status":  status,
				"version": strconv.Itoa(version),
			},
		},
		"data": map[string]interface{}{"release": data},
	}
	if kind == "Secret" {
		obj["type"] = "helm.sh/release.v1"
	}
	return unstructuredv1.Unstructured{Object: obj}
}

func helmSecret(objName, namespace, releaseName, status string, version int, age time.Duration) unstructuredv1.Unstructured {
	now := time.Now()
	return storageObject("Secret", objName, namespace, releaseName, status, version, now.Add(-age), now.Add(-age))
}

func helmConfigMap(objName, namespace, releaseName, status string, version int) unstructuredv1.Unstructured {
	now := time.Now()
	return storageObject("ConfigMap", objName, namespace, releaseName, status, version, now, now)
}

func findingsByCategory(findings []doctor.Finding, c doctor.Category) []doctor.Finding {
	var out []doctor.Finding
	for _, f := range findings {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}

func newEngine(client *fakeClient, thresholds doctor.Thresholds) *doctor.Engine {
	return doctor.New(client, store.New(client), thresholds)
}

func TestPendingStuck(t *testing.T) {
	t.Parallel()

	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("app.v1", "web", "app", "pending-upgrade", 1, 2*time.Hour),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	stuck := findingsByCategory(findings, doctor.CategoryPendingStuck)
	if len(stuck) != 1 {
		t.Fatalf("expected 1 pending-stuck finding, got %+v", findings)
	}
	if stuck[0].Severity != doctor.SeverityError || stuck[0].Release != "web/app" {
		t.Fatalf("unexpected finding: %+v", stuck[0])
	}
}

func TestPendingRecentIsNotStuck(t *testing.T) {
	t.Parallel()

	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("app.v1", "web", "app", "pending-install", 1, time.Minute),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := findingsByCategory(findings, doctor.CategoryPendingStuck); len(got) != 0 {
		t.Fatalf("expected no pending-stuck finding for a fresh install, got %+v", got)
	}
}

func TestFailedRelease(t *testing.T) {
	t.Parallel()

	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("app.v1", "web", "app", "failed", 1, time.Hour),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	failed := findingsByCategory(findings, doctor.CategoryFailed)
	if len(failed) != 1 || failed[0].Severity != doctor.SeverityError {
		t.Fatalf("expected 1 failed finding, got %+v", findings)
	}
}

func TestStorageMixed(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		secrets:    []unstructuredv1.Unstructured{helmSecret("app.v1", "web", "app", "deployed", 1, time.Hour)},
		configmaps: []unstructuredv1.Unstructured{helmConfigMap("old.v1", "web", "old", "deployed", 1)},
	}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	mixed := findingsByCategory(findings, doctor.CategoryStorageMixed)
	if len(mixed) != 1 || mixed[0].Severity != doctor.SeverityWarn {
		t.Fatalf("expected 1 storage-mixed warning, got %+v", findings)
	}
}

func TestDuplicateChartInNamespace(t *testing.T) {
	t.Parallel()

	// Both releases decode to chart name "app-chart" in the same namespace.
	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		storageObject("Secret", "a.v1", "web", "app", "deployed", 1, time.Now(), time.Now()),
		storageObject("Secret", "b.v1", "web", "app", "deployed", 1, time.Now(), time.Now()),
	}}
	// Give the second release a different name but the same chart.
	client.secrets[1].Object["metadata"].(map[string]interface{})["labels"].(map[string]interface{})["name"] = "app2"
	client.secrets[1].Object["data"].(map[string]interface{})["release"] = encodePayloadWithChart("app2", "web", 1, "deployed", "app-chart")

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	dup := findingsByCategory(findings, doctor.CategoryDuplicateChart)
	if len(dup) != 1 {
		t.Fatalf("expected 1 duplicate-chart warning, got %+v", findings)
	}
}

func encodePayloadWithChart(name, namespace string, version int, status, chart string) string {
	payload := `{"name":"` + name + `","namespace":"` + namespace + `","version":` + strconv.Itoa(version) +
		`,"info":{"status":"` + status + `","last_deployed":"2024-01-01T00:00:00Z"},` +
		`"chart":{"metadata":{"name":"` + chart + `","version":"1.0.0","appVersion":"1.0"}},` +
		`"manifest":"` + testManifest + `"}`

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, _ = gw.Write([]byte(payload))
	_ = gw.Close()

	inner := base64.StdEncoding.EncodeToString(buf.Bytes())
	return base64.StdEncoding.EncodeToString([]byte(inner))
}

func TestNoDeployedRevision(t *testing.T) {
	t.Parallel()

	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("app.v1", "web", "app", "failed", 1, 2*time.Hour),
		helmSecret("app.v2", "web", "app", "failed", 2, time.Hour),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := findingsByCategory(findings, doctor.CategoryNoDeployedRevision)
	if len(got) != 1 || got[0].Release != "web/app" {
		t.Fatalf("expected 1 no-deployed-revision finding, got %+v", findings)
	}
}

func TestRevisionBloat(t *testing.T) {
	t.Parallel()

	var secrets []unstructuredv1.Unstructured
	for v := 1; v <= 4; v++ {
		status := "superseded"
		if v == 4 {
			status = "deployed"
		}
		secrets = append(secrets, helmSecret("app.v"+strconv.Itoa(v), "web", "app", status, v, time.Hour))
	}
	client := &fakeClient{secrets: secrets}

	thresholds := doctor.DefaultThresholds()
	thresholds.RevisionBloatCount = 3
	findings, err := newEngine(client, thresholds).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	bloat := findingsByCategory(findings, doctor.CategoryRevisionBloat)
	if len(bloat) != 1 || bloat[0].Severity != doctor.SeverityInfo {
		t.Fatalf("expected 1 revision-bloat info finding, got %+v", findings)
	}
}

func TestOrphanedSecret(t *testing.T) {
	t.Parallel()

	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("gone.v1", "web", "gone", "uninstalled", 1, 48*time.Hour),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	orphans := findingsByCategory(findings, doctor.CategoryOrphanedSecret)
	if len(orphans) != 1 || orphans[0].Release != "web/gone" {
		t.Fatalf("expected 1 orphaned-secret warning, got %+v", findings)
	}
}

func TestOrphanedSecretNotMaskedAcrossNamespaces(t *testing.T) {
	t.Parallel()

	// The same release name exists in two namespaces: an active two-revision
	// release in "prod" and a sole uninstalled leftover in "staging". The
	// prod revisions must not hide the staging orphan.
	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("app.v1", "prod", "app", "superseded", 1, 72*time.Hour),
		helmSecret("app.v2", "prod", "app", "deployed", 2, 48*time.Hour),
		helmSecret("app.v1", "staging", "app", "uninstalled", 1, 48*time.Hour),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	orphans := findingsByCategory(findings, doctor.CategoryOrphanedSecret)
	if len(orphans) != 1 || orphans[0].Release != "staging/app" {
		t.Fatalf("expected exactly the staging orphan, got %+v", orphans)
	}
}

func TestHealthyClusterHasNoFindings(t *testing.T) {
	t.Parallel()

	client := &fakeClient{secrets: []unstructuredv1.Unstructured{
		helmSecret("app.v1", "web", "app", "deployed", 1, time.Hour),
	}}

	findings, err := newEngine(client, doctor.DefaultThresholds()).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings for a healthy cluster, got %+v", findings)
	}
}
