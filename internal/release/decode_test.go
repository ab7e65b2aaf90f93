package release_test

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"strconv"
	"testing"

	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/helmcommander/helmcommander/internal/release"
)

const testManifest = "---\nkind: Service\napiVersion: v1\nmetadata:\n  name: nginx\n"

func gzipBase64(t *testing.T, payload string) string {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(payload)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func secretFixture(t *testing.T, name string, version int) *unstructuredv1.Unstructured {
	t.Helper()
	payload := `{"name":"nginx","namespace":"web","version":` +
		strconv.Itoa(version) +
		`,"info":{"status":"deployed","last_deployed":"2024-01-01T00:00:00Z"},"chart":{"metadata":{"name":"nginx","version":"13.2.0","appVersion":"1.25.0"}},"manifest":"` +
		escapeManifest(testManifest) + `"}`

	encoded := gzipBase64(t, payload)
	// The cluster client reverses the outer transport base64 layer before
	// handing us the object; this fixture re-applies it so
	// DecodeSecret sees exactly what a real Secret's data field holds.
	transportEncoded := base64.StdEncoding.EncodeToString([]byte(encoded))

	return &unstructuredv1.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": "web",
			"labels": map[string]interface{}{
				"owner":   "helm",
				"name":    "nginx",
				"status":  "deployed",
				"version": strconv.Itoa(version),
			},
		},
		"type": "helm.sh/release.v1",
		"data": map[string]interface{}{
			"release": transportEncoded,
		},
	}}
}

func escapeManifest(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '\n':
			out = append(out, '\\', 'n')
		case '"':
			out = append(out, '\\', '"')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

func TestDecodeSecret(t *testing.T) {
	t.Parallel()

	obj := secretFixture(t, "nginx.v3", 3)
	rls, err := release.DecodeSecret(obj)
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}

	if rls.Name != "nginx" || rls.Namespace != "web" || rls.Revision != 3 {
		t.Fatalf("unexpected identity: %+v", rls)
	}
	if rls.Status != release.StatusDeployed {
		t.Fatalf("expected status deployed, got %s", rls.Status)
	}
	if rls.Chart.Version != "13.2.0" {
		t.Fatalf("expected chart version 13.2.0, got %s", rls.Chart.Version)
	}
}

func TestDecodeSecretIdempotent(t *testing.T) {
	t.Parallel()

	obj := secretFixture(t, "nginx.v3", 3)
	first, err := release.DecodeSecret(obj)
	if err != nil {
		t.Fatalf("DecodeSecret (first): %v", err)
	}
	second, err := release.DecodeSecret(obj)
	if err != nil {
		t.Fatalf("DecodeSecret (second): %v", err)
	}
	if first.Name != second.Name || first.Revision != second.Revision || first.ManifestText != second.ManifestText {
		t.Fatalf("decode is not idempotent: %+v vs %+v", first, second)
	}
}

func TestDecodeSecretMissingHelmLabel(t *testing.T) {
	t.Parallel()

	obj := secretFixture(t, "nginx.v3", 3)
	delete(obj.Object["metadata"].(map[string]interface{})["labels"].(map[string]interface{}), "owner")

	if _, err := release.DecodeSecret(obj); err == nil {
		t.Fatal("expected an error for a Secret missing the owner=helm label")
	}
}

func TestDecodeSecretCorruptPayload(t *testing.T) {
	t.Parallel()

	obj := secretFixture(t, "nginx.v3", 3)
	obj.Object["data"].(map[string]interface{})["release"] = "not-valid-base64!!!"

	if _, err := release.DecodeSecret(obj); err == nil {
		t.Fatal("expected a corrupt-payload error")
	}
}

func configMapFixture(t *testing.T, name string, version int) *unstructuredv1.Unstructured {
	t.Helper()
	payload := `{"name":"nginx","namespace":"web","version":` +
		strconv.Itoa(version) +
		`,"info":{"status":"deployed","last_deployed":"2024-01-01T00:00:00Z"},"chart":{"metadata":{"name":"nginx","version":"13.2.0","appVersion":"1.25.0"}},"manifest":"` +
		escapeManifest(testManifest) + `"}`

	innerEncoded := gzipBase64(t, payload)
	// ConfigMap.data values are plain strings with no wire-level byte
	// encoding of their own, so the legacy driver applies a second base64
	// layer of its own on top.
	doubleEncoded := base64.StdEncoding.EncodeToString([]byte(innerEncoded))

	return &unstructuredv1.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": "web",
			"labels": map[string]interface{}{
				"owner":   "helm",
				"name":    "nginx",
				"status":  "deployed",
				"version": strconv.Itoa(version),
			},
		},
		"data": map[string]interface{}{
			"release": doubleEncoded,
		},
	}}
}

func TestDecodeConfigMap(t *testing.T) {
	t.Parallel()

	obj := configMapFixture(t, "nginx.v3", 3)
	rls, err := release.DecodeConfigMap(obj)
	if err != nil {
		t.Fatalf("DecodeConfigMap: %v", err)
	}
	if rls.Name != "nginx" || rls.Revision != 3 || rls.StorageKind != release.StorageConfigMap {
		t.Fatalf("unexpected release: %+v", rls)
	}
}

func TestFromLabels(t *testing.T) {
	t.Parallel()

	obj := secretFixture(t, "nginx.v3", 3)
	rls, err := release.FromLabels(obj, release.StorageSecret)
	if err != nil {
		t.Fatalf("FromLabels: %v", err)
	}
	if !rls.Partial {
		t.Fatal("expected a partial release")
	}
	if rls.ManifestText != "" {
		t.Fatal("expected empty manifest text on the fast path")
	}
	if rls.Revision != 3 || rls.Status != release.StatusDeployed {
		t.Fatalf("unexpected summary fields: %+v", rls)
	}
}
