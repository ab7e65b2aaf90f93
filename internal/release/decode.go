package release

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	rspb "helm.sh/helm/v3/pkg/release"
	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
)

// Label keys & values of the Helm v3 storage convention, and the Secret type
// Helm's secrets driver writes. Helm's storage driver writes these as plain
// string literals and exports no constants for them, so they are pinned here.
const (
	LabelOwner   = "owner"
	LabelName    = "name"
	LabelStatus  = "status"
	LabelVersion = "version"

	OwnerHelm = "helm"

	SecretType = "helm.sh/release.v1"

	dataKey = "release"
)

var gzipMagic = []byte{0x1f, 0x8b, 0x08}

// decodeStage is one step of the decode pipeline: it takes the bytes
// produced by the previous stage and returns the bytes for the next one.
// Each stage returns a value or a tagged error; the pipeline composes them
// with early return.
type decodeStage func([]byte) ([]byte, error)

func runPipeline(item string, in []byte, stages ...decodeStage) ([]byte, error) {
	b := in
	for _, stage := range stages {
		out, err := stage(b)
		if err != nil {
			return nil, helmerrors.New(helmerrors.CorruptPayload, item, err)
		}
		b = out
	}
	return b, nil
}

func stageBase64Decode(b []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(b)))
	n, err := base64.StdEncoding.Decode(out, b)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return out[:n], nil
}

func stageGunzip(b []byte) ([]byte, error) {
	if len(b) < 3 || !bytes.Equal(b[0:3], gzipMagic) {
		return nil, fmt.Errorf("gunzip: missing gzip magic header")
	}
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}

func stageUTF8(b []byte) ([]byte, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("payload is not valid UTF-8")
	}
	return b, nil
}

// DecodeSecret reconstructs a HelmRelease from a Secret storage object
// (type helm.sh/release.v1, label owner=helm): base64 decode, gunzip,
// then parse the UTF-8 JSON payload.
func DecodeSecret(obj *unstructuredv1.Unstructured) (*HelmRelease, error) {
	if err := requireHelmMarkers(obj); err != nil {
		return nil, err
	}
	if t, found, _ := unstructuredv1.NestedString(obj.Object, "type"); found && t != SecretType {
		return nil, helmerrors.New(helmerrors.UnknownStorage, obj.GetName(), fmt.Errorf("secret type %q, want %s", t, SecretType))
	}
	raw, err := nestedSecretString(obj, dataKey)
	if err != nil {
		return nil, helmerrors.New(helmerrors.UnknownStorage, obj.GetName(), err)
	}

	jsonBytes, err := runPipeline(obj.GetName(), []byte(raw), stageBase64Decode, stageGunzip, stageUTF8)
	if err != nil {
		return nil, err
	}
	return fromPayload(jsonBytes, obj, StorageSecret)
}

// DecodeConfigMap reconstructs a HelmRelease from a ConfigMap storage
// object (the legacy driver): two base64 layers before the gzip stream,
// since ConfigMap.data values are plain strings with no wire-level byte
// encoding of their own.
func DecodeConfigMap(obj *unstructuredv1.Unstructured) (*HelmRelease, error) {
	if err := requireHelmMarkers(obj); err != nil {
		return nil, err
	}
	raw, found, err := unstructuredv1.NestedString(obj.Object, "data", dataKey)
	if err != nil || !found {
		return nil, helmerrors.New(helmerrors.UnknownStorage, obj.GetName(), fmt.Errorf("missing data.%s field", dataKey))
	}

	jsonBytes, err := runPipeline(obj.GetName(), []byte(raw), stageBase64Decode, stageBase64Decode, stageGunzip, stageUTF8)
	if err != nil {
		return nil, err
	}
	return fromPayload(jsonBytes, obj, StorageConfigMap)
}

func requireHelmMarkers(obj *unstructuredv1.Unstructured) error {
	labels := obj.GetLabels()
	if labels[LabelOwner] != OwnerHelm {
		return helmerrors.New(helmerrors.UnknownStorage, obj.GetName(), fmt.Errorf("missing label %s=%s", LabelOwner, OwnerHelm))
	}
	return nil
}

// fromPayload maps Helm's own release type — the wire format of the stored
// JSON — onto the summary shape the rest of the tool works with.
func fromPayload(jsonBytes []byte, obj *unstructuredv1.Unstructured, kind StorageKind) (*HelmRelease, error) {
	var rls rspb.Release
	if err := json.Unmarshal(jsonBytes, &rls); err != nil {
		// Malformed JSON is a corrupt payload; well-formed JSON whose
		// fields don't fit the release schema is an unsupported schema.
		kind := helmerrors.UnsupportedSchema
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			kind = helmerrors.CorruptPayload
		}
		return nil, helmerrors.New(kind, obj.GetName(), err)
	}
	if rls.Name == "" || rls.Namespace == "" || rls.Version == 0 || rls.Manifest == "" ||
		rls.Info == nil || rls.Chart == nil || rls.Chart.Metadata == nil {
		return nil, helmerrors.New(helmerrors.UnsupportedSchema, obj.GetName(), fmt.Errorf("decoded payload missing required fields"))
	}

	values := rls.Chart.Values
	if values == nil {
		values = map[string]interface{}{}
	}
	computed := mergeValues(values, rls.Config)

	userValues := rls.Config
	if userValues == nil {
		userValues = map[string]interface{}{}
	}

	return &HelmRelease{
		Name:      rls.Name,
		Namespace: rls.Namespace,
		Revision:  rls.Version,
		Status:    Status(strings.ToLower(rls.Info.Status.String())),
		Chart: ChartRef{
			Name:       rls.Chart.Metadata.Name,
			Version:    rls.Chart.Metadata.Version,
			AppVersion: rls.Chart.Metadata.AppVersion,
		},
		UpdatedAt:         rls.Info.LastDeployed.Time,
		Description:       rls.Info.Description,
		ValuesUser:        userValues,
		ValuesComputed:    computed,
		ManifestText:      rls.Manifest,
		Hooks:             rls.Hooks,
		StorageKind:       kind,
		StorageObjectName: obj.GetName(),
	}, nil
}

// mergeValues merges chart defaults with user-supplied values, user values
// taking precedence (deep merge, maps recurse).
func mergeValues(defaults, user map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range user {
		dv, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		dMap, dIsMap := dv.(map[string]interface{})
		uMap, uIsMap := v.(map[string]interface{})
		if dIsMap && uIsMap {
			out[k] = mergeValues(dMap, uMap)
		} else {
			out[k] = v
		}
	}
	return out
}

// FromLabels synthesizes a partial HelmRelease from a storage object's
// labels alone, without decoding the payload. This is the fast path for
// listings that only need summary attributes.
func FromLabels(obj *unstructuredv1.Unstructured, kind StorageKind) (*HelmRelease, error) {
	labels := obj.GetLabels()
	if labels[LabelOwner] != OwnerHelm {
		return nil, helmerrors.New(helmerrors.UnknownStorage, obj.GetName(), fmt.Errorf("missing label %s=%s", LabelOwner, OwnerHelm))
	}
	version, err := strconv.Atoi(labels[LabelVersion])
	if err != nil {
		return nil, helmerrors.New(helmerrors.UnsupportedSchema, obj.GetName(), fmt.Errorf("invalid version label %q: %w", labels[LabelVersion], err))
	}
	return &HelmRelease{
		Name:              labels[LabelName],
		Namespace:         obj.GetNamespace(),
		Revision:          version,
		Status:            Status(strings.ToLower(labels[LabelStatus])),
		StorageKind:       kind,
		StorageObjectName: obj.GetName(),
		Partial:           true,
	}, nil
}

// nestedSecretString reads obj.data[key], reversing the base64 encoding the
// Kubernetes wire format applies to Secret byte fields. This is the "outer
// transport layer" the secret pipeline assumes has already been
// reversed by the cluster client.
func nestedSecretString(obj *unstructuredv1.Unstructured, key string) (string, error) {
	raw, found, err := unstructuredv1.NestedString(obj.Object, "data", key)
	if err != nil || !found {
		return "", fmt.Errorf("missing data.%s field", key)
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decoding transport-level base64: %w", err)
	}
	return string(decoded), nil
}
