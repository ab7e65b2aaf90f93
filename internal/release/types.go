// Package release reconstructs structured Helm releases from the opaque
// payloads Helm v3 stores in Secrets or ConfigMaps. No external Helm binary
// is involved; the decode pipeline is implemented against Helm's own
// storage types.
package release

import (
	"time"

	rspb "helm.sh/helm/v3/pkg/release"
)

// Status is the release lifecycle state, as recorded by Helm under
// info.status. The values are Helm's own status constants, lowercase on
// the wire.
type Status string

const (
	StatusUnknown         = Status(rspb.StatusUnknown)
	StatusDeployed        = Status(rspb.StatusDeployed)
	StatusUninstalled     = Status(rspb.StatusUninstalled)
	StatusSuperseded      = Status(rspb.StatusSuperseded)
	StatusFailed          = Status(rspb.StatusFailed)
	StatusUninstalling    = Status(rspb.StatusUninstalling)
	StatusPendingInstall  = Status(rspb.StatusPendingInstall)
	StatusPendingUpgrade  = Status(rspb.StatusPendingUpgrade)
	StatusPendingRollback = Status(rspb.StatusPendingRollback)
)

// IsPending reports whether s is one of the pending-* statuses.
func (s Status) IsPending() bool {
	switch s {
	case StatusPendingInstall, StatusPendingUpgrade, StatusPendingRollback:
		return true
	default:
		return false
	}
}

// StorageKind identifies which Kubernetes object type a release revision was
// decoded from.
type StorageKind string

const (
	StorageSecret    StorageKind = "secret"
	StorageConfigMap StorageKind = "configmap"
)

// ChartRef identifies the chart a release was deployed from. Digest is
// optional: it is only present when the source index recorded one.
type ChartRef struct {
	Name       string
	Version    string
	AppVersion string
	Digest     string
}

// HelmRelease is one revision of a release, reconstructed from a storage
// object. (name, namespace, revision) is unique; revision >= 1.
type HelmRelease struct {
	Name      string
	Namespace string
	Revision  int
	Status    Status

	Chart ChartRef

	UpdatedAt   time.Time
	Description string

	ValuesUser     map[string]interface{}
	ValuesComputed map[string]interface{}

	ManifestText string
	Hooks        []*rspb.Hook

	StorageKind       StorageKind
	StorageObjectName string

	// Partial is true when this HelmRelease was synthesized from object
	// labels alone (the listing fast path) rather than from a decoded
	// payload. ManifestText, ValuesUser, ValuesComputed and Hooks are
	// empty in that case.
	Partial bool

	// DecodeError is set when decoding the full payload failed; the
	// release still carries whatever the fast path could recover, with
	// Status forced to StatusUnknown so the rest of a listing survives.
	DecodeError error
}

// Key returns the (name, namespace) identity shared by every revision of a
// release.
func (r *HelmRelease) Key() string {
	return r.Namespace + "/" + r.Name
}
