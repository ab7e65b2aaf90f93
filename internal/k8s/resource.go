package k8s

import (
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// APIResource identifies a Kubernetes API resource type, enough to build a
// GroupVersionResource/GroupVersionKind pair and to know whether it's
// namespaced.
type APIResource struct {
	Group      string
	Version    string
	Kind       string
	Name       string
	Namespaced bool
}

func (r APIResource) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: r.Group, Version: r.Version, Kind: r.Kind}
}

func (r APIResource) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: r.Group, Version: r.Version, Resource: r.Name}
}

func (r APIResource) String() string {
	if len(r.Group) == 0 {
		return fmt.Sprintf("%s.%s", r.Name, r.Version)
	}
	return fmt.Sprintf("%s.%s.%s", r.Name, r.Version, r.Group)
}

// clusterScopedKinds are the kinds known cluster-scoped a priori: the
// identity key's namespace component is always empty, regardless of what a
// stored manifest document says.
var clusterScopedKinds = map[string]struct{}{
	"Namespace":               {},
	"Node":                    {},
	"PersistentVolume":        {},
	"ClusterRole":             {},
	"ClusterRoleBinding":      {},
	"CustomResourceDefinition": {},
	"StorageClass":            {},
	"PriorityClass":           {},
}

// IsClusterScopedKind reports whether kind is known to be cluster-scoped
// without needing a round-trip to the RESTMapper. The Drift Engine uses this
// fast path before falling back to the mapper for unrecognized kinds.
func IsClusterScopedKind(kind string) bool {
	_, ok := clusterScopedKinds[kind]
	return ok
}
