package k8s

import (
	"context"
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	_ "k8s.io/client-go/plugin/pkg/client/auth" //nolint:gci
	"k8s.io/klog/v2"

	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
)

// ListOptions configures a listing call against the access layer.
type ListOptions struct {
	Namespace     string // empty means cluster-wide
	LabelSelector labels.Selector
}

// Interface is the uniform, read-only access layer: the
// only place in the codebase that talks to the Kubernetes API server. Every
// operation distinguishes not-found from access-denied via
// internal/errors.Kind rather than aborting the caller's batch.
type Interface interface {
	GetMapper() meta.RESTMapper
	// IsReachable tests connectivity to the cluster; failure here is the one
	// case that legitimately aborts the whole invocation (CLUSTER_UNREACHABLE).
	IsReachable(ctx context.Context) error

	ListSecrets(ctx context.Context, opts ListOptions) ([]unstructuredv1.Unstructured, error)
	ListConfigMaps(ctx context.Context, opts ListOptions) ([]unstructuredv1.Unstructured, error)
	GetResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructuredv1.Unstructured, error)
	ListCustomResources(ctx context.Context, group, version, plural, namespace string) ([]unstructuredv1.Unstructured, error)
	ListCRDs(ctx context.Context) ([]unstructuredv1.Unstructured, error)
}

type client struct {
	configFlags     *Flags
	discoveryClient discovery.DiscoveryInterface
	dynamicClient   dynamic.Interface
	mapper          meta.RESTMapper
}

func (c *client) GetMapper() meta.RESTMapper { return c.mapper }

func (c *client) IsReachable(_ context.Context) error {
	_, err := c.discoveryClient.ServerVersion()
	if err != nil {
		return helmerrors.New(helmerrors.ClusterUnreachable, "", err)
	}
	return nil
}

func (c *client) ListSecrets(ctx context.Context, opts ListOptions) ([]unstructuredv1.Unstructured, error) {
	gvr := schema.GroupVersionResource{Version: "v1", Resource: "secrets"}
	return c.list(ctx, gvr, "secret", opts)
}

func (c *client) ListConfigMaps(ctx context.Context, opts ListOptions) ([]unstructuredv1.Unstructured, error) {
	gvr := schema.GroupVersionResource{Version: "v1", Resource: "configmaps"}
	return c.list(ctx, gvr, "configmap", opts)
}

func (c *client) list(ctx context.Context, gvr schema.GroupVersionResource, label string, opts ListOptions) ([]unstructuredv1.Unstructured, error) {
	var ri dynamic.ResourceInterface
	if opts.Namespace != "" {
		ri = c.dynamicClient.Resource(gvr).Namespace(opts.Namespace)
	} else {
		ri = c.dynamicClient.Resource(gvr)
	}

	listOpts := metav1.ListOptions{Limit: 250}
	if opts.LabelSelector != nil {
		listOpts.LabelSelector = opts.LabelSelector.String()
	}

	var items []unstructuredv1.Unstructured
	for {
		result, err := ri.List(ctx, listOpts)
		if err != nil {
			return items, classifyListError(label, opts.Namespace, err)
		}
		items = append(items, result.Items...)
		next := result.GetContinue()
		if next == "" {
			break
		}
		listOpts.Continue = next
	}
	klog.V(4).Infof("Got %d %s objects in namespace %q", len(items), label, opts.Namespace)
	return items, nil
}

// GetResource fetches a single object by its coordinates. The Drift Engine
// relies on the not-found/access-denied distinction returned here to decide
// between a "missing_live" verdict and a degraded diagnostic marker.
func (c *client) GetResource(ctx context.Context, gvk schema.GroupVersionKind, namespace, name string) (*unstructuredv1.Unstructured, error) {
	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return nil, helmerrors.New(helmerrors.NotFound, resourceItem(gvk, namespace, name), err)
	}

	var ri dynamic.ResourceInterface
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		ri = c.dynamicClient.Resource(mapping.Resource).Namespace(namespace)
	} else {
		ri = c.dynamicClient.Resource(mapping.Resource)
	}

	obj, err := ri.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		item := resourceItem(gvk, namespace, name)
		switch {
		case apierrors.IsNotFound(err):
			return nil, helmerrors.New(helmerrors.NotFound, item, err)
		case apierrors.IsForbidden(err):
			return nil, helmerrors.New(helmerrors.AccessDenied, item, err)
		case errors.Is(err, context.DeadlineExceeded) || apierrors.IsTimeout(err):
			return nil, helmerrors.New(helmerrors.Timeout, item, err)
		default:
			return nil, helmerrors.New(helmerrors.IOError, item, err)
		}
	}
	return obj, nil
}

func (c *client) ListCustomResources(ctx context.Context, group, version, plural, namespace string) ([]unstructuredv1.Unstructured, error) {
	gvr := schema.GroupVersionResource{Group: group, Version: version, Resource: plural}
	var ri dynamic.ResourceInterface
	if namespace != "" {
		ri = c.dynamicClient.Resource(gvr).Namespace(namespace)
	} else {
		ri = c.dynamicClient.Resource(gvr)
	}
	result, err := ri.List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classifyListError(fmt.Sprintf("%s/%s.%s", plural, version, group), namespace, err)
	}
	return result.Items, nil
}

// ListCRDs lists every CustomResourceDefinition registered on the server, for
// the Owner Detector's CRD-presence checks (Flux HelmRelease, k3s HelmChart).
func (c *client) ListCRDs(ctx context.Context) ([]unstructuredv1.Unstructured, error) {
	gvr := schema.GroupVersionResource{Group: "apiextensions.k8s.io", Version: "v1", Resource: "customresourcedefinitions"}
	result, err := c.dynamicClient.Resource(gvr).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, classifyListError("customresourcedefinitions", "", err)
	}
	return result.Items, nil
}

func classifyListError(label, namespace string, err error) error {
	item := label
	if namespace != "" {
		item = namespace + "/" + label
	}
	switch {
	case apierrors.IsForbidden(err):
		return helmerrors.New(helmerrors.AccessDenied, item, err)
	case apierrors.IsNotFound(err):
		return helmerrors.New(helmerrors.NotFound, item, err)
	case errors.Is(err, context.DeadlineExceeded) || apierrors.IsTimeout(err):
		return helmerrors.New(helmerrors.Timeout, item, err)
	default:
		return helmerrors.New(helmerrors.IOError, item, err)
	}
}

func resourceItem(gvk schema.GroupVersionKind, namespace, name string) string {
	if namespace == "" {
		return fmt.Sprintf("%s/%s", gvk.Kind, name)
	}
	return fmt.Sprintf("%s/%s/%s", gvk.Kind, namespace, name)
}
