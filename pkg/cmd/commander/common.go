package commander

import (
	"context"
	"regexp"
	"strings"

	"github.com/helmcommander/helmcommander/internal/config"
	helmerrors "github.com/helmcommander/helmcommander/internal/errors"
	"github.com/helmcommander/helmcommander/internal/k8s"
	"github.com/helmcommander/helmcommander/internal/store"
)

// config loads the tunable thresholds and cache path overrides bound to
// this invocation's flags.
func (o *rootOptions) config() (*config.Config, error) {
	return config.Load(o.flags, o.cfgFile)
}

// setup resolves the access layer and the deadline-bound context shared by
// every subcommand: one context.WithTimeout per invocation.
func (o *rootOptions) setup() (k8s.Interface, context.Context, context.CancelFunc, error) {
	client, err := o.clientFlags.ToClient()
	if err != nil {
		return nil, nil, nil, newInvocationError(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	if err := client.IsReachable(ctx); err != nil {
		cancel()
		return nil, nil, nil, newAccessError(err)
	}
	return client, ctx, cancel, nil
}

// namespace returns the namespace explicitly requested via --namespace/-n,
// or "" for cluster-wide scope when the flag was left unset.
func (o *rootOptions) namespace() string {
	if o.clientFlags.Namespace != nil {
		return *o.clientFlags.Namespace
	}
	return ""
}

// filters builds store.Filters from --filter/--only.
func (o *rootOptions) filters() (store.Filters, error) {
	var f store.Filters
	if o.filter != "" {
		re, err := regexp.Compile(o.filter)
		if err != nil {
			return f, newInvocationError(err)
		}
		f.Match = re
	}
	if o.only != "" {
		if strings.EqualFold(o.only, "problematic") {
			f.OnlyProblematic = true
		} else {
			f.Status = o.only
		}
	}
	return f, nil
}

// classifyError maps an access-layer/store error to the right exit code.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	switch helmerrors.KindOf(err) {
	case helmerrors.ClusterUnreachable, helmerrors.AccessDenied:
		return newAccessError(err)
	default:
		return newInvocationError(err)
	}
}
