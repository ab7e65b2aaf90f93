package k8s

import (
	"time"

	"github.com/spf13/pflag"
	"k8s.io/cli-runtime/pkg/genericclioptions"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
)

const (
	clientQPS   = 200
	clientBurst = 400

	// defaultCallTimeout bounds each individual API call: narrower than
	// the invocation-wide deadline, applied to every individual API call via
	// rest.Config.Timeout. No client-side retries are layered on top.
	defaultCallTimeout = 15 * time.Second
)

// Flags composes the common client configuration flag structs used by every
// subcommand.
type Flags struct {
	*genericclioptions.ConfigFlags
}

// NewFlags returns Flags with default values set.
func NewFlags() *Flags {
	return &Flags{ConfigFlags: genericclioptions.NewConfigFlags(true)}
}

// AddFlags binds flags related to client configuration to the given set.
func (f *Flags) AddFlags(flags *pflag.FlagSet) {
	f.ConfigFlags.AddFlags(flags)
}

// ToClient builds an Interface from the current flag configuration.
func (f *Flags) ToClient() (Interface, error) {
	config, err := f.ToRESTConfig()
	if err != nil {
		return nil, err
	}
	config.WarningHandler = rest.NoWarnings{}
	config.QPS = clientQPS
	config.Burst = clientBurst
	config.Timeout = defaultCallTimeout
	f.WithDiscoveryBurst(clientBurst)

	dyn, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, err
	}
	dis, err := f.ToDiscoveryClient()
	if err != nil {
		return nil, err
	}
	mapper, err := f.ToRESTMapper()
	if err != nil {
		return nil, err
	}

	return &client{
		configFlags:     f,
		discoveryClient: dis,
		dynamicClient:   dyn,
		mapper:          mapper,
	}, nil
}
