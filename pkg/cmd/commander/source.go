package commander

import (
	"errors"

	"github.com/spf13/cobra"
	unstructuredv1 "k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"

	"github.com/helmcommander/helmcommander/internal/drift"
	"github.com/helmcommander/helmcommander/internal/owner"
	"github.com/helmcommander/helmcommander/internal/printers"
	"github.com/helmcommander/helmcommander/internal/store"
)

func newSourceCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "source NAME",
		Short: "Identify the higher-level system managing a release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSource(o, args[0])
		},
	}
}

func runSource(o *rootOptions, name string) error {
	if o.namespace() == "" {
		return newInvocationError(errors.New("source requires --namespace"))
	}
	client, ctx, cancel, err := o.setup()
	if err != nil {
		return err
	}
	defer cancel()

	st := store.New(client)
	rls, err := st.Get(ctx, name, o.namespace())
	if err != nil {
		return classifyError(err)
	}

	resources := renderedResources(rls.ManifestText)
	detector := owner.New(client)
	verdict := detector.Detect(ctx, rls, resources)

	format, err := o.printerFlags.Format()
	if err != nil {
		return newInvocationError(err)
	}
	if err := printers.PrintOwnerVerdict(o.Out, format, verdict); err != nil {
		return newInvocationError(err)
	}
	return nil
}

// renderedResources splits a stored manifest into unstructured documents
// for evidence scanning, the same split the Drift Engine performs but
// without needing to reach the cluster for each one.
func renderedResources(manifest string) []unstructuredv1.Unstructured {
	var docs []unstructuredv1.Unstructured
	for _, doc := range drift.SplitDocuments(manifest) {
		obj := map[string]interface{}{}
		if err := yaml.Unmarshal([]byte(doc), &obj); err != nil || obj["kind"] == nil {
			continue
		}
		docs = append(docs, unstructuredv1.Unstructured{Object: obj})
	}
	return docs
}
