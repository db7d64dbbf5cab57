// Package discovery defines the ClusterIndex capability the core pipeline
// depends on, plus two concrete implementations: an in-memory static index
// for tests and non-Kubernetes deployments, and a Kubernetes-backed index
// (pkg/discovery/k8s) for the real mesh.
package discovery

import (
	"context"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// ClusterIndex yields candidate ServiceDescriptors from cluster state,
// filtered by label selectors (every selector label must match) and
// annotation filters (advisory: descriptors lacking a filtered annotation
// are still included). The core is indifferent to the backing source.
type ClusterIndex interface {
	Enumerate(ctx context.Context, namespaces []string, labelSelectors, annotationFilters map[string]string) ([]types.ServiceDescriptor, error)
}
