// Package static provides an in-memory ClusterIndex backed by a fixed slice
// of descriptors, grounded on the same interface-first, swappable-backend
// pattern the teacher uses for RuleRetriever
// (cmd/rule-evaluator/internal/api.go): tests and non-Kubernetes
// deployments construct one directly instead of standing up a fake API
// server.
package static

import (
	"context"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// Index is a ClusterIndex over a fixed, in-memory set of descriptors.
type Index struct {
	services []types.ServiceDescriptor
}

// New builds a static Index over the given descriptors.
func New(services ...types.ServiceDescriptor) *Index {
	return &Index{services: services}
}

// Enumerate applies the same selector semantics as the Kubernetes adapter:
// every label selector must match, annotation filters are advisory, and the
// caller's namespace list restricts results when non-empty.
func (idx *Index) Enumerate(_ context.Context, namespaces []string, labelSelectors, annotationFilters map[string]string) ([]types.ServiceDescriptor, error) {
	nsSet := toSet(namespaces)

	var out []types.ServiceDescriptor
	for _, svc := range idx.services {
		if len(nsSet) > 0 && !nsSet[svc.Namespace] {
			continue
		}
		if !labelsMatch(svc.Labels, labelSelectors) {
			continue
		}
		_ = annotationFilters // advisory: never excludes a descriptor
		out = append(out, svc)
	}
	return out, nil
}

func labelsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func toSet(vs []string) map[string]bool {
	out := make(map[string]bool, len(vs))
	for _, v := range vs {
		out[v] = true
	}
	return out
}
