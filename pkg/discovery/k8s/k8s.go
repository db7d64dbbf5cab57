// Package k8s implements a ClusterIndex backed by Kubernetes Service
// objects, grounded on pkg/operator/operator.go's use of k8s.io/client-go
// and k8s.io/apimachinery/pkg/labels for cluster-state access -- simplified
// here from an informer-backed watch to a one-shot List, since the spec's
// enumerate is a per-cycle pull rather than a push subscription.
package k8s

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// Well-known annotation keys consulted when enriching a descriptor. A
// service without these annotations still yields a descriptor. Probe never
// fills in HealthPath (without one the service is assumed live); it probes
// its candidate paths and fills in OpenAPIPath when one of them answers.
const (
	AnnotationHealthPath  = "meshlint.io/health-path"
	AnnotationOpenAPIPath = "meshlint.io/openapi-path"
	AnnotationVersion     = "meshlint.io/version"
	AnnotationSidecar     = "sidecar.istio.io/status"
)

// Index is a ClusterIndex over Kubernetes Service objects in the given
// cluster.
type Index struct {
	client kubernetes.Interface
}

// New builds an Index using the given Kubernetes client.
func New(client kubernetes.Interface) *Index {
	return &Index{client: client}
}

// Enumerate lists Services in each given namespace (all namespaces if empty)
// whose labels match every key/value in labelSelectors, translating the
// selector into a k8s.io/apimachinery/pkg/labels.Selector. Annotation
// filters are advisory and never exclude a descriptor.
func (idx *Index) Enumerate(ctx context.Context, namespaces []string, labelSelectors, annotationFilters map[string]string) ([]types.ServiceDescriptor, error) {
	selector := labels.SelectorFromSet(labels.Set(labelSelectors))

	nsList := namespaces
	if len(nsList) == 0 {
		nsList = []string{metav1.NamespaceAll}
	}

	var out []types.ServiceDescriptor
	for _, ns := range nsList {
		svcs, err := idx.client.CoreV1().Services(ns).List(ctx, metav1.ListOptions{
			LabelSelector: selector.String(),
		})
		if err != nil {
			return nil, errors.Wrapf(err, "list services in namespace %q", ns)
		}
		for _, svc := range svcs.Items {
			out = append(out, toDescriptor(svc, annotationFilters))
		}
	}
	return out, nil
}

func toDescriptor(svc corev1.Service, _ map[string]string) types.ServiceDescriptor {
	return types.ServiceDescriptor{
		Name:         svc.Name,
		Namespace:    svc.Namespace,
		Labels:       copyMap(svc.Labels),
		Annotations:  copyMap(svc.Annotations),
		Endpoints:    endpointsFor(svc),
		HealthPath:   svc.Annotations[AnnotationHealthPath],
		OpenAPIPath:  svc.Annotations[AnnotationOpenAPIPath],
		Version:      svc.Annotations[AnnotationVersion],
		IstioSidecar: svc.Annotations[AnnotationSidecar] != "",
	}
}

// endpointsFor builds the base URL(s) for a service from its cluster-DNS
// name and declared ports. A headless or portless service yields a single
// DNS-name-only endpoint on the default HTTP port.
func endpointsFor(svc corev1.Service) []string {
	host := fmt.Sprintf("%s.%s.svc.cluster.local", svc.Name, svc.Namespace)
	if len(svc.Spec.Ports) == 0 {
		return []string{"http://" + host}
	}
	var out []string
	for _, p := range svc.Spec.Ports {
		scheme := "http"
		if p.Name == "https" || p.Port == 443 {
			scheme = "https"
		}
		out = append(out, fmt.Sprintf("%s://%s:%d", scheme, host, p.Port))
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
