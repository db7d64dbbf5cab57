package static

import (
	"context"
	"testing"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

func TestEnumerateFiltersByNamespace(t *testing.T) {
	idx := New(
		types.ServiceDescriptor{Name: "widgets", Namespace: "prod"},
		types.ServiceDescriptor{Name: "gadgets", Namespace: "dev"},
	)
	out, err := idx.Enumerate(context.Background(), []string{"prod"}, nil, nil)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(out) != 1 || out[0].Name != "widgets" {
		t.Fatalf("expected only widgets/prod, got %#v", out)
	}
}

func TestEnumerateEmptyNamespaceListReturnsAll(t *testing.T) {
	idx := New(
		types.ServiceDescriptor{Name: "widgets", Namespace: "prod"},
		types.ServiceDescriptor{Name: "gadgets", Namespace: "dev"},
	)
	out, err := idx.Enumerate(context.Background(), nil, nil, nil)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected both descriptors with an empty namespace filter, got %#v", out)
	}
}

func TestEnumerateRequiresAllLabelSelectors(t *testing.T) {
	idx := New(
		types.ServiceDescriptor{Name: "widgets", Namespace: "prod", Labels: map[string]string{"tier": "api", "team": "core"}},
		types.ServiceDescriptor{Name: "gadgets", Namespace: "prod", Labels: map[string]string{"tier": "api"}},
	)
	out, err := idx.Enumerate(context.Background(), nil, map[string]string{"tier": "api", "team": "core"}, nil)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(out) != 1 || out[0].Name != "widgets" {
		t.Fatalf("expected only widgets to match all selectors, got %#v", out)
	}
}

func TestEnumerateAnnotationFiltersAreAdvisoryOnly(t *testing.T) {
	idx := New(
		types.ServiceDescriptor{Name: "widgets", Namespace: "prod", Annotations: map[string]string{}},
	)
	out, err := idx.Enumerate(context.Background(), nil, nil, map[string]string{"some.annotation/key": "value"})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected annotation filters to never exclude a descriptor, got %#v", out)
	}
}
