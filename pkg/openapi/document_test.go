package openapi

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseAndCanonicalize(t *testing.T) {
	raw := []byte(`{"b": 1, "a": {"$comment": "strip me", "z": 2.0, "y": 2}}`)
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	got := Canonicalize(doc.Root)
	want := map[string]any{
		"b": "1",
		"a": map[string]any{
			"z": "2",
			"y": "2",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Canonicalize mismatch (-want +got):\n%s", diff)
	}
}

func TestContentHashStableUnderKeyOrder(t *testing.T) {
	a, err := Parse([]byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	b, err := Parse([]byte(`{"b":2,"a":1}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ha, err := ContentHash(a.Root)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	hb, err := ContentHash(b.Root)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected equal hashes for reordered keys, got %q != %q", ha, hb)
	}
}

func TestContentHashStableUnderCommentOnlyEdit(t *testing.T) {
	a, _ := Parse([]byte(`{"a":1,"$comment":"v1"}`))
	b, _ := Parse([]byte(`{"a":1,"$comment":"v2"}`))

	ha, _ := ContentHash(a.Root)
	hb, _ := ContentHash(b.Root)
	if ha != hb {
		t.Fatalf("expected comment-only edits to leave content hash unchanged, got %q != %q", ha, hb)
	}
}

func TestInfoVersion(t *testing.T) {
	doc, err := Parse([]byte(`{"info":{"version":"1.2.3"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.InfoVersion(); got != "1.2.3" {
		t.Fatalf("InfoVersion() = %q, want %q", got, "1.2.3")
	}
	empty := &Document{Root: map[string]any{}}
	if got := empty.InfoVersion(); got != "" {
		t.Fatalf("InfoVersion() on empty doc = %q, want empty", got)
	}
}

func TestDerefResolvesLocalPointer(t *testing.T) {
	doc := &Document{Root: map[string]any{
		"components": map[string]any{
			"schemas": map[string]any{
				"Widget": map[string]any{"type": "object"},
			},
		},
	}}
	node := map[string]any{"$ref": "#/components/schemas/Widget"}
	resolved, ok := doc.Deref(node, map[string]struct{}{})
	if !ok {
		t.Fatalf("Deref: expected resolution")
	}
	m, ok := resolved.(map[string]any)
	if !ok || m["type"] != "object" {
		t.Fatalf("Deref resolved to unexpected value: %#v", resolved)
	}
}

func TestDerefDetectsCycle(t *testing.T) {
	doc := &Document{Root: map[string]any{
		"components": map[string]any{
			"schemas": map[string]any{
				"A": map[string]any{"$ref": "#/components/schemas/B"},
				"B": map[string]any{"$ref": "#/components/schemas/A"},
			},
		},
	}}
	node := map[string]any{"$ref": "#/components/schemas/A"}
	_, ok := doc.Deref(node, map[string]struct{}{})
	if ok {
		t.Fatalf("Deref: expected cycle detection to fail resolution")
	}
}

func TestValidateRejectsMalformedDocument(t *testing.T) {
	valid, errs := Validate(context.Background(), []byte(`{"not": "an openapi document"}`))
	if valid {
		t.Fatalf("Validate: expected invalid document, errs=%v", errs)
	}
	if len(errs) == 0 {
		t.Fatalf("Validate: expected at least one error message")
	}
}
