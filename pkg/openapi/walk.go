package openapi

import "strings"

// Resolve looks up a local "#/a/b/c" JSON pointer against the document root.
// It returns (nil, false) for external refs (never supported, per Validate's
// IsExternalRefsAllowed=false) or when the pointer does not resolve to
// anything in the tree.
func (d *Document) Resolve(ref string) (any, bool) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, false
	}
	parts := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	var cur any = d.Root
	for _, p := range parts {
		p = unescapePointerToken(p)
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := parseIndex(p)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func unescapePointerToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}

func parseIndex(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errNotAnIndex
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return 0, errNotAnIndex
	}
	return n, nil
}

var errNotAnIndex = errNotAnIndexType{}

type errNotAnIndexType struct{}

func (errNotAnIndexType) Error() string { return "not an array index" }

// RefString extracts the "$ref" value from a schema node, if present.
func RefString(node any) (string, bool) {
	m, ok := node.(map[string]any)
	if !ok {
		return "", false
	}
	ref, ok := m["$ref"].(string)
	return ref, ok
}

// Deref resolves node if it is a $ref, following chained refs up to depth
// guards supplied by the caller via visited. Returns the dereferenced node
// unchanged if it is not a $ref, or (nil, false) if a ref cycle is detected
// or the ref does not resolve.
func (d *Document) Deref(node any, visited map[string]struct{}) (any, bool) {
	for {
		ref, ok := RefString(node)
		if !ok {
			return node, true
		}
		if _, seen := visited[ref]; seen {
			return nil, false
		}
		visited[ref] = struct{}{}
		resolved, ok := d.Resolve(ref)
		if !ok {
			return nil, false
		}
		node = resolved
	}
}
