package analyze

import (
	"fmt"
	"sort"

	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// httpMethods are the HTTP method keys considered under a path item; any
// other key (parameters, summary, etc.) is ignored for endpoint counting
// and requestBody/response traversal, per spec §4.4.
var httpMethods = []string{"get", "put", "post", "delete", "patch", "head", "options", "trace"}

// ExtractFields walks the two traversal roots spec §4.4 names --
// components.schemas.* and paths.*.{method}.{requestBody|responses.*} --
// and returns one FieldRecord per schema property encountered. Nested
// objects are descended depth-first (recursively, not breadth-first) to
// maxDepth; $ref cycles are broken by a visited-ref set, grounded on pkg/rules/rules.go's walkExpr cycle-safe
// tree traversal (there generalised from a PromQL AST to a JSON schema
// tree).
func ExtractFields(doc *openapi.Document, service, namespace string, maxDepth int) []types.FieldRecord {
	w := &fieldWalker{
		doc:       doc,
		service:   service,
		namespace: namespace,
		maxDepth:  maxDepth,
	}
	w.walkComponentSchemas()
	w.walkPaths()

	sort.Slice(w.out, func(i, j int) bool { return w.out[i].Location < w.out[j].Location })
	return w.out
}

type fieldWalker struct {
	doc       *openapi.Document
	service   string
	namespace string
	maxDepth  int
	out       []types.FieldRecord
}

func (w *fieldWalker) walkComponentSchemas() {
	root, ok := w.doc.Root.(map[string]any)
	if !ok {
		return
	}
	components, ok := root["components"].(map[string]any)
	if !ok {
		return
	}
	schemas, ok := components["schemas"].(map[string]any)
	if !ok {
		return
	}
	for _, name := range sortedKeys(schemas) {
		schema, ok := schemas[name].(map[string]any)
		if !ok {
			continue
		}
		loc := "components.schemas." + name
		w.walkSchema(schema, loc, 0, map[string]struct{}{})
	}
}

func (w *fieldWalker) walkPaths() {
	root, ok := w.doc.Root.(map[string]any)
	if !ok {
		return
	}
	paths, ok := root["paths"].(map[string]any)
	if !ok {
		return
	}
	for _, p := range sortedKeys(paths) {
		item, ok := paths[p].(map[string]any)
		if !ok {
			continue
		}
		for _, method := range httpMethods {
			op, ok := item[method].(map[string]any)
			if !ok {
				continue
			}
			base := fmt.Sprintf("paths.%s.%s", p, method)
			if rb, ok := op["requestBody"].(map[string]any); ok {
				w.walkMediaSchemas(rb, base+".requestBody", map[string]struct{}{})
			}
			if responses, ok := op["responses"].(map[string]any); ok {
				for _, code := range sortedKeys(responses) {
					resp, ok := responses[code].(map[string]any)
					if !ok {
						continue
					}
					w.walkMediaSchemas(resp, fmt.Sprintf("%s.responses.%s", base, code), map[string]struct{}{})
				}
			}
		}
	}
}

func (w *fieldWalker) walkMediaSchemas(container map[string]any, loc string, visited map[string]struct{}) {
	content, ok := container["content"].(map[string]any)
	if !ok {
		return
	}
	for _, mediaType := range sortedKeys(content) {
		media, ok := content[mediaType].(map[string]any)
		if !ok {
			continue
		}
		schema, ok := media["schema"].(map[string]any)
		if !ok {
			continue
		}
		resolved, ok := w.doc.Deref(schema, cloneVisited(visited))
		if !ok {
			continue
		}
		rm, ok := resolved.(map[string]any)
		if !ok {
			continue
		}
		w.walkSchema(rm, loc+"."+mediaType, 0, visited)
	}
}

// walkSchema descends one schema's properties, emitting a FieldRecord per
// property and recursing into nested object/array-of-object properties up
// to maxDepth. $ref cycles are broken via visited, which is keyed by ref
// string and holds every ref followed on the path from the traversal root
// to the current schema; sibling branches each get their own copy.
func (w *fieldWalker) walkSchema(schema map[string]any, loc string, depth int, visited map[string]struct{}) {
	if depth > w.maxDepth {
		return
	}
	resolved, ok := w.doc.Deref(schema, visited)
	if !ok {
		return
	}
	rm, ok := resolved.(map[string]any)
	if !ok {
		return
	}
	props, ok := rm["properties"].(map[string]any)
	if !ok {
		return
	}
	required := requiredSet(rm["required"])

	for _, name := range sortedKeys(props) {
		propLoc := loc + ".properties." + name
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		propVisited := cloneVisited(visited)
		resolvedProp, ok := w.doc.Deref(prop, propVisited)
		if !ok {
			continue
		}
		pm, _ := resolvedProp.(map[string]any)

		fieldType, _ := pm["type"].(string)
		format, _ := pm["format"].(string)
		description, _ := pm["description"].(string)

		w.out = append(w.out, types.FieldRecord{
			Name:        name,
			Type:        fieldType,
			Format:      format,
			Required:    required[name],
			Description: description,
			Service:     w.service,
			Namespace:   w.namespace,
			Location:    propLoc,
		})

		if fieldType == "object" {
			w.walkSchema(pm, propLoc, depth+1, propVisited)
		} else if fieldType == "array" {
			if items, ok := pm["items"].(map[string]any); ok {
				w.walkSchema(items, propLoc+".items", depth+1, cloneVisited(propVisited))
			}
		}
	}
}

// CountEndpoints sums, across every path, the count of HTTP-method keys
// present (spec §4.4's total_endpoints definition).
func CountEndpoints(doc *openapi.Document) int {
	root, ok := doc.Root.(map[string]any)
	if !ok {
		return 0
	}
	paths, ok := root["paths"].(map[string]any)
	if !ok {
		return 0
	}
	count := 0
	for _, raw := range paths {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		for _, method := range httpMethods {
			if _, ok := item[method]; ok {
				count++
			}
		}
	}
	return count
}

func requiredSet(v any) map[string]bool {
	out := map[string]bool{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out[s] = true
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneVisited(v map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(v))
	for k := range v {
		out[k] = struct{}{}
	}
	return out
}
