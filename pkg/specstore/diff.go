package specstore

import (
	"github.com/mjones3/api-consistency-analyzer/pkg/analyze"
	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// diffContent compares the field inventories of two documents, keyed by
// field location. Fields present only in b are Added, present only in a are
// Removed, and present in both with a different (type, required, format)
// triple are Modified.
func diffContent(a, b *types.SpecDocument) Diff {
	before := fieldsOf(a)
	after := fieldsOf(b)

	var diff Diff
	for loc, bf := range before {
		af, ok := after[loc]
		if !ok {
			diff.Removed = append(diff.Removed, loc)
			continue
		}
		if af.Type != bf.Type || af.Required != bf.Required || af.Format != bf.Format {
			diff.Modified = append(diff.Modified, FieldDiff{
				Location: loc,
				Before:   bf,
				After:    af,
			})
		}
	}
	for loc := range after {
		if _, ok := before[loc]; !ok {
			diff.Added = append(diff.Added, loc)
		}
	}
	return diff
}

func fieldsOf(doc *types.SpecDocument) map[string]types.FieldRecord {
	out := map[string]types.FieldRecord{}
	if doc == nil {
		return out
	}
	fields := analyze.ExtractFields(&openapi.Document{Root: doc.Content}, doc.Service, doc.Namespace, analyze.DefaultMaxDepth)
	for _, f := range fields {
		out[f.Location] = f
	}
	return out
}
