// Package openapi provides the document tree used throughout the pipeline:
// parsing, canonicalisation for content-addressed hashing, and $ref
// resolution over the generic JSON tree the Harvester stores.
package openapi

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Document is the parsed tree of a harvested OpenAPI artifact: objects,
// arrays, and scalars exactly as decoded from JSON, with no schema baked in.
// This is deliberately untyped (map[string]any / []any / scalars) so that
// canonicalisation and field extraction can walk arbitrary, possibly
// malformed, OpenAPI documents without rejecting them outright -- syntactic
// well-formedness is a separate concern handled by Validate.
type Document struct {
	Root any
}

// Parse decodes raw bytes (as returned by a harvested OpenAPI endpoint, which
// the Probe has already confirmed is JSON) into a Document. A parse failure
// here is a harvest-terminal error: an unparseable body is a permanent
// per-target failure per the harvest error taxonomy, not something the
// Analyzer can work around.
func Parse(raw []byte) (*Document, error) {
	var root any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, errors.Wrap(err, "decode openapi document")
	}
	return &Document{Root: root}, nil
}

// commentLikeKeys are stripped during canonicalisation; they carry no
// semantic content and would otherwise cause spurious content-hash churn.
var commentLikeKeys = map[string]struct{}{
	"$comment": {},
}

// Canonicalize returns a canonical form of the document: object keys sorted
// recursively, comment-like fields stripped, and number formatting
// normalised (an integral json.Number becomes its exact integer text, so
// "1.0", "1" and "1e0" agree; any other number becomes the shortest text of
// its float64 value).
// It is a pure function: the same input always produces the same output,
// which is the basis for content_hash's change-detection guarantee (P6).
func Canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			if _, skip := commentLikeKeys[k]; skip {
				continue
			}
			out[k] = Canonicalize(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = Canonicalize(sub)
		}
		return out
	case json.Number:
		s := val.String()
		if r, ok := new(big.Rat).SetString(s); ok && r.IsInt() {
			return r.Num().String()
		}
		if f, err := val.Float64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
		return s
	default:
		return val
	}
}

// canonicalJSON marshals a canonicalised tree deterministically:
// canonicalEncode walks the tree itself and sorts object keys explicitly
// rather than relying on the standard marshaler's object ordering.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := canonicalEncode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canonicalEncode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := canonicalEncode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, sub := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonicalEncode(buf, sub); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// ContentHash computes a hash over the canonicalised content, used for
// change detection between harvest cycles (spec P6: equal hashes iff
// canonicalised content is byte-identical).
func ContentHash(content any) (string, error) {
	b, err := canonicalJSON(Canonicalize(content))
	if err != nil {
		return "", errors.Wrap(err, "canonicalize content for hashing")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// InfoVersion reads info.version from the document root, returning "" if
// absent or not a string.
func (d *Document) InfoVersion() string {
	root, ok := d.Root.(map[string]any)
	if !ok {
		return ""
	}
	info, ok := root["info"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := info["version"].(string)
	return v
}
