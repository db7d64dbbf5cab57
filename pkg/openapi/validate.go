package openapi

import (
	"context"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pkg/errors"
)

// Validate runs the syntactic OpenAPI well-formedness check over the raw
// document bytes. Validation failure is never a harvest failure: the
// document is retained either way and is_valid/validation_errors record the
// outcome for downstream consumers. The caller passes the same raw bytes
// that were handed to Parse.
func Validate(ctx context.Context, raw []byte) (valid bool, errs []string) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return false, []string{errors.Wrap(err, "load openapi document").Error()}
	}
	if err := doc.Validate(ctx); err != nil {
		return false, flattenValidationError(err)
	}
	return true, nil
}

// flattenValidationError turns kin-openapi's (possibly multi-error)
// validation failure into a flat list of human-readable messages. A
// multi-error is unwrapped one level; anything else is reported verbatim.
func flattenValidationError(err error) []string {
	if me, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, sub := range me.Unwrap() {
			out = append(out, sub.Error())
		}
		if len(out) > 0 {
			return out
		}
	}
	return []string{err.Error()}
}
