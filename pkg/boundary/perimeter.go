// Package boundary implements the trust-barrier helper: a shallow
// content-type field whitelist applied to raw, externally supplied objects
// before they are handed to the kernel.
package boundary

import (
	"fmt"
)

// fieldRules is the fixed required/optional field list for one content
// type. Fields outside both lists are dropped.
type fieldRules struct {
	required []string
	optional []string
}

var contentTypeRules = map[string]fieldRules{
	"invoice": {
		required: []string{"vendor_id", "amount", "currency", "date"},
		optional: []string{"memo", "po_number", "line_items"},
	},
	"email": {
		required: []string{"from", "to", "subject", "body"},
		optional: []string{"cc", "bcc", "attachments"},
	},
}

// ErrMissingField names a required field absent from the payload.
type ErrMissingField struct {
	ContentType string
	Field       string
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("missing required field %q for content_type %q", e.Field, e.ContentType)
}

// ProcessBarrier enforces the fixed required/optional field list for
// content_type against payload, returning only the fields in that closed
// set. Content types with no declared rules pass the payload through
// unchanged.
func ProcessBarrier(contentType string, payload map[string]any) (map[string]any, error) {
	rules, known := contentTypeRules[contentType]
	if !known {
		return cloneMap(payload), nil
	}

	out := map[string]any{}
	for _, field := range rules.required {
		v, present := payload[field]
		if !present {
			return nil, &ErrMissingField{ContentType: contentType, Field: field}
		}
		out[field] = v
	}
	for _, field := range rules.optional {
		if v, present := payload[field]; present {
			out[field] = v
		}
	}
	return out, nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
