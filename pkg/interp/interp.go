// Package interp implements deterministic placeholder interpolation for
// template strings used in effect targets and payloads.
//
// Supported tokens (both `{x}` and `{{x}}` forms):
//   - `{now}` / `{tx_id}`
//   - `{proof.failed_gates}` (only if a proof is supplied)
//   - any context path, e.g. `{sender.balance}`
//
// Fallback semantics: a single-segment token `{x}` that does not resolve
// against the context is retried as `input.x`; a multi-segment token not
// already rooted at `input` is retried with an `input.` prefix. Unresolved
// tokens have their braces stripped, leaving the bare token text visible.
package interp

import (
	"encoding/json"
	"strings"

	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// InterpolateStr substitutes template tokens against ctx, meta, and the
// optional proof (for {proof.failed_gates}). The scan is a single
// left-to-right pass per delimiter form: first all `{...}` tokens, then all
// `{{...}}` tokens — nested/partially-matched brace patterns such as
// `{a{b}}` resolve under this ordering: the first `{` pairs with the first
// following `}`, so the token `a{b` is taken first (unresolved, its braces
// are stripped, leaving `a{b}`), and the next iteration then takes `{b}`.
func InterpolateStr(template string, ctx any, p *ubltypes.Proof, meta evaluator.Meta) string {
	out := template

	now := meta.ExecutionTime.UTC().Format("2006-01-02T15:04:05Z")
	out = strings.ReplaceAll(out, "{now}", now)
	out = strings.ReplaceAll(out, "{{now}}", now)

	out = strings.ReplaceAll(out, "{tx_id}", meta.TxID)
	out = strings.ReplaceAll(out, "{{tx_id}}", meta.TxID)

	if p != nil {
		fg, err := json.Marshal(p.FailedGates)
		if err != nil {
			fg = []byte("[]")
		}
		out = strings.ReplaceAll(out, "{proof.failed_gates}", string(fg))
		out = strings.ReplaceAll(out, "{{proof.failed_gates}}", string(fg))
	}

	for _, delim := range []struct{ open, close string }{{"{", "}"}, {"{{", "}}"}} {
		out = scanAndReplace(out, delim.open, delim.close, ctx, p, meta, now)
	}

	return out
}

func scanAndReplace(s, open, close string, ctx any, p *ubltypes.Proof, meta evaluator.Meta, now string) string {
	for {
		start := strings.Index(s, open)
		if start == -1 {
			break
		}
		rest := s[start+len(open):]
		endRel := strings.Index(rest, close)
		if endRel == -1 {
			break
		}
		end := start + len(open) + endRel
		token := strings.TrimSpace(s[start+len(open) : end])

		var replacement string
		var resolved bool
		switch token {
		case "now":
			replacement, resolved = now, true
		case "tx_id":
			replacement, resolved = meta.TxID, true
		case "proof.failed_gates":
			if p != nil {
				fg, err := json.Marshal(p.FailedGates)
				if err != nil {
					fg = []byte("[]")
				}
				replacement, resolved = string(fg), true
			}
		default:
			if v, ok := resolveToken(ctx, token); ok {
				replacement, resolved = stringify(v), true
			}
		}

		if resolved {
			s = s[:start] + replacement + s[end+len(close):]
		} else {
			// Strip braces but keep the token text visible.
			s = s[:start] + token + s[end+len(close):]
		}
	}
	return s
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func resolveToken(ctx any, token string) (any, bool) {
	parts := splitNonEmpty(token, '.')
	if len(parts) == 0 {
		return nil, false
	}

	if v, ok := evaluator.ResolvePath(ctx, parts); ok {
		return v, true
	}

	if len(parts) == 1 {
		if v, ok := evaluator.ResolvePath(ctx, []string{"input", parts[0]}); ok {
			return v, true
		}
	} else if parts[0] != "input" {
		p2 := append([]string{"input"}, parts...)
		if v, ok := evaluator.ResolvePath(ctx, p2); ok {
			return v, true
		}
	}

	return nil, false
}

func splitNonEmpty(s string, sep byte) []string {
	raw := strings.Split(s, string(sep))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// InterpolateValue recursively applies InterpolateStr to every string found
// within v, traversing arrays and objects.
func InterpolateValue(v any, ctx any, p *ubltypes.Proof, meta evaluator.Meta) any {
	switch t := v.(type) {
	case string:
		return InterpolateStr(t, ctx, p, meta)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = InterpolateValue(e, ctx, p, meta)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = InterpolateValue(vv, ctx, p, meta)
		}
		return out
	default:
		return v
	}
}

// InterpolateRawValue is a json.RawMessage-friendly wrapper around
// InterpolateValue, decoding, interpolating, and re-encoding.
func InterpolateRawValue(raw json.RawMessage, ctx any, p *ubltypes.Proof, meta evaluator.Meta) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw, err
	}
	resolved := InterpolateValue(v, ctx, p, meta)
	return json.Marshal(resolved)
}
