// Package evaluator implements the kernel's pure expression and gate
// evaluator: a deterministic fold over the Expr tagged-variant tree against
// a context snapshot and execution metadata, with evidence capture for
// Compare gates and static composition rules over gate results.
package evaluator

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/loglinehq/ubl/pkg/canonicalize"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// Meta carries the single source of "time" available to expressions, plus
// the transaction id (consulted only by templating, never by Eval itself).
type Meta struct {
	TxID          string
	ExecutionTime time.Time
}

var (
	lowerCaser = cases.Lower(language.Und)
	upperCaser = cases.Upper(language.Und)
)

func jsonOf(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}

func decode(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// ResolvePath traverses object keys of root in order, returning the
// sub-value or false if any segment is missing. Array index traversal is
// not supported — a segment against a non-object value fails resolution.
func ResolvePath(root any, path []string) (any, bool) {
	cur := root
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := obj[key]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Eval is a pure function of (expr, ctx, meta). The only source of "time"
// is meta.ExecutionTime; meta.TxID is never consulted here.
func Eval(expr *ubltypes.Expr, ctx any, meta Meta) any {
	if expr == nil {
		return nil
	}
	switch expr.Type {
	case ubltypes.ExprLiteral:
		return decode(expr.Value)

	case ubltypes.ExprPath:
		if v, ok := ResolvePath(ctx, expr.Path); ok {
			return v
		}
		if len(expr.Fallback) > 0 {
			return decode(expr.Fallback)
		}
		return nil

	case ubltypes.ExprCompare:
		l := Eval(expr.Left, ctx, meta)
		r := Eval(expr.Right, ctx, meta)
		return compareStrict(expr.Op, l, r)

	case ubltypes.ExprLogic:
		vals := make([]bool, len(expr.Args))
		for i, a := range expr.Args {
			b, _ := Eval(a, ctx, meta).(bool)
			vals[i] = b
		}
		switch expr.LogicOp {
		case ubltypes.LogicAnd:
			for _, v := range vals {
				if !v {
					return false
				}
			}
			return true
		case ubltypes.LogicOr:
			for _, v := range vals {
				if v {
					return true
				}
			}
			return false
		case ubltypes.LogicNot:
			if len(vals) == 0 {
				return true
			}
			return !vals[0]
		default:
			return false
		}

	case ubltypes.ExprCall:
		args := make([]any, len(expr.CallArgs))
		for i, a := range expr.CallArgs {
			args[i] = Eval(a, ctx, meta)
		}
		return callBuiltin(expr.Function, args, meta)

	default:
		return nil
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func arg(args []any, i int) any {
	if i < 0 || i >= len(args) {
		return nil
	}
	return args[i]
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func asFloatOr0(v any) float64 {
	f, _ := asFloat(v)
	return f
}

func parseTS(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func nowRFC3339(meta Meta) string {
	return meta.ExecutionTime.UTC().Format("2006-01-02T15:04:05Z")
}

func timeBucket(ts, unit string) string {
	t, ok := parseTS(ts)
	if !ok {
		return ""
	}
	switch unit {
	case "minute":
		return t.Format("2006-01-02T15:04")
	case "hour":
		return t.Format("2006-01-02T15")
	case "day":
		return t.Format("2006-01-02")
	default:
		return ""
	}
}

func callBuiltin(fn string, args []any, meta Meta) any {
	switch fn {
	case "now":
		return nowRFC3339(meta)
	case "before":
		a, aok := parseTS(asString(arg(args, 0)))
		b, bok := parseTS(asString(arg(args, 1)))
		return aok && bok && a.Before(b)
	case "after":
		a, aok := parseTS(asString(arg(args, 0)))
		b, bok := parseTS(asString(arg(args, 1)))
		return aok && bok && a.After(b)
	case "age":
		a, ok := parseTS(asString(arg(args, 0)))
		if !ok {
			return 0
		}
		return int64(meta.ExecutionTime.Sub(a).Seconds())
	case "time_bucket":
		return timeBucket(asString(arg(args, 0)), asString(arg(args, 1)))

	case "lower":
		return lowerCaser.String(asString(arg(args, 0)))
	case "upper":
		return upperCaser.String(asString(arg(args, 0)))
	case "starts_with":
		return strings.HasPrefix(asString(arg(args, 0)), asString(arg(args, 1)))
	case "ends_with":
		return strings.HasSuffix(asString(arg(args, 0)), asString(arg(args, 1)))

	case "length", "len":
		if arr, ok := arg(args, 0).([]any); ok {
			return len(arr)
		}
		if s, ok := arg(args, 0).(string); ok {
			return utf8.RuneCountInString(s)
		}
		return 0
	case "empty":
		arr, ok := arg(args, 0).([]any)
		if !ok {
			return true
		}
		return len(arr) == 0
	case "contains":
		if s, ok := arg(args, 0).(string); ok {
			if sub, ok := arg(args, 1).(string); ok {
				return strings.Contains(s, sub)
			}
		}
		if arr, ok := arg(args, 0).([]any); ok {
			return containsValue(arr, arg(args, 1))
		}
		return false

	case "abs":
		return math.Abs(asFloatOr0(arg(args, 0)))
	case "floor":
		return math.Floor(asFloatOr0(arg(args, 0)))
	case "ceil":
		return math.Ceil(asFloatOr0(arg(args, 0)))
	case "min":
		return math.Min(asFloatOr0(arg(args, 0)), asFloatOr0(arg(args, 1)))
	case "max":
		return math.Max(asFloatOr0(arg(args, 0)), asFloatOr0(arg(args, 1)))
	case "add":
		return asFloatOr0(arg(args, 0)) + asFloatOr0(arg(args, 1))
	case "sub":
		return asFloatOr0(arg(args, 0)) - asFloatOr0(arg(args, 1))
	case "div":
		b := asFloatOr0(arg(args, 1))
		if b == 0 {
			return 0.0
		}
		return asFloatOr0(arg(args, 0)) / b

	case "sha256":
		return canonicalize.HashBytes([]byte(asString(arg(args, 0))))
	case "verify_ed25519":
		return verifyEd25519Builtin(asString(arg(args, 0)), asString(arg(args, 1)), asString(arg(args, 2)))

	default:
		return nil
	}
}

// verifyEd25519Builtin verifies a message against an Ed25519 signature,
// both given as base64. Any decode or length mismatch yields false rather
// than an error, per the evaluator's total/non-panicking contract.
func verifyEd25519Builtin(pubB64, msg, sigB64 string) bool {
	pubBytes, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return false
	}
	sigBytes, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sigBytes) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), []byte(msg), sigBytes)
}

func containsValue(arr []any, needle any) bool {
	needleJSON, _ := json.Marshal(needle)
	for _, v := range arr {
		vJSON, _ := json.Marshal(v)
		if string(vJSON) == string(needleJSON) {
			return true
		}
	}
	return false
}

func structuralEqual(a, b any) bool {
	aj, err1 := canonicalize.JCS(a)
	bj, err2 := canonicalize.JCS(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(aj) == string(bj)
}

func compareStrict(op ubltypes.CompareOp, l, r any) bool {
	switch op {
	case ubltypes.CompareEq:
		return structuralEqual(l, r)
	case ubltypes.CompareNe:
		return !structuralEqual(l, r)
	case ubltypes.CompareExists:
		return l != nil
	case ubltypes.CompareIn:
		if arr, ok := r.([]any); ok {
			return containsValue(arr, l)
		}
		ls, lok := l.(string)
		rs, rok := r.(string)
		if lok && rok {
			return strings.Contains(rs, ls)
		}
		return false
	case ubltypes.CompareGt, ubltypes.CompareLt, ubltypes.CompareGe, ubltypes.CompareLe:
		a, aok := asFloat(l)
		b, bok := asFloat(r)
		if !aok || !bok {
			return false
		}
		switch op {
		case ubltypes.CompareGt:
			return a > b
		case ubltypes.CompareLt:
			return a < b
		case ubltypes.CompareGe:
			return a >= b
		case ubltypes.CompareLe:
			return a <= b
		}
		return false
	default:
		return false
	}
}

// EvalGate evaluates a gate's top-level expression, capturing left/right
// evidence when the top-level expression is a Compare. A non-boolean
// top-level result for any other expression kind yields false with a
// captured "gate_not_boolean" error.
func EvalGate(expr *ubltypes.Expr, ctx any, meta Meta) (bool, ubltypes.GateValues, string) {
	if expr != nil && expr.Type == ubltypes.ExprCompare {
		l := Eval(expr.Left, ctx, meta)
		r := Eval(expr.Right, ctx, meta)
		ok := compareStrict(expr.Op, l, r)
		return ok, ubltypes.GateValues{Left: jsonOf(l), Right: jsonOf(r)}, ""
	}

	v := Eval(expr, ctx, meta)
	if b, ok := v.(bool); ok {
		return b, ubltypes.GateValues{}, ""
	}
	return false, ubltypes.GateValues{}, "gate_not_boolean"
}

// Compose applies a Chip's composition rule to its ordered gate results.
func Compose(comp ubltypes.Composition, results []ubltypes.GateResult) int {
	passed := 0
	for _, g := range results {
		if g.Result {
			passed++
		}
	}
	total := len(results)

	switch comp.Kind {
	case ubltypes.CompositionAll:
		if passed == total {
			return 1
		}
		return 0
	case ubltypes.CompositionAny:
		if passed > 0 {
			return 1
		}
		return 0
	case ubltypes.CompositionMajority:
		if passed*2 > total {
			return 1
		}
		return 0
	case ubltypes.CompositionWeighted:
		if len(comp.Weights) != total {
			return 0
		}
		sum := 0.0
		for i, g := range results {
			if g.Result {
				sum += comp.Weights[i]
			}
		}
		if sum > comp.Threshold {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// FormatFloat matches the minimal-number-form expectation built into
// strconv's default float formatting, used by callers that need a string
// form of a numeric built-in result outside of JSON marshaling.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
