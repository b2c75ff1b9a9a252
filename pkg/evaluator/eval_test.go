package evaluator_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

func lit(v any) *ubltypes.Expr {
	b, _ := json.Marshal(v)
	return &ubltypes.Expr{Type: ubltypes.ExprLiteral, Value: json.RawMessage(b)}
}

func path(segs ...string) *ubltypes.Expr {
	return &ubltypes.Expr{Type: ubltypes.ExprPath, Path: segs}
}

func compare(op ubltypes.CompareOp, l, r *ubltypes.Expr) *ubltypes.Expr {
	return &ubltypes.Expr{Type: ubltypes.ExprCompare, Op: op, Left: l, Right: r}
}

func call(fn string, args ...*ubltypes.Expr) *ubltypes.Expr {
	return &ubltypes.Expr{Type: ubltypes.ExprCall, Function: fn, CallArgs: args}
}

func meta() evaluator.Meta {
	return evaluator.Meta{TxID: "t1", ExecutionTime: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}
}

func TestEvalLiteralAndPath(t *testing.T) {
	ctx := map[string]any{"a": map[string]any{"b": 5.0}}
	assert.Equal(t, 5.0, evaluator.Eval(path("a", "b"), ctx, meta()))
	assert.Nil(t, evaluator.Eval(path("a", "missing"), ctx, meta()))
}

func TestEvalPathFallback(t *testing.T) {
	expr := &ubltypes.Expr{Type: ubltypes.ExprPath, Path: []string{"missing"}, Fallback: json.RawMessage(`"default"`)}
	assert.Equal(t, "default", evaluator.Eval(expr, map[string]any{}, meta()))
}

func TestCompareNumericOps(t *testing.T) {
	cases := []struct {
		op   ubltypes.CompareOp
		l, r float64
		want bool
	}{
		{ubltypes.CompareGt, 5, 3, true},
		{ubltypes.CompareGt, 3, 5, false},
		{ubltypes.CompareLt, 3, 5, true},
		{ubltypes.CompareGe, 5, 5, true},
		{ubltypes.CompareLe, 4, 5, true},
	}
	for _, c := range cases {
		got := evaluator.Eval(compare(c.op, lit(c.l), lit(c.r)), nil, meta())
		assert.Equal(t, c.want, got)
	}
}

func TestCompareNonNumericIsFalse(t *testing.T) {
	got := evaluator.Eval(compare(ubltypes.CompareGt, lit("x"), lit(1.0)), nil, meta())
	assert.Equal(t, false, got)
}

func TestCompareEqualityStructural(t *testing.T) {
	a := map[string]any{"x": 1.0, "y": 2.0}
	b := map[string]any{"y": 2.0, "x": 1.0}
	got := evaluator.Eval(compare(ubltypes.CompareEq, lit(a), lit(b)), nil, meta())
	assert.Equal(t, true, got)
}

func TestCompareIn(t *testing.T) {
	arr := lit([]any{"a", "b", "c"})
	assert.Equal(t, true, evaluator.Eval(compare(ubltypes.CompareIn, lit("b"), arr), nil, meta()))
	assert.Equal(t, true, evaluator.Eval(compare(ubltypes.CompareIn, lit("ell"), lit("hello")), nil, meta()))
	assert.Equal(t, false, evaluator.Eval(compare(ubltypes.CompareIn, lit("z"), arr), nil, meta()))
}

func TestCompareExists(t *testing.T) {
	assert.Equal(t, true, evaluator.Eval(compare(ubltypes.CompareExists, lit("x"), nil), nil, meta()))
	assert.Equal(t, false, evaluator.Eval(compare(ubltypes.CompareExists, path("missing"), nil), nil, meta()))
}

func TestLogicAndOrNot(t *testing.T) {
	and := &ubltypes.Expr{Type: ubltypes.ExprLogic, LogicOp: ubltypes.LogicAnd, Args: []*ubltypes.Expr{lit(true), lit(true)}}
	assert.Equal(t, true, evaluator.Eval(and, nil, meta()))

	andFalse := &ubltypes.Expr{Type: ubltypes.ExprLogic, LogicOp: ubltypes.LogicAnd, Args: []*ubltypes.Expr{lit(true), lit(false)}}
	assert.Equal(t, false, evaluator.Eval(andFalse, nil, meta()))

	or := &ubltypes.Expr{Type: ubltypes.ExprLogic, LogicOp: ubltypes.LogicOr, Args: []*ubltypes.Expr{lit(false), lit(true)}}
	assert.Equal(t, true, evaluator.Eval(or, nil, meta()))

	not := &ubltypes.Expr{Type: ubltypes.ExprLogic, LogicOp: ubltypes.LogicNot, Args: []*ubltypes.Expr{lit(true)}}
	assert.Equal(t, false, evaluator.Eval(not, nil, meta()))
}

func TestBuiltinTimeFunctions(t *testing.T) {
	now := evaluator.Eval(call("now"), nil, meta())
	assert.Equal(t, "2026-01-02T03:00:00Z", now)

	before := evaluator.Eval(call("before", lit("2026-01-01T00:00:00Z"), lit("2026-01-02T00:00:00Z")), nil, meta())
	assert.Equal(t, true, before)

	age := evaluator.Eval(call("age", lit("2026-01-02T02:00:00Z")), nil, meta())
	assert.EqualValues(t, 3600, age)

	bucket := evaluator.Eval(call("time_bucket", lit("2026-01-02T03:45:00Z"), lit("hour")), nil, meta())
	assert.Equal(t, "2026-01-02T03", bucket)
}

func TestBuiltinStringFunctions(t *testing.T) {
	assert.Equal(t, "hello", evaluator.Eval(call("lower", lit("HELLO")), nil, meta()))
	assert.Equal(t, "HELLO", evaluator.Eval(call("upper", lit("hello")), nil, meta()))
	assert.Equal(t, true, evaluator.Eval(call("starts_with", lit("hello"), lit("he")), nil, meta()))
	assert.Equal(t, true, evaluator.Eval(call("ends_with", lit("hello"), lit("lo")), nil, meta()))
	assert.EqualValues(t, 5, evaluator.Eval(call("length", lit("hello")), nil, meta()))
	assert.EqualValues(t, 2, evaluator.Eval(call("len", lit([]any{1.0, 2.0})), nil, meta()))
	assert.Equal(t, true, evaluator.Eval(call("empty", lit([]any{})), nil, meta()))
	assert.Equal(t, true, evaluator.Eval(call("contains", lit("hello"), lit("ell")), nil, meta()))
}

func TestBuiltinArithmeticFunctions(t *testing.T) {
	assert.Equal(t, 5.0, evaluator.Eval(call("abs", lit(-5.0)), nil, meta()))
	assert.Equal(t, 2.0, evaluator.Eval(call("floor", lit(2.9)), nil, meta()))
	assert.Equal(t, 3.0, evaluator.Eval(call("ceil", lit(2.1)), nil, meta()))
	assert.Equal(t, 3.0, evaluator.Eval(call("max", lit(3.0), lit(1.0)), nil, meta()))
	assert.Equal(t, 1.0, evaluator.Eval(call("min", lit(3.0), lit(1.0)), nil, meta()))
	assert.Equal(t, 4.0, evaluator.Eval(call("add", lit(3.0), lit(1.0)), nil, meta()))
	assert.Equal(t, 2.0, evaluator.Eval(call("sub", lit(3.0), lit(1.0)), nil, meta()))
	assert.Equal(t, 0.0, evaluator.Eval(call("div", lit(3.0), lit(0.0)), nil, meta()), "division by zero yields 0")
}

func TestBuiltinSha256AndVerifyEd25519(t *testing.T) {
	h := evaluator.Eval(call("sha256", lit("hello")), nil, meta())
	assert.Len(t, h, 64)

	pub, priv, _ := ed25519.GenerateKey(nil)
	msg := "hello"
	sig := ed25519.Sign(priv, []byte(msg))
	ok := evaluator.Eval(call("verify_ed25519",
		lit(base64.StdEncoding.EncodeToString(pub)),
		lit(msg),
		lit(base64.StdEncoding.EncodeToString(sig))), nil, meta())
	assert.Equal(t, true, ok)

	bad := evaluator.Eval(call("verify_ed25519", lit("not-base64!!"), lit(msg), lit("also-bad")), nil, meta())
	assert.Equal(t, false, bad)
}

func TestUnknownBuiltinReturnsNil(t *testing.T) {
	assert.Nil(t, evaluator.Eval(call("does_not_exist"), nil, meta()))
}

func TestEvalGateCapturesCompareEvidence(t *testing.T) {
	ok, values, errStr := evaluator.EvalGate(compare(ubltypes.CompareGt, lit(5.0), lit(3.0)), nil, meta())
	assert.True(t, ok)
	assert.Empty(t, errStr)
	assert.Equal(t, json.RawMessage("5"), values.Left)
	assert.Equal(t, json.RawMessage("3"), values.Right)
}

func TestEvalGateNonBooleanIsError(t *testing.T) {
	ok, _, errStr := evaluator.EvalGate(lit("not-a-bool"), nil, meta())
	assert.False(t, ok)
	assert.Equal(t, "gate_not_boolean", errStr)
}

func TestEvalGatePlainBoolean(t *testing.T) {
	ok, _, errStr := evaluator.EvalGate(lit(true), nil, meta())
	assert.True(t, ok)
	assert.Empty(t, errStr)
}

func gateResults(results ...bool) []ubltypes.GateResult {
	out := make([]ubltypes.GateResult, len(results))
	for i, r := range results {
		out[i] = ubltypes.GateResult{ID: "g", Result: r}
	}
	return out
}

func TestComposeAll(t *testing.T) {
	comp := ubltypes.Composition{Kind: ubltypes.CompositionAll}
	assert.Equal(t, 1, evaluator.Compose(comp, gateResults(true, true)))
	assert.Equal(t, 0, evaluator.Compose(comp, gateResults(true, false)))
}

func TestComposeAny(t *testing.T) {
	comp := ubltypes.Composition{Kind: ubltypes.CompositionAny}
	assert.Equal(t, 1, evaluator.Compose(comp, gateResults(false, true)))
	assert.Equal(t, 0, evaluator.Compose(comp, gateResults(false, false)))
}

func TestComposeMajority(t *testing.T) {
	comp := ubltypes.Composition{Kind: ubltypes.CompositionMajority}
	assert.Equal(t, 1, evaluator.Compose(comp, gateResults(true, true, false)))
	assert.Equal(t, 0, evaluator.Compose(comp, gateResults(true, false, false)))
}

func TestComposeWeightedStrictThreshold(t *testing.T) {
	comp := ubltypes.Composition{Kind: ubltypes.CompositionWeighted, Weights: []float64{0.5, 0.5}, Threshold: 0.5}
	// exactly equal to threshold must not pass: strict '>' required.
	assert.Equal(t, 0, evaluator.Compose(comp, gateResults(true, false)))
	assert.Equal(t, 1, evaluator.Compose(comp, gateResults(true, true)))
}

func TestComposeWeightedMismatchedLengthIsZero(t *testing.T) {
	comp := ubltypes.Composition{Kind: ubltypes.CompositionWeighted, Weights: []float64{1.0}, Threshold: 0.5}
	assert.Equal(t, 0, evaluator.Compose(comp, gateResults(true, true)))
}
