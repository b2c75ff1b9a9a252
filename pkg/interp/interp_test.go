package interp_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/interp"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

func meta() evaluator.Meta {
	return evaluator.Meta{
		TxID:          "tx-42",
		ExecutionTime: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestInterpolateStrTxIDAndNow(t *testing.T) {
	out := interp.InterpolateStr("denied:{tx_id} at {now}", nil, nil, meta())
	assert.Equal(t, "denied:tx-42 at 2026-01-02T03:04:05Z", out)
}

func TestInterpolateStrDoubleBraceForm(t *testing.T) {
	out := interp.InterpolateStr("{{tx_id}}", nil, nil, meta())
	assert.Equal(t, "tx-42", out)
}

func TestInterpolateStrContextPath(t *testing.T) {
	ctx := map[string]any{"sender": map[string]any{"balance": 100.0}}
	out := interp.InterpolateStr("balance={sender.balance}", ctx, nil, meta())
	assert.Equal(t, "balance=100", out)
}

func TestInterpolateStrFallbackToInputPrefix(t *testing.T) {
	ctx := map[string]any{"input": map[string]any{"amount": 5.0}}
	out := interp.InterpolateStr("{amount}", ctx, nil, meta())
	assert.Equal(t, "5", out)
}

func TestInterpolateStrMultiSegmentFallbackToInputPrefix(t *testing.T) {
	ctx := map[string]any{"input": map[string]any{"nested": map[string]any{"x": "v"}}}
	out := interp.InterpolateStr("{nested.x}", ctx, nil, meta())
	assert.Equal(t, "v", out)
}

func TestInterpolateStrUnresolvedStripsBraces(t *testing.T) {
	out := interp.InterpolateStr("{totally.unknown}", map[string]any{}, nil, meta())
	assert.Equal(t, "totally.unknown", out)
}

func TestInterpolateStrProofFailedGates(t *testing.T) {
	p := &ubltypes.Proof{FailedGates: []string{"gate_a", "gate_b"}}
	out := interp.InterpolateStr("failed={proof.failed_gates}", nil, p, meta())
	assert.Equal(t, `failed=["gate_a","gate_b"]`, out)
}

// Pins the implementation-defined behavior for nested/partially-matched
// brace patterns: the first {...} pass consumes the innermost closing
// brace it finds, leaving inner text behind for the next scan iteration.
func TestInterpolateStrNestedBracesPinnedBehavior(t *testing.T) {
	out := interp.InterpolateStr("{a{b}}", map[string]any{}, nil, meta())
	assert.Equal(t, "ab", out)
}

func TestInterpolateValueRecursesThroughArraysAndObjects(t *testing.T) {
	ctx := map[string]any{"input": map[string]any{"amount": 5.0}}
	v := map[string]any{
		"list": []any{"amount={amount}", 42.0},
		"nested": map[string]any{
			"msg": "tx={tx_id}",
		},
	}
	out := interp.InterpolateValue(v, ctx, nil, meta())
	m := out.(map[string]any)
	list := m["list"].([]any)
	assert.Equal(t, "amount=5", list[0])
	assert.Equal(t, 42.0, list[1])
	nested := m["nested"].(map[string]any)
	assert.Equal(t, "tx=tx-42", nested["msg"])
}

func TestInterpolateRawValueRoundTrips(t *testing.T) {
	ctx := map[string]any{"input": map[string]any{"id": "a1"}}
	raw := json.RawMessage(`{"entity":"account/{id}"}`)
	out, err := interp.InterpolateRawValue(raw, ctx, nil, meta())
	assert.NoError(t, err)

	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "account/a1", decoded["entity"])
}
