package proof_test

import (
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglinehq/ubl/pkg/canonicalize"
	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/proof"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

func gtZero(path string) *ubltypes.Expr {
	return &ubltypes.Expr{
		Type: ubltypes.ExprCompare,
		Op:   ubltypes.CompareGt,
		Left: &ubltypes.Expr{Type: ubltypes.ExprPath, Path: []string{path}},
		Right: &ubltypes.Expr{Type: ubltypes.ExprLiteral, Value: json.RawMessage("0")},
	}
}

func testChip() ubltypes.Chip {
	chip := ubltypes.Chip{
		Name:        "positive",
		Gates:       []ubltypes.Gate{{ID: "amount_positive", Expr: gtZero("amount")}},
		Composition: ubltypes.Composition{Kind: ubltypes.CompositionAll},
	}
	chip.Hash = ""
	return chip
}

func meta() evaluator.Meta {
	return evaluator.Meta{TxID: "tx-1", ExecutionTime: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}
}

func TestBuildProofAllowed(t *testing.T) {
	chip := testChip()
	ctx := map[string]any{"amount": 5.0}
	p, err := proof.BuildProof(chip, ctx, meta(), crypto.KeyMaterial{})
	require.NoError(t, err)

	assert.Equal(t, 1, p.FinalResult)
	assert.Empty(t, p.FailedGates)
	assert.NotEmpty(t, p.ProofHash)
	assert.Equal(t, "2026-01-02T03:00:00Z", p.EvaluatedAt)
	assert.Empty(t, p.Signature, "no signing key configured")
}

func TestBuildProofDenied(t *testing.T) {
	chip := testChip()
	ctx := map[string]any{"amount": -1.0}
	p, err := proof.BuildProof(chip, ctx, meta(), crypto.KeyMaterial{})
	require.NoError(t, err)

	assert.Equal(t, 0, p.FinalResult)
	assert.Equal(t, []string{"amount_positive"}, p.FailedGates)
}

func TestBuildProofSignsWhenKeyConfigured(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys := crypto.NewKeyMaterial(priv, pub)

	p, err := proof.BuildProof(testChip(), map[string]any{"amount": 5.0}, meta(), keys)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Signature)
}

func TestVerifyProofRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys := crypto.NewKeyMaterial(priv, pub)

	chip := testChip()
	p, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), keys)
	require.NoError(t, err)

	assert.True(t, proof.VerifyProof(p, chip, keys))
}

func TestVerifyProofFailsOnChipHashMismatch(t *testing.T) {
	chip := testChip()
	p, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), crypto.KeyMaterial{})
	require.NoError(t, err)

	other := chip
	other.Hash = "deadbeef"
	assert.False(t, proof.VerifyProof(p, other, crypto.KeyMaterial{}))
}

func TestVerifyProofFailsOnTamperedHash(t *testing.T) {
	chip := testChip()
	p, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), crypto.KeyMaterial{})
	require.NoError(t, err)

	p.ProofHash = flip(p.ProofHash)
	assert.False(t, proof.VerifyProof(p, chip, crypto.KeyMaterial{}))
}

func TestVerifyProofFailsOnTamperedContextSnapshot(t *testing.T) {
	chip := testChip()
	p, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), crypto.KeyMaterial{})
	require.NoError(t, err)

	// The snapshot is part of the proof_hash preimage, so proof_hash is
	// recomputed after tampering: the hash check then passes, and the tamper
	// must be caught by the replay-determinism check.
	p.ContextSnapshot = json.RawMessage(`{"amount": -5.0}`)
	rehash := p
	rehash.ProofHash = ""
	rehash.Signature = ""
	newHash, err := canonicalize.Hash(rehash)
	require.NoError(t, err)
	p.ProofHash = newHash
	assert.False(t, proof.VerifyProof(p, chip, crypto.KeyMaterial{}))
}

func TestVerifyProofFailsOnBadSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keys := crypto.NewKeyMaterial(priv, pub)

	chip := testChip()
	p, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), keys)
	require.NoError(t, err)

	p.Signature = flip(p.Signature)
	assert.False(t, proof.VerifyProof(p, chip, keys))
}

func TestVerifyProofPermissiveWhenSignatureOrKeyAbsent(t *testing.T) {
	chip := testChip()

	// Signed proof, but verifier has no verifying key: signature check is skipped.
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signed, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), crypto.NewKeyMaterial(priv, pub))
	require.NoError(t, err)
	assert.True(t, proof.VerifyProof(signed, chip, crypto.KeyMaterial{}))

	// Unsigned proof, verifier has a verifying key: absence of signature is permissive.
	unsigned, err := proof.BuildProof(chip, map[string]any{"amount": 5.0}, meta(), crypto.KeyMaterial{})
	require.NoError(t, err)
	assert.True(t, proof.VerifyProof(unsigned, chip, crypto.NewKeyMaterial(nil, pub)))
}

func flip(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] == 'a' {
		b[0] = 'b'
	} else {
		b[0] = 'a'
	}
	return string(b)
}
