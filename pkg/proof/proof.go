// Package proof builds and verifies Proof artifacts: the evaluator is run
// over a chip's gates, the result is assembled and canonically hashed, and
// an optional Ed25519 signature is attached over the ASCII hex of that
// hash. Verification re-derives the hash, replays the evaluation, and
// optionally checks the signature — never trusting the issuer beyond the
// content-addressed chip hash.
package proof

import (
	"encoding/json"
	"time"

	"github.com/loglinehq/ubl/pkg/canonicalize"
	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// evaluatedAtLayout matches the spec's "RFC 3339, seconds precision, Zulu".
const evaluatedAtLayout = "2006-01-02T15:04:05Z"

// BuildProof runs the evaluator over chip's gates against ctx, assembles a
// Proof, computes its canonical proof_hash (with proof_hash/signature
// blanked), and signs the ASCII hex bytes of that hash if keys carries a
// signing key.
func BuildProof(chip ubltypes.Chip, ctx any, meta evaluator.Meta, keys crypto.KeyMaterial) (ubltypes.Proof, error) {
	gates := make([]ubltypes.GateResult, 0, len(chip.Gates))
	failed := make([]string, 0)

	for _, g := range chip.Gates {
		ok, values, errCode := evaluator.EvalGate(g.Expr, ctx, meta)
		gates = append(gates, ubltypes.GateResult{
			ID:     g.ID,
			Result: ok,
			Values: values,
			Error:  errCode,
		})
		if !ok {
			failed = append(failed, g.ID)
		}
	}

	finalResult := evaluator.Compose(chip.Composition, gates)

	ctxSnapshot, err := json.Marshal(ctx)
	if err != nil {
		return ubltypes.Proof{}, err
	}

	p := ubltypes.Proof{
		ChipHash:        chip.Hash,
		EvaluatedAt:     meta.ExecutionTime.UTC().Format(evaluatedAtLayout),
		ContextSnapshot: ctxSnapshot,
		Gates:           gates,
		FailedGates:     failed,
		FinalResult:     finalResult,
	}

	hash, err := hashProof(p)
	if err != nil {
		return ubltypes.Proof{}, err
	}
	p.ProofHash = hash

	if sig, ok := keys.SignASCII(p.ProofHash); ok {
		p.Signature = sig
	}

	return p, nil
}

// hashProof computes the canonical hash of p with ProofHash and Signature
// blanked, as required by both build and verify.
func hashProof(p ubltypes.Proof) (string, error) {
	tmp := p
	tmp.ProofHash = ""
	tmp.Signature = ""
	return canonicalize.Hash(tmp)
}

// VerifyProof enforces, in order: chip hash match, proof_hash
// recomputation, deterministic replay of the evaluator at the proof's
// recorded evaluated_at, and (if applicable) signature verification.
func VerifyProof(p ubltypes.Proof, chip ubltypes.Chip, keys crypto.KeyMaterial) bool {
	if p.ChipHash != chip.Hash {
		return false
	}

	recomputed, err := hashProof(p)
	if err != nil || recomputed != p.ProofHash {
		return false
	}

	evalTime, err := time.Parse(evaluatedAtLayout, p.EvaluatedAt)
	if err != nil {
		return false
	}

	var ctxSnapshot any
	if err := json.Unmarshal(p.ContextSnapshot, &ctxSnapshot); err != nil {
		return false
	}

	replayMeta := evaluator.Meta{TxID: "verify", ExecutionTime: evalTime}
	replay, err := BuildProof(chip, ctxSnapshot, replayMeta, crypto.KeyMaterial{})
	if err != nil || replay.FinalResult != p.FinalResult {
		return false
	}

	if p.Signature != "" && keys.HasVerifyingKey() {
		if !keys.VerifyASCII(p.ProofHash, p.Signature) {
			return false
		}
	}

	return true
}
