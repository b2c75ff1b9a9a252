//go:build property
// +build property

package proof_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/proof"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// TestProofHashMutationAlwaysInvalidates verifies that flipping any single
// byte of a freshly built proof's proof_hash always fails verification.
func TestProofHashMutationAlwaysInvalidates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	chip := ubltypes.Chip{
		Name: "positive",
		Gates: []ubltypes.Gate{{
			ID: "amount_positive",
			Expr: &ubltypes.Expr{
				Type: ubltypes.ExprCompare,
				Op:   ubltypes.CompareGt,
				Left: &ubltypes.Expr{Type: ubltypes.ExprPath, Path: []string{"amount"}},
				Right: &ubltypes.Expr{Type: ubltypes.ExprLiteral, Value: json.RawMessage("0")},
			},
		}},
		Composition: ubltypes.Composition{Kind: ubltypes.CompositionAll},
	}
	meta := evaluator.Meta{TxID: "tx-prop", ExecutionTime: time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)}

	properties.Property("mutating proof_hash always breaks verification", prop.ForAll(
		func(amount float64, mutateIdx int) bool {
			p, err := proof.BuildProof(chip, map[string]any{"amount": amount}, meta, crypto.KeyMaterial{})
			if err != nil || p.ProofHash == "" {
				return true
			}
			if !proof.VerifyProof(p, chip, crypto.KeyMaterial{}) {
				return false
			}

			b := []byte(p.ProofHash)
			idx := mutateIdx % len(b)
			orig := b[idx]
			b[idx] = flipHexChar(orig)
			p.ProofHash = string(b)

			return !proof.VerifyProof(p, chip, crypto.KeyMaterial{})
		},
		gen.Float64Range(-1000, 1000),
		gen.IntRange(0, 63),
	))

	properties.TestingRun(t)
}

func flipHexChar(c byte) byte {
	if c == 'a' {
		return 'b'
	}
	return 'a'
}
