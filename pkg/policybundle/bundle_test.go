package policybundle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/ledger"
	"github.com/loglinehq/ubl/pkg/policybundle"
)

const sampleYAML = `
chips:
  - name: positive
    gates:
      - id: amount_positive
        expr:
          type: compare
          op: ">"
          left:
            type: path
            path: [input, amount]
          right:
            type: literal
            value: 0
    composition: ALL
programs:
  - name: p
    context: []
    evaluate: "CHIP:positive"
    on_allow: []
    on_deny: []
`

func TestApplyPathRegistersBundleIdempotently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	l, err := ledger.Open(filepath.Join(dir, "ledger.json"), crypto.KeyMaterial{})
	require.NoError(t, err)

	require.NoError(t, policybundle.ApplyPath(l, path))
	require.NoError(t, policybundle.ApplyPath(l, path)) // idempotent re-apply

	chips := l.ListChips()
	assert.Len(t, chips, 1)
	assert.Equal(t, "positive", chips[0].Name)

	programs := l.ListPrograms()
	assert.Len(t, programs, 1)
	assert.Equal(t, "p", programs[0].Name)
}

func TestApplyPathNoopOnEmptyPath(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "ledger.json"), crypto.KeyMaterial{})
	require.NoError(t, err)

	assert.NoError(t, policybundle.ApplyPath(l, ""))
	assert.Empty(t, l.ListChips())
}

func TestApplyRejectsIncompatibleKernelConstraint(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "ledger.json"), crypto.KeyMaterial{})
	require.NoError(t, err)

	b := &policybundle.Bundle{RequiresKernel: ">= 99.0.0"}
	err = policybundle.Apply(l, b)
	assert.Error(t, err)
	assert.Empty(t, l.ListChips())
}

func TestApplyAcceptsSatisfiedKernelConstraint(t *testing.T) {
	dir := t.TempDir()
	l, err := ledger.Open(filepath.Join(dir, "ledger.json"), crypto.KeyMaterial{})
	require.NoError(t, err)

	b := &policybundle.Bundle{RequiresKernel: ">= 1.0.0, < 2.0.0"}
	assert.NoError(t, policybundle.Apply(l, b))
}
