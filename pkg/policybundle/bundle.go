// Package policybundle loads a startup set of chips and programs from YAML
// files and registers them idempotently before the HTTP listener starts.
package policybundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/loglinehq/ubl/pkg/ledger"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// KernelVersion is the running kernel's own version, checked against a
// bundle's declared RequiresKernel constraint.
var KernelVersion = semver.MustParse("1.0.0")

// Bundle is one YAML policy bundle file: a set of chips and programs to
// register together.
type Bundle struct {
	Chips    []ubltypes.Chip    `yaml:"chips"`
	Programs []ubltypes.Program `yaml:"programs"`

	// RequiresKernel is an optional semver constraint (e.g. ">= 1.0.0,
	// < 2.0.0") the bundle declares itself compatible with. An empty
	// value skips the check.
	RequiresKernel string `yaml:"requires_kernel"`
}

// checkCompatibility validates b's RequiresKernel constraint, if any,
// against KernelVersion.
func (b *Bundle) checkCompatibility() error {
	if b.RequiresKernel == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(b.RequiresKernel)
	if err != nil {
		return fmt.Errorf("policybundle: invalid requires_kernel constraint %q: %w", b.RequiresKernel, err)
	}
	if !constraint.Check(KernelVersion) {
		return fmt.Errorf("policybundle: bundle requires kernel %s, running %s", b.RequiresKernel, KernelVersion)
	}
	return nil
}

// Load parses a single bundle file.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policybundle: read %s: %w", path, err)
	}
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("policybundle: parse %s: %w", path, err)
	}
	return &b, nil
}

// LoadAll parses every *.yaml/*.yml file directly under dir, in
// lexicographic filename order, for deterministic registration order.
func LoadAll(dir string) ([]*Bundle, error) {
	var matches []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		matches = append(matches, m...)
	}
	sort.Strings(matches)

	bundles := make([]*Bundle, 0, len(matches))
	for _, path := range matches {
		b, err := Load(path)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	return bundles, nil
}

// Apply registers every chip and program in the bundle against l.
// Registration is idempotent: identical chip content under the same name
// is a no-op; a genuine conflict aborts and is returned.
func Apply(l *ledger.Ledger, b *Bundle) error {
	if err := b.checkCompatibility(); err != nil {
		return err
	}
	for _, chip := range b.Chips {
		if _, err := l.RegisterChip(chip); err != nil {
			return fmt.Errorf("policybundle: register chip %q: %w", chip.Name, err)
		}
	}
	for _, program := range b.Programs {
		if _, err := l.RegisterProgram(program); err != nil {
			return fmt.Errorf("policybundle: register program %q: %w", program.Name, err)
		}
	}
	return nil
}

// ApplyPath loads the bundle at path and applies it: a single file, or, if
// path is a directory, every bundle LoadAll finds under it. An empty path is
// a no-op, matching the optional nature of UBL_POLICY_BUNDLE.
func ApplyPath(l *ledger.Ledger, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("policybundle: stat %s: %w", path, err)
	}

	if info.IsDir() {
		bundles, err := LoadAll(path)
		if err != nil {
			return err
		}
		for _, b := range bundles {
			if err := Apply(l, b); err != nil {
				return err
			}
		}
		return nil
	}

	b, err := Load(path)
	if err != nil {
		return err
	}
	return Apply(l, b)
}
