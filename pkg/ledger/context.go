package ledger

import (
	"strings"

	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/interp"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// bindContext produces the evaluation context for one execution: the full
// input object is always bound first under "input", then each of the
// program's context definitions is processed in declared order so later
// entries may reference earlier ones; forward references resolve to
// absence.
func bindContext(program ubltypes.Program, input map[string]any, ledgerRoot map[string]any, meta evaluator.Meta) (map[string]any, error) {
	ctx := map[string]any{"input": toAny(input)}

	for _, def := range program.Context {
		switch def.Source {
		case ubltypes.ContextSourceInput:
			if v, ok := evaluator.ResolvePath(ctx, append([]string{"input"}, splitDotted(def.Path)...)); ok {
				ctx[def.Name] = v
			}

		case ubltypes.ContextSourceLedger:
			path := interp.InterpolateStr(def.Path, ctx, nil, meta)
			if v, ok := evaluator.ResolvePath(ledgerRoot, splitDotted(path)); ok {
				ctx[def.Name] = v
			}

		case ubltypes.ContextSourceComputed:
			if def.Expression != nil {
				ctx[def.Name] = evaluator.Eval(def.Expression, ctx, meta)
			}
		}
	}

	return ctx, nil
}

func splitDotted(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ".")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

func toAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
