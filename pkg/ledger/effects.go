package ledger

import (
	"encoding/json"

	"github.com/loglinehq/ubl/pkg/canonicalize"
	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/interp"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// applyEffects applies effects in order to the working entity tree,
// returning the concretized (post-interpolation) forms for the resulting
// effect record. On a fail effect, or entity_exists, it returns a
// *ValidationError and the working tree must be discarded by the caller.
//
// The returned effects carry full, un-offloaded payloads: offload is a
// persistence-layer concern applied separately by offloadForPersistence,
// never before record_hash is computed over these effects.
func applyEffects(root any, effects []ubltypes.Effect, ctx map[string]any, pf *ubltypes.Proof, meta evaluator.Meta) ([]ubltypes.Effect, error) {
	applied := make([]ubltypes.Effect, 0, len(effects))

	for _, e := range effects {
		concrete, err := applyOne(root, e, ctx, pf, meta)
		if err != nil {
			return nil, err
		}
		applied = append(applied, concrete)
	}

	return applied, nil
}

// offloadForPersistence returns a copy of effects with any create/emit
// payload exceeding threshold replaced by a content-addressed blob
// reference, for the copy that gets marshaled to durable storage. It must
// never be called on the effects used to compute record_hash.
func offloadForPersistence(blobs BlobStore, threshold int, effects []ubltypes.Effect) []ubltypes.Effect {
	if blobs == nil || threshold <= 0 {
		return effects
	}
	out := make([]ubltypes.Effect, len(effects))
	for i, e := range effects {
		switch e.Type {
		case ubltypes.EffectCreate, ubltypes.EffectEmit:
			e.Data = offload(blobs, threshold, e.Data)
		}
		out[i] = e
	}
	return out
}

// offload replaces data with a content-addressed blob reference when it
// exceeds threshold and a store is configured; otherwise it returns data
// unchanged.
func offload(blobs BlobStore, threshold int, data json.RawMessage) json.RawMessage {
	if blobs == nil || threshold <= 0 || len(data) <= threshold {
		return data
	}
	hash := canonicalize.HashBytes(data)
	if _, err := blobs.Put("blobs/sha256/"+hash, data); err != nil {
		return data
	}
	ref, err := json.Marshal(map[string]any{"$blob": "sha256:" + hash})
	if err != nil {
		return data
	}
	return ref
}

func applyOne(root any, e ubltypes.Effect, ctx map[string]any, pf *ubltypes.Proof, meta evaluator.Meta) (ubltypes.Effect, error) {
	switch e.Type {
	case ubltypes.EffectSet:
		target := interp.InterpolateStr(e.Target, ctx, pf, meta)
		val := evalAndInterpolate(e.Value, ctx, pf, meta)
		setPath(root, splitDotted(target), val)
		return ubltypes.Effect{Type: e.Type, Target: target, Value: literalExpr(val)}, nil

	case ubltypes.EffectIncrement, ubltypes.EffectDecrement:
		target := interp.InterpolateStr(e.Target, ctx, pf, meta)
		amount := asFloat(evalAndInterpolate(e.Amount, ctx, pf, meta))
		current := asFloat(getPath(root, splitDotted(target)))
		var next float64
		if e.Type == ubltypes.EffectIncrement {
			next = current + amount
		} else {
			next = current - amount
		}
		setPath(root, splitDotted(target), next)
		return ubltypes.Effect{Type: e.Type, Target: target, Amount: literalExpr(amount)}, nil

	case ubltypes.EffectAppend:
		target := interp.InterpolateStr(e.Target, ctx, pf, meta)
		val := evalAndInterpolate(e.Value, ctx, pf, meta)
		arr := asArray(getPath(root, splitDotted(target)))
		arr = append(arr, val)
		setPath(root, splitDotted(target), arr)
		return ubltypes.Effect{Type: e.Type, Target: target, Value: literalExpr(val)}, nil

	case ubltypes.EffectRemove:
		target := interp.InterpolateStr(e.Target, ctx, pf, meta)
		val := evalAndInterpolate(e.Value, ctx, pf, meta)
		arr := asArray(getPath(root, splitDotted(target)))
		out := make([]any, 0, len(arr))
		for _, v := range arr {
			if !structEqualJSON(v, val) {
				out = append(out, v)
			}
		}
		setPath(root, splitDotted(target), out)
		return ubltypes.Effect{Type: e.Type, Target: target, Value: literalExpr(val)}, nil

	case ubltypes.EffectCreate:
		idVal := evaluator.Eval(e.ID, ctx, meta)
		id, _ := idVal.(string)
		obj, ok := root.(map[string]any)
		if !ok {
			return ubltypes.Effect{}, validationErr("entity_exists", "entity_exists: %s.%s", e.EntityType, id)
		}
		bucket, _ := obj[e.EntityType].(map[string]any)
		if bucket == nil {
			bucket = map[string]any{}
			obj[e.EntityType] = bucket
		}
		if _, exists := bucket[id]; exists {
			return ubltypes.Effect{}, validationErr("entity_exists", "entity_exists: %s.%s", e.EntityType, id)
		}
		data, err := interp.InterpolateRawValue(e.Data, ctx, pf, meta)
		if err != nil {
			return ubltypes.Effect{}, err
		}
		var dataVal any
		_ = json.Unmarshal(data, &dataVal)
		bucket[id] = dataVal
		return ubltypes.Effect{Type: e.Type, EntityType: e.EntityType, ID: literalExpr(id), Data: data}, nil

	case ubltypes.EffectDelete:
		target := interp.InterpolateStr(e.Target, ctx, pf, meta)
		deletePath(root, splitDotted(target))
		return ubltypes.Effect{Type: e.Type, Target: target}, nil

	case ubltypes.EffectEmit:
		event := interp.InterpolateStr(e.Event, ctx, pf, meta)
		data, err := interp.InterpolateRawValue(e.Data, ctx, pf, meta)
		if err != nil {
			return ubltypes.Effect{}, err
		}
		return ubltypes.Effect{Type: e.Type, Event: event, Data: data}, nil

	case ubltypes.EffectFail:
		message := interp.InterpolateStr(e.Message, ctx, pf, meta)
		return ubltypes.Effect{}, validationErr("fail", "%s", message)

	default:
		return e, nil
	}
}

func evalAndInterpolate(expr *ubltypes.Expr, ctx map[string]any, pf *ubltypes.Proof, meta evaluator.Meta) any {
	v := evaluator.Eval(expr, ctx, meta)
	if s, ok := v.(string); ok {
		return interp.InterpolateStr(s, ctx, pf, meta)
	}
	return v
}

func literalExpr(v any) *ubltypes.Expr {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte("null")
	}
	return &ubltypes.Expr{Type: ubltypes.ExprLiteral, Value: json.RawMessage(b)}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func asArray(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{}
}

func structEqualJSON(a, b any) bool {
	aj, err1 := json.Marshal(a)
	bj, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(aj) == string(bj)
}

// getPath, setPath, and deletePath traverse/mutate a map[string]any tree by
// dotted path, auto-creating intermediate objects on write and replacing
// any non-object encountered along the way.

func getPath(root any, path []string) any {
	cur := root
	for _, seg := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[seg]
	}
	return cur
}

func setPath(root any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return
	}
	for _, seg := range path[:len(path)-1] {
		next, ok := obj[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			obj[seg] = next
		}
		obj = next
	}
	obj[path[len(path)-1]] = value
}

func deletePath(root any, path []string) {
	if len(path) == 0 {
		return
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return
	}
	for _, seg := range path[:len(path)-1] {
		next, ok := obj[seg].(map[string]any)
		if !ok {
			return
		}
		obj = next
	}
	delete(obj, path[len(path)-1])
}
