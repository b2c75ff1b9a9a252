// Package ubltypes defines the wire and storage data model for the policy
// evaluation and effect-application kernel: expressions, gates, chips,
// programs, effects, proofs, and the hash-chained effect-record ledger.
package ubltypes

import "encoding/json"

// CompareOp enumerates the binary comparison operators a Compare expression
// may carry.
type CompareOp string

const (
	CompareEq     CompareOp = "=="
	CompareNe     CompareOp = "!="
	CompareGt     CompareOp = ">"
	CompareLt     CompareOp = "<"
	CompareGe     CompareOp = ">="
	CompareLe     CompareOp = "<="
	CompareIn     CompareOp = "in"
	CompareExists CompareOp = "exists"
)

// LogicOp enumerates the boolean combinators a Logic expression may carry.
type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
	LogicNot LogicOp = "not"
)

// ExprKind tags the variant carried by an Expr.
type ExprKind string

const (
	ExprLiteral ExprKind = "literal"
	ExprPath    ExprKind = "path"
	ExprCompare ExprKind = "compare"
	ExprLogic   ExprKind = "logic"
	ExprCall    ExprKind = "call"
)

// Expr is a tagged-variant expression node. Exactly the fields relevant to
// Type are populated; the rest are left at their zero value and omitted on
// marshal — an internally-tagged sum type flattened onto a single Go
// struct since Go has no native variant types.
type Expr struct {
	Type ExprKind `json:"type"`

	// Literal
	Value json.RawMessage `json:"value,omitempty"`

	// Path
	Path     []string        `json:"path,omitempty"`
	Fallback json.RawMessage `json:"fallback,omitempty"`

	// Compare
	Op    CompareOp `json:"op,omitempty"`
	Left  *Expr     `json:"left,omitempty"`
	Right *Expr     `json:"right,omitempty"`

	// Logic
	LogicOp LogicOp `json:"logic_op,omitempty"`
	Args    []*Expr  `json:"args,omitempty"`

	// Call
	Function string  `json:"function,omitempty"`
	CallArgs []*Expr `json:"call_args,omitempty"`
}

// Gate is one named predicate within a Chip.
type Gate struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Expr        *Expr  `json:"expr"`
}

// CompositionKind enumerates how gate results combine into a final verdict.
type CompositionKind string

const (
	CompositionAll      CompositionKind = "ALL"
	CompositionAny      CompositionKind = "ANY"
	CompositionMajority CompositionKind = "MAJORITY"
	CompositionWeighted CompositionKind = "WEIGHTED"
)

// Composition describes the rule combining a chip's gate results. It may be
// given in the wire format either as a bare shorthand string ("ALL") or as
// a full object carrying weights/threshold; UnmarshalJSON below normalizes
// both into this struct.
type Composition struct {
	Kind      CompositionKind `json:"type"`
	Weights   []float64       `json:"weights,omitempty"`
	Threshold float64         `json:"threshold,omitempty"`
}

// UnmarshalJSON accepts either a bare shorthand string or a full object,
// matching the original wire format's untagged-enum flexibility.
func (c *Composition) UnmarshalJSON(data []byte) error {
	var shorthand string
	if err := json.Unmarshal(data, &shorthand); err == nil {
		c.Kind = normalizeCompositionKind(shorthand)
		c.Weights = nil
		c.Threshold = 0
		return nil
	}
	type alias Composition
	var full alias
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*c = Composition(full)
	c.Kind = normalizeCompositionKind(string(full.Kind))
	return nil
}

func normalizeCompositionKind(s string) CompositionKind {
	switch CompositionKind(s) {
	case CompositionAll, CompositionAny, CompositionMajority, CompositionWeighted:
		return CompositionKind(s)
	default:
		return CompositionAll
	}
}

// Chip is a named, content-addressed bundle of gates and a composition
// rule. Hash is the canonical hash of the chip with Hash itself blanked.
type Chip struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Gates       []Gate      `json:"gates"`
	Composition Composition `json:"composition"`
	SpecVersion string      `json:"spec_version,omitempty"`
	Hash        string      `json:"hash"`
}

// ContextSource enumerates where a ProgramContextDef's value comes from.
type ContextSource string

const (
	ContextSourceInput    ContextSource = "input"
	ContextSourceLedger   ContextSource = "ledger"
	ContextSourceComputed ContextSource = "computed"
)

// ProgramContextDef binds one named entry of the evaluation context.
type ProgramContextDef struct {
	Name       string        `json:"name"`
	Source     ContextSource `json:"source"`
	Path       string        `json:"path,omitempty"`
	Expression *Expr         `json:"expression,omitempty"`
}

// ProgramInput declares one expected field of a Program's inputs object,
// used to compile a JSON Schema for request-time validation (see pkg/schema).
type ProgramInput struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Program binds input/ledger/computed context to a chip and a pair of
// allow/deny effect lists.
type Program struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Inputs      []ProgramInput      `json:"inputs,omitempty"`
	Context     []ProgramContextDef `json:"context"`
	Evaluate    string              `json:"evaluate"`
	OnAllow     []Effect            `json:"on_allow"`
	OnDeny      []Effect            `json:"on_deny"`
	SpecVersion string              `json:"spec_version,omitempty"`
	Hash        string              `json:"hash"`
}

// EffectKind tags the variant carried by an Effect.
type EffectKind string

const (
	EffectSet       EffectKind = "set"
	EffectIncrement EffectKind = "increment"
	EffectDecrement EffectKind = "decrement"
	EffectAppend    EffectKind = "append"
	EffectRemove    EffectKind = "remove"
	EffectCreate    EffectKind = "create"
	EffectDelete    EffectKind = "delete"
	EffectEmit      EffectKind = "emit"
	EffectFail      EffectKind = "fail"
)

// Effect is a tagged-variant state mutation, applied in declared order
// during a transaction.
type Effect struct {
	Type EffectKind `json:"type"`

	Target string `json:"target,omitempty"` // set/increment/decrement/append/remove/delete

	Value  *Expr `json:"value,omitempty"`  // set/append/remove
	Amount *Expr `json:"amount,omitempty"` // increment/decrement

	EntityType string          `json:"entity_type,omitempty"` // create
	ID         *Expr           `json:"id,omitempty"`          // create
	Data       json.RawMessage `json:"data,omitempty"`        // create/emit

	Event string `json:"event,omitempty"` // emit

	Message string `json:"message,omitempty"` // fail
}

// GateValues captures the evaluated operands of a Compare gate for audit.
type GateValues struct {
	Left  json.RawMessage `json:"left,omitempty"`
	Right json.RawMessage `json:"right,omitempty"`
}

// GateResult is the per-gate outcome captured inside a Proof.
type GateResult struct {
	ID     string     `json:"id"`
	Result bool       `json:"result"`
	Values GateValues `json:"values"`
	Error  string     `json:"error,omitempty"`
}

// Proof is the auditable record of one chip evaluation.
type Proof struct {
	ChipHash        string          `json:"chip_hash"`
	EvaluatedAt     string          `json:"evaluated_at"`
	ContextSnapshot json.RawMessage `json:"context_snapshot"`
	Gates           []GateResult    `json:"gates"`
	FailedGates     []string        `json:"failed_gates"`
	FinalResult     int             `json:"final_result"`
	ProofHash       string          `json:"proof_hash"`
	Signature       string          `json:"signature,omitempty"`
}

// EffectRecord is one hash-chained entry of the ledger's committed history.
type EffectRecord struct {
	ID                 string   `json:"id"`
	VersionAppliedTo   uint64   `json:"version_applied_to"`
	ResultingVersion   uint64   `json:"resulting_version"`
	Timestamp          string   `json:"timestamp"`
	ProgramHash        string   `json:"program_hash"`
	InputHash          string   `json:"input_hash"`
	ProofHash          string   `json:"proof_hash"`
	AppliedEffects     []Effect `json:"applied_effects"`
	PreviousRecordHash string   `json:"previous_record_hash,omitempty"`
	RecordHash         string   `json:"record_hash"`
	RecordSignature    string   `json:"record_signature,omitempty"`
}

// Meta carries the ledger's version counter and creation timestamp.
type Meta struct {
	Version   uint64 `json:"version"`
	CreatedAt string `json:"created_at"`
}

// Registry holds content-addressed chips and name-addressed programs.
type Registry struct {
	Chips     map[string]Chip   `json:"chips"`
	ChipNames map[string]string `json:"chip_names"`
	Programs  map[string]Program `json:"programs"`
}

// LedgerState is the complete, durably-persisted kernel state.
type LedgerState struct {
	Meta     Meta            `json:"meta"`
	Registry Registry        `json:"registry"`
	Root     json.RawMessage `json:"root"`
	History  []EffectRecord  `json:"history"`
}
