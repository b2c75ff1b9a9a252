// Package observability provides kernel-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Kernel-specific semantic convention attributes.
var (
	AttrTxID        = attribute.Key("ubl.tx.id")
	AttrProgramName = attribute.Key("ubl.program.name")
	AttrProgramHash = attribute.Key("ubl.program.hash")
	AttrChipHash    = attribute.Key("ubl.chip.hash")

	AttrGateResult  = attribute.Key("ubl.gate.allowed")
	AttrGateCount   = attribute.Key("ubl.gate.count")

	AttrEffectKind  = attribute.Key("ubl.effect.kind")
	AttrEffectCount = attribute.Key("ubl.effect.count")

	AttrProofHash   = attribute.Key("ubl.proof.hash")
	AttrProofValid  = attribute.Key("ubl.proof.valid")

	AttrLedgerVersion = attribute.Key("ubl.ledger.version")
)

// ExecuteOperation creates attributes for a program execution.
func ExecuteOperation(txID, programName, programHash, chipHash string, allowed bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTxID.String(txID),
		AttrProgramName.String(programName),
		AttrProgramHash.String(programHash),
		AttrChipHash.String(chipHash),
		AttrGateResult.Bool(allowed),
	}
}

// VerifyOperation creates attributes for a proof verification.
func VerifyOperation(proofHash string, valid bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrProofHash.String(proofHash),
		AttrProofValid.Bool(valid),
	}
}

// TrackExecute instruments one execute request: a span and RED metrics
// opened with the program name (the only identity known before the
// ledger runs), closed by the returned callback with the transaction
// id, program/chip hashes, and gate/effect counts the run produced.
func (p *Provider) TrackExecute(ctx context.Context, programName string) (context.Context, func(result ExecuteOutcome, err error)) {
	ctx, finish := p.TrackOperation(ctx, "ubl.execute", AttrProgramName.String(programName))
	span := SpanFromContext(ctx)
	return ctx, func(result ExecuteOutcome, err error) {
		attrs := ExecuteOperation(result.TxID, programName, result.ProgramHash, result.ChipHash, result.Allowed)
		span.SetAttributes(append(attrs,
			AttrGateCount.Int(result.GateCount),
			AttrEffectCount.Int(result.EffectCount),
		)...)
		finish(err)
	}
}

// ExecuteOutcome carries the identity and shape of a completed execution,
// known only once the ledger has run, for TrackExecute's finish callback.
type ExecuteOutcome struct {
	TxID        string
	ProgramHash string
	ChipHash    string
	Allowed     bool
	GateCount   int
	EffectCount int
}

// TrackVerify instruments one verify request: a span tagged with the
// proof hash, closed by the returned callback with the valid/invalid
// result proof.VerifyProof produced.
func (p *Provider) TrackVerify(ctx context.Context, proofHash string) (context.Context, func(valid bool, err error)) {
	ctx, finish := p.TrackOperation(ctx, "ubl.verify", AttrProofHash.String(proofHash))
	span := SpanFromContext(ctx)
	return ctx, func(valid bool, err error) {
		span.SetAttributes(VerifyOperation(proofHash, valid)...)
		finish(err)
	}
}

// RecordLedgerVersion annotates ctx's active span with the ledger version
// a committed transaction produced.
func (p *Provider) RecordLedgerVersion(ctx context.Context, version uint64) {
	AddSpanEvent(ctx, "ledger.committed", AttrLedgerVersion.Int64(int64(version)))
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err, if any, on the current span.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
