// Package ledger implements the kernel's single-writer, multi-reader
// registry and transactional state machine: chip/program registration,
// evaluation-context binding, transactional effect application, and
// durable, hash-chained persistence of the entity tree and its history.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loglinehq/ubl/pkg/canonicalize"
	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/evaluator"
	"github.com/loglinehq/ubl/pkg/proof"
	"github.com/loglinehq/ubl/pkg/schema"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// AuditMirror receives a best-effort copy of every committed EffectRecord.
// A failure to mirror never fails the transaction that produced the record.
type AuditMirror interface {
	Record(record ubltypes.EffectRecord) error
}

// BlobStore offloads oversized effect payloads to external storage,
// returning a reference URI to store in place of the inline value.
type BlobStore interface {
	Put(key string, data []byte) (uri string, err error)
}

// ValidationError marks a rejected transaction that left the ledger
// unchanged — name conflicts, version conflicts, entity_exists, and
// fail-effect messages all surface as this kind.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErr(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a lookup against an unregistered chip or program.
type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

// Ledger guards a LedgerState behind a single-writer/multi-reader lock. All
// mutation goes through RegisterChip, RegisterProgram, and Execute; every
// other accessor takes a read lock and returns a clone.
type Ledger struct {
	mu    sync.RWMutex
	state ubltypes.LedgerState
	path  string
	keys  crypto.KeyMaterial

	audit         AuditMirror
	blobs         BlobStore
	blobThreshold int
}

// SetAuditMirror configures a best-effort post-commit mirror for committed
// EffectRecords. Pass nil to disable (the default).
func (l *Ledger) SetAuditMirror(m AuditMirror) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.audit = m
}

// SetBlobStore configures offload of create/emit effect Data payloads larger
// than thresholdBytes to external storage. Pass a nil store to disable (the
// default); thresholdBytes <= 0 disables offload even with a store set.
func (l *Ledger) SetBlobStore(store BlobStore, thresholdBytes int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blobs = store
	l.blobThreshold = thresholdBytes
}

// Open loads ledger state from path (an empty state if the file is absent
// or malformed — best-effort per the persisted-state contract) and returns
// a ready Ledger bound to that path for future commits.
func Open(path string, keys crypto.KeyMaterial) (*Ledger, error) {
	state, err := load(path)
	if err != nil {
		return nil, err
	}
	return &Ledger{state: state, path: path, keys: keys}, nil
}

func load(path string) (ubltypes.LedgerState, error) {
	empty := ubltypes.LedgerState{
		Registry: ubltypes.Registry{
			Chips:     map[string]ubltypes.Chip{},
			ChipNames: map[string]string{},
			Programs:  map[string]ubltypes.Program{},
		},
		Root: json.RawMessage(`{}`),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return empty, nil
	}

	var st ubltypes.LedgerState
	if err := json.Unmarshal(data, &st); err != nil {
		return empty, nil
	}
	if st.Registry.Chips == nil {
		st.Registry.Chips = map[string]ubltypes.Chip{}
	}
	if st.Registry.ChipNames == nil {
		st.Registry.ChipNames = map[string]string{}
	}
	if st.Registry.Programs == nil {
		st.Registry.Programs = map[string]ubltypes.Program{}
	}
	if len(st.Root) == 0 {
		st.Root = json.RawMessage(`{}`)
	}
	return st, nil
}

// commit serializes the full state and durably writes it via
// write-temp-and-rename with fsync, per the persisted-state contract. Must
// be called with the write lock held.
func (l *Ledger) commit() error {
	data, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ubl_ledger-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}

	return nil
}

// RegisterChip computes chip's canonical hash and inserts it under the
// write lock. Re-registering identical content under the same name is a
// no-op; a different chip under an existing name is rejected.
func (l *Ledger) RegisterChip(chip ubltypes.Chip) (ubltypes.Chip, error) {
	chip.Hash = ""
	hash, err := canonicalize.Hash(chip)
	if err != nil {
		return ubltypes.Chip{}, err
	}
	chip.Hash = hash

	l.mu.Lock()
	defer l.mu.Unlock()

	if existingHash, ok := l.state.Registry.ChipNames[chip.Name]; ok && existingHash != hash {
		return ubltypes.Chip{}, validationErr("chip_name_conflict", "chip_name_conflict: %s", chip.Name)
	}

	l.state.Registry.Chips[hash] = chip
	l.state.Registry.ChipNames[chip.Name] = hash

	if err := l.commit(); err != nil {
		return ubltypes.Chip{}, err
	}
	return chip, nil
}

// RegisterProgram computes program's canonical hash and inserts it by name
// (last write wins).
func (l *Ledger) RegisterProgram(program ubltypes.Program) (ubltypes.Program, error) {
	program.Hash = ""
	hash, err := canonicalize.Hash(program)
	if err != nil {
		return ubltypes.Program{}, err
	}
	program.Hash = hash

	l.mu.Lock()
	defer l.mu.Unlock()

	l.state.Registry.Programs[program.Name] = program

	if err := l.commit(); err != nil {
		return ubltypes.Program{}, err
	}
	return program, nil
}

// GetChipByHash returns a clone of the chip registered under hash.
func (l *Ledger) GetChipByHash(hash string) (ubltypes.Chip, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.state.Registry.Chips[hash]
	if !ok {
		return ubltypes.Chip{}, &NotFoundError{Message: "chip_not_found: " + hash}
	}
	return c, nil
}

// GetChipByName resolves a chip name through the name index.
func (l *Ledger) GetChipByName(name string) (ubltypes.Chip, error) {
	l.mu.RLock()
	hash, ok := l.state.Registry.ChipNames[name]
	l.mu.RUnlock()
	if !ok {
		return ubltypes.Chip{}, &NotFoundError{Message: "chip_not_found: " + name}
	}
	return l.GetChipByHash(hash)
}

// GetProgramByName returns a clone of the named program.
func (l *Ledger) GetProgramByName(name string) (ubltypes.Program, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.state.Registry.Programs[name]
	if !ok {
		return ubltypes.Program{}, &NotFoundError{Message: "program_not_found: " + name}
	}
	return p, nil
}

// ResolveChip resolves a Program's evaluate field: either a bare hash or
// the sentinel CHIP:<name>.
func (l *Ledger) ResolveChip(evaluate string) (ubltypes.Chip, error) {
	const prefix = "CHIP:"
	if len(evaluate) > len(prefix) && evaluate[:len(prefix)] == prefix {
		return l.GetChipByName(evaluate[len(prefix):])
	}
	return l.GetChipByHash(evaluate)
}

// ChipSummary and ProgramSummary back the registry listing endpoints.
type ChipSummary struct {
	Hash        string `json:"hash"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ProgramSummary struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// ListChips returns a snapshot of registered chips.
func (l *Ledger) ListChips() []ChipSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChipSummary, 0, len(l.state.Registry.Chips))
	for _, c := range l.state.Registry.Chips {
		out = append(out, ChipSummary{Hash: c.Hash, Name: c.Name, Description: c.Description})
	}
	return out
}

// ListPrograms returns a snapshot of registered programs.
func (l *Ledger) ListPrograms() []ProgramSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ProgramSummary, 0, len(l.state.Registry.Programs))
	for _, p := range l.state.Registry.Programs {
		out = append(out, ProgramSummary{Name: p.Name, Hash: p.Hash})
	}
	return out
}

// Version returns the current ledger version.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Meta.Version
}

// Root returns a snapshot of the current entity tree's canonical JSON.
func (l *Ledger) Root() json.RawMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(json.RawMessage, len(l.state.Root))
	copy(out, l.state.Root)
	return out
}

// ExecutionResult bundles everything an /execute caller needs.
type ExecutionResult struct {
	TxID         string
	Allowed      bool
	Proof        ubltypes.Proof
	EffectRecord ubltypes.EffectRecord
}

// Execute resolves program, binds its context, evaluates its chip, and
// applies the resulting allow/deny effect list as a single transaction.
func (l *Ledger) Execute(programName string, input map[string]any, targetVersion *uint64, now time.Time) (ExecutionResult, error) {
	program, err := l.GetProgramByName(programName)
	if err != nil {
		return ExecutionResult{}, err
	}
	if err := schema.Validate(program, input); err != nil {
		return ExecutionResult{}, validationErr("invalid_input", "%s", err.Error())
	}
	chip, err := l.ResolveChip(program.Evaluate)
	if err != nil {
		return ExecutionResult{}, err
	}

	txID := uuid.NewString()
	meta := evaluator.Meta{TxID: txID, ExecutionTime: now}

	l.mu.Lock()
	defer l.mu.Unlock()

	if targetVersion != nil && *targetVersion != l.state.Meta.Version {
		return ExecutionResult{}, validationErr("version_conflict",
			"version_conflict: target_version=%d current=%d", *targetVersion, l.state.Meta.Version)
	}

	ledgerRoot, err := decodeRoot(l.state.Root)
	if err != nil {
		return ExecutionResult{}, err
	}

	ctx, err := bindContext(program, input, ledgerRoot, meta)
	if err != nil {
		return ExecutionResult{}, err
	}

	pf, err := proof.BuildProof(chip, ctx, meta, l.keys)
	if err != nil {
		return ExecutionResult{}, err
	}

	allowed := pf.FinalResult == 1
	effects := program.OnDeny
	if allowed {
		effects = program.OnAllow
	}

	working := cloneValue(ledgerRoot)
	applied, err := applyEffects(working, effects, ctx, &pf, meta)
	if err != nil {
		return ExecutionResult{}, err
	}

	inputHash, err := canonicalize.Hash(input)
	if err != nil {
		return ExecutionResult{}, err
	}

	var previousHash string
	if n := len(l.state.History); n > 0 {
		previousHash = l.state.History[n-1].RecordHash
	}

	record := ubltypes.EffectRecord{
		ID:                 txID,
		VersionAppliedTo:   l.state.Meta.Version,
		ResultingVersion:   l.state.Meta.Version + 1,
		Timestamp:          now.UTC().Format("2006-01-02T15:04:05Z"),
		ProgramHash:        program.Hash,
		InputHash:          inputHash,
		ProofHash:          pf.ProofHash,
		AppliedEffects:     applied,
		PreviousRecordHash: previousHash,
	}

	// record_hash/record_signature are computed over the full,
	// un-offloaded applied effects: blob offload is a persistence-layer
	// concern and must never influence the hash preimage, or replicas
	// with different offload thresholds would diverge on record_hash.
	recordHash, err := hashRecord(record)
	if err != nil {
		return ExecutionResult{}, err
	}
	record.RecordHash = recordHash
	if sig, ok := l.keys.SignASCII(recordHash); ok {
		record.RecordSignature = sig
	}

	rootBytes, err := json.Marshal(working)
	if err != nil {
		return ExecutionResult{}, err
	}

	// Only the stored record (in history, on disk, and in the returned
	// result) has its effect payloads offloaded; the entity tree and the
	// hash/signature above are unaffected.
	persisted := record
	persisted.AppliedEffects = offloadForPersistence(l.blobs, l.blobThreshold, applied)

	l.state.Root = rootBytes
	l.state.Meta.Version = record.ResultingVersion
	if l.state.Meta.CreatedAt == "" {
		l.state.Meta.CreatedAt = now.UTC().Format("2006-01-02T15:04:05Z")
	}
	l.state.History = append(l.state.History, persisted)
	record = persisted

	// Publish happens before persistence. A crash between the two leaves a
	// committed-in-memory transaction unpersisted; callers that need the
	// stronger ordering should persist-before-publish instead.
	if err := l.commit(); err != nil {
		return ExecutionResult{}, fmt.Errorf("ledger_io: %w", err)
	}

	if l.audit != nil {
		if err := l.audit.Record(record); err != nil {
			// Audit mirroring is best-effort: a failure here never unwinds a
			// transaction that has already been published and persisted.
			slog.Warn("audit mirror failed", "tx_id", txID, "error", err)
		}
	}

	return ExecutionResult{TxID: txID, Allowed: allowed, Proof: pf, EffectRecord: record}, nil
}

func hashRecord(r ubltypes.EffectRecord) (string, error) {
	tmp := r
	tmp.RecordHash = ""
	tmp.RecordSignature = ""
	return canonicalize.Hash(tmp)
}

func decodeRoot(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if v == nil {
		v = map[string]any{}
	}
	return v, nil
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}
