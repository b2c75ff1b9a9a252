package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/loglinehq/ubl/pkg/boundary"
	"github.com/loglinehq/ubl/pkg/cache"
	"github.com/loglinehq/ubl/pkg/canonicalize"
	"github.com/loglinehq/ubl/pkg/crypto"
	"github.com/loglinehq/ubl/pkg/ledger"
	"github.com/loglinehq/ubl/pkg/observability"
	"github.com/loglinehq/ubl/pkg/proof"
	"github.com/loglinehq/ubl/pkg/ubltypes"
)

// Server wires the ledger and key material behind the seven wire
// endpoints of the kernel's HTTP surface.
type Server struct {
	Ledger        *ledger.Ledger
	Keys          crypto.KeyMaterial
	APIKey        string
	Cache         *cache.RegistryCache
	Observability *observability.Provider
	Now           func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Mux builds the complete handler: auth applies to every route except
// /health, and the rate limiter, when non-nil, applies to every route,
// /health included.
func (s *Server) Mux(limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/register", s.authenticated(http.HandlerFunc(s.handleRegister)))
	mux.Handle("/execute", s.authenticated(http.HandlerFunc(s.handleExecute)))
	mux.Handle("/verify", s.authenticated(http.HandlerFunc(s.handleVerify)))
	mux.Handle("/registry/chips", s.authenticated(http.HandlerFunc(s.handleListChips)))
	mux.Handle("/registry/programs", s.authenticated(http.HandlerFunc(s.handleListPrograms)))
	mux.Handle("/barrier/process", s.authenticated(http.HandlerFunc(s.handleBarrierProcess)))

	var h http.Handler = mux
	if limiter != nil {
		h = limiter.Middleware(mux)
	}
	return h
}

// authenticated enforces the shared-secret header check; open if
// s.APIKey is unset.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.APIKey != "" && r.Header.Get("x-ubl-key") != s.APIKey {
			WriteUnauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type registerRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Type {
	case "chip":
		var chip ubltypes.Chip
		if err := json.Unmarshal(req.Data, &chip); err != nil {
			WriteBadRequest(w, "invalid chip payload")
			return
		}
		registered, err := s.Ledger.RegisterChip(chip)
		if !s.writeRegisterResult(w, registered.Hash, err) {
			return
		}
		s.Cache.Invalidate(r.Context(), registered.Hash, "")
	case "program":
		var program ubltypes.Program
		if err := json.Unmarshal(req.Data, &program); err != nil {
			WriteBadRequest(w, "invalid program payload")
			return
		}
		registered, err := s.Ledger.RegisterProgram(program)
		if s.writeRegisterResult(w, registered.Hash, err) {
			s.Cache.Invalidate(r.Context(), "", registered.Name)
		}
	default:
		WriteBadRequest(w, "type must be \"chip\" or \"program\"")
	}
}

func (s *Server) writeRegisterResult(w http.ResponseWriter, hash string, err error) bool {
	if err != nil {
		if ve, ok := err.(*ledger.ValidationError); ok {
			WriteBadRequest(w, ve.Message)
		} else {
			WriteInternal(w, err)
		}
		return false
	}
	writeJSON(w, http.StatusOK, map[string]string{"hash": hash, "status": "registered"})
	return true
}

type executeRequest struct {
	Program      string         `json:"program"`
	Inputs       map[string]any `json:"inputs"`
	TargetVersion *uint64       `json:"target_version,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}

	var finish func(observability.ExecuteOutcome, error)
	obsCtx := r.Context()
	if s.Observability != nil {
		obsCtx, finish = s.Observability.TrackExecute(r.Context(), req.Program)
	}

	result, err := s.Ledger.Execute(req.Program, req.Inputs, req.TargetVersion, s.now())
	if err == nil && s.Observability != nil {
		s.Observability.RecordLedgerVersion(obsCtx, result.EffectRecord.ResultingVersion)
	}
	if finish != nil {
		outcome := observability.ExecuteOutcome{Allowed: result.Allowed}
		if err == nil {
			outcome.TxID = result.TxID
			outcome.ProgramHash = result.EffectRecord.ProgramHash
			outcome.ChipHash = result.Proof.ChipHash
			outcome.GateCount = len(result.Proof.Gates)
			outcome.EffectCount = len(result.EffectRecord.AppliedEffects)
		}
		finish(outcome, err)
	}
	if err != nil {
		switch e := err.(type) {
		case *ledger.NotFoundError:
			WriteNotFound(w, e.Message)
		case *ledger.ValidationError:
			if e.Code == "version_conflict" {
				WriteVersionConflict(w, e.Message)
			} else {
				WriteBadRequest(w, e.Message)
			}
		default:
			WriteInternal(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tx_id":         result.TxID,
		"allowed":       result.Allowed,
		"proof":         result.Proof,
		"effect_record": result.EffectRecord,
	})
}

type verifyRequest struct {
	Proof ubltypes.Proof `json:"proof"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var finish func(bool, error)
	if s.Observability != nil {
		_, finish = s.Observability.TrackVerify(r.Context(), req.Proof.ProofHash)
	}

	chip, cached := s.Cache.GetChip(r.Context(), req.Proof.ChipHash)
	if !cached {
		var err error
		chip, err = s.Ledger.GetChipByHash(req.Proof.ChipHash)
		if err != nil {
			if finish != nil {
				finish(false, err)
			}
			writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
			return
		}
		s.Cache.PutChip(r.Context(), chip)
	}

	valid := proof.VerifyProof(req.Proof, chip, s.Keys)
	if finish != nil {
		finish(valid, nil)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

func (s *Server) handleListChips(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"chips": s.Ledger.ListChips()})
}

func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"programs": s.Ledger.ListPrograms()})
}

type barrierRequest struct {
	ContentType string          `json:"content_type"`
	Payload     map[string]any  `json:"payload"`
	Signature   string          `json:"signature,omitempty"`
}

func (s *Server) handleBarrierProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req barrierRequest
	if !decodeBody(w, r, &req) {
		return
	}

	validated, err := boundary.ProcessBarrier(req.ContentType, req.Payload)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	contentHash, err := canonicalize.Hash(req.Payload)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	validated["content_hash"] = contentHash

	writeJSON(w, http.StatusOK, map[string]any{"validated": validated})
}
