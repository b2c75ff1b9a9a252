// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// compliant serialization for deterministic hashing of kernel artifacts:
// chips, programs, proofs, and effect records all hash their canonical form.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	webpkijcs "github.com/gowebpki/jcs"
)

// ErrNonFinite is returned when a value contains a NaN or infinite number,
// which RFC 8785 cannot represent.
var ErrNonFinite = fmt.Errorf("canonicalize: non-finite number")

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// Key features:
// 1. Map keys are sorted lexicographically by UTF-8 bytes.
// 2. HTML escaping is DISABLED (unlike standard json.Marshal).
// 3. Numbers are preserved exactly if passed as json.Number or string, otherwise standard formatting.
// 4. Non-finite numbers (NaN, +/-Inf) are rejected as a precondition violation.
func JCS(v interface{}) ([]byte, error) {
	if err := rejectNonFinite(v); err != nil {
		return nil, err
	}

	// Strategy: Marshal to intermediate JSON (standard), then Decode to interface{}, then Recursive Marshal.
	// This ensures we respect json tags but override formatting/order.
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic interface{}
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	out, err := marshalRecursive(generic)
	if err != nil {
		return nil, err
	}

	if os.Getenv("UBL_CANON_VERIFY_MODE") == "1" {
		verifyAgainstReference(intermediate, out)
	}

	return out, nil
}

// Canonicalize is the spec-facing name for JCS.
func Canonicalize(v interface{}) ([]byte, error) { return JCS(v) }

// verifyAgainstReference cross-checks the hand-rolled canonicalizer against
// the gowebpki/jcs reference implementation when UBL_CANON_VERIFY_MODE=1.
// Diagnostic/test-only oracle; never consulted on the hot path.
func verifyAgainstReference(standardJSON, got []byte) {
	reference, err := webpkijcs.Transform(standardJSON)
	if err != nil {
		// The reference transform only accepts object/array roots; a
		// scalar root is out of its scope and not a divergence.
		return
	}
	if !bytes.Equal(reference, got) {
		panic(fmt.Sprintf("canonicalize: divergence from gowebpki/jcs reference:\n got=%s\nwant=%s", got, reference))
	}
}

func rejectNonFinite(v interface{}) error {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return ErrNonFinite
		}
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrNonFinite
		}
	case map[string]interface{}:
		for _, vv := range t {
			if err := rejectNonFinite(vv); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, vv := range t {
			if err := rejectNonFinite(vv); err != nil {
				return err
			}
		}
	}
	return nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Hash is the spec-facing name for CanonicalHash.
func Hash(v interface{}) (string, error) { return CanonicalHash(v) }

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the JCS canonical form as a string
func JCSString(v interface{}) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func marshalRecursive(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // CRITICAL: RFC 8785 requires no HTML escaping

	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		if err := enc.Encode(t); err != nil {
			return nil, err
		}
		// json.Encoder adds a newline, we must trim it
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	case []interface{}:
		buf.Reset()
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalRecursive(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		buf.Reset()
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			// Encode Key (Strings must be quoted and escaped, but not HTML escaped)
			kb, err := marshalRecursive(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')

			// Encode Value
			vb, err := marshalRecursive(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		// Fallback for unexpected types (like float64 if json.Number wasn't used)
		if err := enc.Encode(v); err != nil {
			return nil, err
		}
		return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
	}
}
