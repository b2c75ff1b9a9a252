// Package crypto holds the kernel's Ed25519 key material: loading signing
// and verifying keys from environment-supplied base64, deriving a seed from
// a passphrase via HKDF as an alternative provisioning path, and signing or
// verifying the ASCII hex bytes of a proof/record hash — never the raw
// digest bytes. This asymmetry is part of the wire contract.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"os"

	"golang.org/x/crypto/hkdf"
)

// KeyMaterial holds the process's optional signing and verifying keys.
// Either half may be absent: a missing signing key disables signatures; a
// missing verifying key disables signature verification (structural/replay
// checks on a proof still run regardless).
type KeyMaterial struct {
	signing   ed25519.PrivateKey
	verifying ed25519.PublicKey
}

// KeyMaterialFromEnv loads key material via two provisioning paths:
//  1. UBL_ED25519_PRIVATE_KEY_B64 / UBL_ED25519_PUBLIC_KEY_B64 (32-byte
//     values, base64) are the primary path.
//  2. If the private key is absent, UBL_ED25519_SEED_PASSPHRASE plus
//     UBL_ED25519_SEED_SALT derive a 32-byte seed via HKDF-SHA256.
//
// A public key explicitly supplied wins; otherwise the verifying key
// defaults to the public half of the signing key, if any.
func KeyMaterialFromEnv() KeyMaterial {
	var km KeyMaterial

	if seed, ok := decodeSeedB64(os.Getenv("UBL_ED25519_PRIVATE_KEY_B64")); ok {
		km.signing = ed25519.NewKeyFromSeed(seed)
	} else if seed, ok := deriveSeedFromPassphrase(
		os.Getenv("UBL_ED25519_SEED_PASSPHRASE"),
		os.Getenv("UBL_ED25519_SEED_SALT"),
	); ok {
		km.signing = ed25519.NewKeyFromSeed(seed)
	}

	if pub, ok := decodePubB64(os.Getenv("UBL_ED25519_PUBLIC_KEY_B64")); ok {
		km.verifying = pub
	} else if km.signing != nil {
		km.verifying = km.signing.Public().(ed25519.PublicKey)
	}

	return km
}

// NewKeyMaterial builds key material directly from decoded keys, primarily
// for tests and for the verify-only path used during proof replay.
func NewKeyMaterial(signing ed25519.PrivateKey, verifying ed25519.PublicKey) KeyMaterial {
	return KeyMaterial{signing: signing, verifying: verifying}
}

func decodeSeedB64(s string) ([]byte, bool) {
	if s == "" {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != ed25519.SeedSize {
		return nil, false
	}
	return b, true
}

func decodePubB64(s string) (ed25519.PublicKey, bool) {
	if s == "" {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(b), true
}

func deriveSeedFromPassphrase(passphrase, salt string) ([]byte, bool) {
	if passphrase == "" {
		return nil, false
	}
	kdf := hkdf.New(sha256.New, []byte(passphrase), []byte(salt), []byte("ubl-ed25519-seed-v1"))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := kdf.Read(seed); err != nil {
		return nil, false
	}
	return seed, true
}

// HasSigningKey reports whether signatures will be produced.
func (k KeyMaterial) HasSigningKey() bool { return k.signing != nil }

// HasVerifyingKey reports whether signatures will be checked.
func (k KeyMaterial) HasVerifyingKey() bool { return k.verifying != nil }

// SignASCII signs the ASCII bytes of msg (expected to be a lowercase hex
// hash string) and returns the base64-encoded signature. Returns ("",
// false) if no signing key is configured.
func (k KeyMaterial) SignASCII(msg string) (string, bool) {
	if k.signing == nil {
		return "", false
	}
	sig := ed25519.Sign(k.signing, []byte(msg))
	return base64.StdEncoding.EncodeToString(sig), true
}

// VerifyASCII verifies a base64 signature over the ASCII bytes of msg.
// Returns false if no verifying key is configured or the signature/key is
// malformed.
func (k KeyMaterial) VerifyASCII(msg, sigB64 string) bool {
	if k.verifying == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(k.verifying, []byte(msg), sig)
}

// PublicKeyB64 returns the base64 verifying key, or "" if none configured.
func (k KeyMaterial) PublicKeyB64() string {
	if k.verifying == nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(k.verifying)
}
