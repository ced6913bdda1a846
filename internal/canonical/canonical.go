// Package canonical produces deterministic digests of structured payloads.
// Logical content is serialized to JSON, normalized with RFC 8785 (JCS) so
// key order and number formatting are fixed, then hashed with SHA-256.
// Identical logical content therefore always yields an identical digest.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// DigestLen is the length of a hex-encoded digest string
const DigestLen = 64

// Canonicalize serializes v to canonical JSON bytes (RFC 8785)
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	canonicalized, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	return canonicalized, nil
}

// Digest returns the hex-encoded SHA-256 of the canonical form of v
func Digest(v any) (string, error) {
	canonicalized, err := Canonicalize(v)
	if err != nil {
		return "", err
	}

	return DigestBytes(canonicalized), nil
}

// DigestRaw canonicalizes already-serialized JSON and returns its digest.
// Malformed JSON is surfaced as an error so callers can treat it as an
// integrity violation rather than skipping it.
func DigestRaw(raw []byte) (string, error) {
	canonicalized, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	return DigestBytes(canonicalized), nil
}

// DigestBytes returns the hex-encoded SHA-256 of data as-is
func DigestBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// IsDigest reports whether s looks like a hex-encoded SHA-256 digest
func IsDigest(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
