// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization for deterministic digests of REM artifacts.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
// v is first marshaled with encoding/json so struct tags and custom
// MarshalJSON methods are honored, then transformed.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// Digest returns SHA-256 over the canonical form of v.
func Digest(v any) ([32]byte, error) {
	b, err := JCS(v)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(b), nil
}

// CanonicalHash returns the hex SHA-256 of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	d, err := Digest(v)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}
