// Package crypto implements the approver signature scheme: ECDSA over NIST
// P-256 with SHA-256, SEC1 public keys and DER signatures.
package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

const (
	// UncompressedKeySize is the SEC1 uncompressed point length (0x04 || X || Y).
	UncompressedKeySize = 65
	// CompressedKeySize is the SEC1 compressed point length (0x02/0x03 || X).
	CompressedKeySize = 33

	coordSize = 32
)

var (
	ErrMalformedKey       = errors.New("malformed P-256 verifying key")
	ErrMalformedSignature = errors.New("malformed DER signature")
	ErrVerification       = errors.New("signature verification failed")
)

// ParseVerifyingKey decodes a SEC1 encoded P-256 point. Both compressed and
// uncompressed encodings are accepted; the point must lie on the curve.
func ParseVerifyingKey(b []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()

	switch {
	case len(b) == UncompressedKeySize && b[0] == 0x04:
		// ecdh rejects off-curve points and the point at infinity.
		if _, err := ecdh.P256().NewPublicKey(b); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(b[1 : 1+coordSize]),
			Y:     new(big.Int).SetBytes(b[1+coordSize:]),
		}, nil

	case len(b) == CompressedKeySize && (b[0] == 0x02 || b[0] == 0x03):
		x, y := elliptic.UnmarshalCompressed(curve, b)
		if x == nil {
			return nil, fmt.Errorf("%w: invalid compressed point", ErrMalformedKey)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil

	default:
		return nil, fmt.Errorf("%w: unsupported encoding (len=%d)", ErrMalformedKey, len(b))
	}
}

// MarshalUncompressed returns the canonical 65-byte SEC1 encoding of pub.
func MarshalUncompressed(pub *ecdsa.PublicKey) []byte {
	out := make([]byte, UncompressedKeySize)
	out[0] = 0x04
	pub.X.FillBytes(out[1 : 1+coordSize])
	pub.Y.FillBytes(out[1+coordSize:])
	return out
}

// ApproverID is SHA-256 over the uncompressed point encoding. Compressed and
// uncompressed encodings of the same key yield the same ID.
func ApproverID(pub *ecdsa.PublicKey) [32]byte {
	return sha256.Sum256(MarshalUncompressed(pub))
}

// ParseSignatureDER decodes an ECDSA-Sig-Value. Encoding must be strict DER
// with no trailing bytes, and both integers must lie in [1, N-1].
func ParseSignatureDER(sig []byte) (r, s *big.Int, err error) {
	var inner cryptobyte.String
	r, s = new(big.Int), new(big.Int)

	input := cryptobyte.String(sig)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, ErrMalformedSignature
	}

	n := elliptic.P256().Params().N
	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(n) >= 0 || s.Cmp(n) >= 0 {
		return nil, nil, fmt.Errorf("%w: scalar out of range", ErrMalformedSignature)
	}
	return r, s, nil
}

// VerifyP256 checks a parsed signature over SHA-256(msg).
func VerifyP256(pub *ecdsa.PublicKey, msg []byte, r, s *big.Int) error {
	digest := sha256.Sum256(msg)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrVerification
	}
	return nil
}

// Verify parses a SEC1 key and DER signature and verifies msg in one step.
func Verify(keyBytes, sigBytes, msg []byte) error {
	pub, err := ParseVerifyingKey(keyBytes)
	if err != nil {
		return err
	}
	r, s, err := ParseSignatureDER(sigBytes)
	if err != nil {
		return err
	}
	return VerifyP256(pub, msg, r, s)
}
