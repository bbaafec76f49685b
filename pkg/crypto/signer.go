package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

// Signer produces approver signatures.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	SignIntent(h intent.Hash) ([]byte, error)
	PublicKey() string
	PublicKeyBytes() []byte
}

// P256Signer holds an approver's private key. It is used by tooling and
// tests; the gate itself only ever verifies.
type P256Signer struct {
	priv  *ecdsa.PrivateKey
	KeyID string
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner(keyID string) (*P256Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &P256Signer{priv: priv, KeyID: keyID}, nil
}

// NewSignerFromKey wraps an existing P-256 private key.
func NewSignerFromKey(priv *ecdsa.PrivateKey, keyID string) (*P256Signer, error) {
	if priv == nil || priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signer requires a P-256 private key")
	}
	return &P256Signer{priv: priv, KeyID: keyID}, nil
}

// NewSignerFromScalar builds a signer from a 32-byte big-endian private scalar.
func NewSignerFromScalar(d []byte, keyID string) (*P256Signer, error) {
	sk, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("invalid P-256 scalar: %w", err)
	}
	pub, err := ParseVerifyingKey(sk.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	priv := &ecdsa.PrivateKey{
		PublicKey: *pub,
		D:         new(big.Int).SetBytes(d),
	}
	return &P256Signer{priv: priv, KeyID: keyID}, nil
}

// Sign returns a DER signature over SHA-256(msg).
func (s *P256Signer) Sign(msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	sig, err := ecdsa.SignASN1(rand.Reader, s.priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign failed: %w", err)
	}
	return sig, nil
}

// SignIntent signs hash || AUTHORIZED.
func (s *P256Signer) SignIntent(h intent.Hash) ([]byte, error) {
	return s.Sign(intent.AuthorizedMessage(h))
}

// SignState signs hash || state. Only StateAuthorized signatures are ever
// accepted by the gate.
func (s *P256Signer) SignState(h intent.Hash, state intent.State) ([]byte, error) {
	return s.Sign(intent.SignedMessage(h, state))
}

// PublicKey returns the hex encoded uncompressed public key.
func (s *P256Signer) PublicKey() string {
	return hex.EncodeToString(s.PublicKeyBytes())
}

func (s *P256Signer) PublicKeyBytes() []byte {
	return MarshalUncompressed(&s.priv.PublicKey)
}

// CompressedPublicKeyBytes returns the 33-byte SEC1 compressed encoding.
func (s *P256Signer) CompressedPublicKeyBytes() []byte {
	return elliptic.MarshalCompressed(elliptic.P256(), s.priv.X, s.priv.Y)
}

func (s *P256Signer) ApproverID() [32]byte {
	return ApproverID(&s.priv.PublicKey)
}

// Scalar returns the 32-byte private scalar. Handle with care.
func (s *P256Signer) Scalar() []byte {
	return s.priv.D.FillBytes(make([]byte, 32))
}
