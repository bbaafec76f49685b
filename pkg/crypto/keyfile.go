package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadSignerFile reads an approver key. Accepted formats are a hex encoded
// 32-byte scalar (the format written by SaveSignerFile), a SEC1
// "EC PRIVATE KEY" PEM block, or a PKCS#8 "PRIVATE KEY" PEM block.
func LoadSignerFile(path, keyID string) (*P256Signer, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	data = bytes.TrimSpace(data)

	if bytes.HasPrefix(data, []byte("-----BEGIN")) {
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("invalid PEM in %s", path)
		}
		var priv *ecdsa.PrivateKey
		switch block.Type {
		case "EC PRIVATE KEY":
			priv, err = x509.ParseECPrivateKey(block.Bytes)
		case "PRIVATE KEY":
			var key any
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
			if err == nil {
				var ok bool
				if priv, ok = key.(*ecdsa.PrivateKey); !ok {
					return nil, fmt.Errorf("PKCS#8 key in %s is not ECDSA", path)
				}
			}
		default:
			return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return NewSignerFromKey(priv, keyID)
	}

	scalar, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid key file format: %w", err)
	}
	return NewSignerFromScalar(scalar, keyID)
}

// SaveSignerFile writes the scalar as hex to path (0600) and the
// uncompressed public key as hex to path+".pub".
func SaveSignerFile(path string, s *P256Signer) error {
	return saveKeyPair(path, []byte(hex.EncodeToString(s.Scalar())), s)
}

// SaveSignerPEMFile is SaveSignerFile with the private key as a SEC1 PEM block.
func SaveSignerPEMFile(path string, s *P256Signer) error {
	pemBytes, err := s.MarshalPEM()
	if err != nil {
		return fmt.Errorf("encode key: %w", err)
	}
	return saveKeyPair(path, pemBytes, s)
}

func saveKeyPair(path string, private []byte, s *P256Signer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(path, private, 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	//nolint:gosec // public key material
	if err := os.WriteFile(path+".pub", []byte(s.PublicKey()), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// MarshalPEM encodes the private key as a SEC1 PEM block.
func (s *P256Signer) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(s.priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
