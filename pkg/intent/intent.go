// Package intent defines the identifiers and ledger state tags that the
// execution gate binds signatures to.
//
// The signed-message layout is the one binary contract shared between
// approvers and the gate:
//
//	message = intent_hash (32 bytes) || state_tag (1 byte)
package intent

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// HashSize is the length of an intent hash in bytes.
const HashSize = 32

// MessageSize is the length of the signed message: hash plus one state tag byte.
const MessageSize = HashSize + 1

// ErrInvalidHash is returned when raw bytes cannot be used as an intent hash.
var ErrInvalidHash = errors.New("intent hash must be exactly 32 bytes")

// Hash identifies an intent. It is opaque: only its length is ever checked.
type Hash [HashSize]byte

// ParseHash copies b into a Hash. The caller's slice is never retained.
func ParseHash(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: got %d", ErrInvalidHash, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseHashHex decodes a 64-character hex string, with or without a "sha256:" prefix.
func ParseHashHex(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "sha256:")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return ParseHash(raw)
}

// String returns the lowercase hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a fresh copy of the hash bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// State is the ledger-owned lifecycle tag of an intent.
// The gate only ever asserts StateAuthorized; the remaining tags exist so
// that ledger adapters can decode what they store.
type State uint8

const (
	StatePending    State = 0x00
	StateAuthorized State = 0x01
	StateExecuted   State = 0x02
	StateRevoked    State = 0x03
	StateExpired    State = 0x04
)

var stateNames = map[State]string{
	StatePending:    "PENDING",
	StateAuthorized: "AUTHORIZED",
	StateExecuted:   "EXECUTED",
	StateRevoked:    "REVOKED",
	StateExpired:    "EXPIRED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(0x%02x)", uint8(s))
}

// Valid reports whether s is a member of the closed enumeration.
func (s State) Valid() bool {
	_, ok := stateNames[s]
	return ok
}

// ParseState accepts either the symbolic name or the numeric tag.
func ParseState(v string) (State, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	for s, name := range stateNames {
		if name == v {
			return s, nil
		}
	}
	if n, err := strconv.ParseUint(v, 10, 8); err == nil && State(n).Valid() {
		return State(n), nil
	}
	return 0, fmt.Errorf("unknown intent state %q", v)
}

// SignedMessage builds hash || state in a freshly allocated buffer.
// The buffer is per call and must not be pooled.
func SignedMessage(h Hash, s State) []byte {
	msg := make([]byte, 0, MessageSize)
	msg = append(msg, h[:]...)
	msg = append(msg, byte(s))
	return msg
}

// AuthorizedMessage is the message an approver signs to authorize h.
func AuthorizedMessage(h Hash) []byte {
	return SignedMessage(h, StateAuthorized)
}
