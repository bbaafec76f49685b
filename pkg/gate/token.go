package gate

import (
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/Mindburn-Labs/helm-rem/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

// AuditToken is the proof of a granted decision. Its fields are unexported;
// a non-zero token can only be produced by Gate.Decide.
type AuditToken struct {
	intentHash intent.Hash
	approverID [32]byte
	executedAt uint64
}

func (t AuditToken) IntentHash() intent.Hash { return t.intentHash }

// ApproverID is SHA-256 over the approver's uncompressed SEC1 public key.
func (t AuditToken) ApproverID() [32]byte { return t.approverID }

// ExecutedAt is the caller-supplied decision time in UTC unix milliseconds.
func (t AuditToken) ExecutedAt() uint64 { return t.executedAt }

// IsZero reports whether t is the zero token returned alongside errors.
func (t AuditToken) IsZero() bool {
	return t == AuditToken{}
}

type tokenJSON struct {
	IntentHash string `json:"intent_hash"`
	ApproverID string `json:"approver_id"`
	ExecutedAt uint64 `json:"executed_at"`
}

func (t AuditToken) wire() tokenJSON {
	return tokenJSON{
		IntentHash: t.intentHash.String(),
		ApproverID: hex.EncodeToString(t.approverID[:]),
		ExecutedAt: t.executedAt,
	}
}

// MarshalJSON encodes the token with hex byte fields.
func (t AuditToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.wire())
}

// digestJSON is the canonical form hashed by Digest. executed_at is a decimal
// string: RFC 8785 numbers are IEEE 754 doubles and lose precision above 2^53.
type digestJSON struct {
	IntentHash string `json:"intent_hash"`
	ApproverID string `json:"approver_id"`
	ExecutedAt string `json:"executed_at"`
}

// Digest is SHA-256 over the RFC 8785 canonical JSON of the token, with
// executed_at rendered as a decimal string.
func (t AuditToken) Digest() ([32]byte, error) {
	w := t.wire()
	return canonicalize.Digest(digestJSON{
		IntentHash: w.IntentHash,
		ApproverID: w.ApproverID,
		ExecutedAt: strconv.FormatUint(w.ExecutedAt, 10),
	})
}
