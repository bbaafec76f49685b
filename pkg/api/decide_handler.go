package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/gate"
	"github.com/Mindburn-Labs/helm-rem/pkg/problem"
)

const maxBodyBytes = 64 << 10

// DecideRequest is the wire format of POST /api/v1/decide. Byte fields are
// hex encoded.
type DecideRequest struct {
	IntentHash   string  `json:"intent_hash"`
	Signature    string  `json:"signature"`
	VerifyingKey string  `json:"verifying_key"`
	NowMs        *uint64 `json:"now_ms,omitempty"`
}

// DecideResponse is returned for granted decisions.
type DecideResponse struct {
	Outcome     gate.Outcome    `json:"outcome"`
	Token       gate.AuditToken `json:"token"`
	TokenDigest string          `json:"token_digest"`
}

// DecideHandler exposes the gate over HTTP.
type DecideHandler struct {
	Gate *gate.Gate
	// Now supplies executed_at when the request omits now_ms.
	Now func() time.Time
}

// denialStatus maps a denial reason to its HTTP status.
func denialStatus(r gate.Reason) int {
	switch r {
	case gate.ReasonInvalidSignature:
		return http.StatusForbidden
	case gate.ReasonInvalidState:
		return http.StatusConflict
	case gate.ReasonHashMismatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleDecide handles POST /api/v1/decide.
func (h *DecideHandler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		problem.WriteMethodNotAllowed(w)
		return
	}

	var req DecideRequest
	if err := decodeValidated(http.MaxBytesReader(w, r.Body, maxBodyBytes), decideValidator, &req); err != nil {
		problem.WriteBadRequest(w, err.Error())
		return
	}

	// The schema guarantees even-length hex, so decoding cannot fail.
	hash, _ := hex.DecodeString(strings.TrimPrefix(req.IntentHash, "sha256:"))
	sig, _ := hex.DecodeString(req.Signature)
	key, _ := hex.DecodeString(req.VerifyingKey)

	now := uint64(h.now().UnixMilli())
	if req.NowMs != nil {
		now = *req.NowMs
	}

	tok, err := h.Gate.DecideRaw(r.Context(), hash, sig, key, now)
	if err != nil {
		reason := gate.ReasonOf(err)
		status := denialStatus(reason)
		if status == http.StatusInternalServerError {
			problem.WriteInternal(w, err)
			return
		}
		detail := "intent execution denied"
		if reason == gate.ReasonHashMismatch {
			// Caller bug: diagnostics go back to the caller.
			detail = err.Error()
		}
		problem.Write(w, &problem.Detail{
			Type:     problem.TypeBase + reason.String(),
			Title:    "Intent Execution Denied",
			Status:   status,
			Detail:   detail,
			Instance: r.URL.Path,
			Reason:   reason.String(),
		})
		return
	}

	digest, err := tok.Digest()
	if err != nil {
		problem.WriteInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(DecideResponse{
		Outcome:     gate.Granted,
		Token:       tok,
		TokenDigest: hex.EncodeToString(digest[:]),
	})
}

func (h *DecideHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}
