package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/audit"
	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
	"github.com/Mindburn-Labs/helm-rem/pkg/problem"
	"github.com/Mindburn-Labs/helm-rem/pkg/registry"
)

// CustodianKeyHandler provides HTTP handlers for custodian key management.
type CustodianKeyHandler struct {
	Registry registry.Store
	Audit    audit.Logger
}

// AddKeyRequest is the wire format for registering an approver key.
type AddKeyRequest struct {
	CustodianID string `json:"custodian_id"`
	KeyID       string `json:"key_id"`
	PublicKey   string `json:"public_key"` // hex SEC1 P-256 point
}

// RotateKeyRequest is the wire format for replacing the key in a slot.
type RotateKeyRequest struct {
	PublicKey string `json:"public_key"` // hex SEC1 P-256 point
}

// ApproverStatus answers whether an approver id is registered, now or at a
// past registry height.
type ApproverStatus struct {
	ApproverID string  `json:"approver_id"`
	Registered bool    `json:"registered"`
	Height     *uint64 `json:"height,omitempty"`
	At         *uint64 `json:"at,omitempty"`
}

// KeyResponse describes a registered key.
type KeyResponse struct {
	CustodianID string    `json:"custodian_id"`
	KeyID       string    `json:"key_id"`
	PublicKey   string    `json:"public_key"`
	ApproverID  string    `json:"approver_id"`
	AddedAt     time.Time `json:"added_at"`
}

func keyResponse(k registry.CustodianKey) KeyResponse {
	return KeyResponse{
		CustodianID: k.CustodianID,
		KeyID:       k.KeyID,
		PublicKey:   k.PublicKeyHex(),
		ApproverID:  k.ApproverIDHex(),
		AddedAt:     k.AddedAt,
	}
}

func (h *CustodianKeyHandler) record(r *http.Request, action, resource string, meta map[string]interface{}) {
	if h.Audit == nil {
		return
	}
	_ = h.Audit.Record(r.Context(), audit.EventTrust, action, resource, meta)
}

// HandleAddKey handles POST /api/v1/custodians/keys.
func (h *CustodianKeyHandler) HandleAddKey(w http.ResponseWriter, r *http.Request) {
	var req AddKeyRequest
	if err := decodeValidated(http.MaxBytesReader(w, r.Body, maxBodyBytes), custodianKeyValidator, &req); err != nil {
		problem.WriteBadRequest(w, err.Error())
		return
	}
	pub, _ := hex.DecodeString(req.PublicKey)

	key, err := h.Registry.AddKey(r.Context(), req.CustodianID, req.KeyID, pub)
	switch {
	case errors.Is(err, crypto.ErrMalformedKey):
		problem.WriteBadRequest(w, "public_key must be a hex SEC1 encoded P-256 point")
		return
	case errors.Is(err, registry.ErrKeyExists):
		problem.WriteErrorR(w, r, http.StatusConflict, "Conflict", err.Error())
		return
	case err != nil:
		problem.WriteInternal(w, err)
		return
	}

	h.record(r, "key_added", "custodian:"+key.CustodianID+"/"+key.KeyID, map[string]interface{}{
		"approver_id": key.ApproverIDHex(),
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(keyResponse(key))
}

// HandleRotateKey handles PUT /api/v1/custodians/keys/{custodian_id}/{key_id}.
func (h *CustodianKeyHandler) HandleRotateKey(w http.ResponseWriter, r *http.Request) {
	custodianID, keyID := r.PathValue("custodian_id"), r.PathValue("key_id")
	if custodianID == "" || keyID == "" {
		problem.WriteBadRequest(w, "custodian_id and key_id are required")
		return
	}
	var req RotateKeyRequest
	if err := decodeValidated(http.MaxBytesReader(w, r.Body, maxBodyBytes), rotateKeyValidator, &req); err != nil {
		problem.WriteBadRequest(w, err.Error())
		return
	}
	pub, _ := hex.DecodeString(req.PublicKey)

	key, err := h.Registry.RotateKey(r.Context(), custodianID, keyID, pub)
	switch {
	case errors.Is(err, crypto.ErrMalformedKey):
		problem.WriteBadRequest(w, "public_key must be a hex SEC1 encoded P-256 point")
		return
	case errors.Is(err, registry.ErrNotFound):
		problem.WriteNotFound(w, err.Error())
		return
	case errors.Is(err, registry.ErrKeyExists):
		problem.WriteErrorR(w, r, http.StatusConflict, "Conflict", err.Error())
		return
	case err != nil:
		problem.WriteInternal(w, err)
		return
	}

	h.record(r, "key_rotated", "custodian:"+key.CustodianID+"/"+key.KeyID, map[string]interface{}{
		"approver_id": key.ApproverIDHex(),
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(keyResponse(key))
}

// HandleApproverStatus handles GET /api/v1/custodians/approvers/{approver_id}.
// The optional ?at=<height> query resolves registration at a past registry
// height on registries that keep history.
func (h *CustodianKeyHandler) HandleApproverStatus(w http.ResponseWriter, r *http.Request) {
	raw, err := hex.DecodeString(r.PathValue("approver_id"))
	if err != nil || len(raw) != 32 {
		problem.WriteBadRequest(w, "approver_id must be 32 hex-encoded bytes")
		return
	}
	var id [32]byte
	copy(id[:], raw)
	out := ApproverStatus{ApproverID: hex.EncodeToString(id[:])}

	hist, hasHistory := h.Registry.(registry.History)
	if hasHistory {
		height := hist.Height()
		out.Height = &height
	}

	if at := r.URL.Query().Get("at"); at != "" {
		if !hasHistory {
			problem.WriteBadRequest(w, "this registry backend does not keep history")
			return
		}
		n, err := strconv.ParseUint(at, 10, 64)
		if err != nil {
			problem.WriteBadRequest(w, "at must be a decimal registry height")
			return
		}
		out.At = &n
		out.Registered = hist.IsRegisteredAt(id, n)
	} else {
		out.Registered, err = h.Registry.IsRegistered(r.Context(), id)
		if err != nil {
			problem.WriteInternal(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// HandleRevokeKey handles DELETE /api/v1/custodians/keys/{custodian_id}/{key_id}.
func (h *CustodianKeyHandler) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	custodianID, keyID := r.PathValue("custodian_id"), r.PathValue("key_id")
	if custodianID == "" || keyID == "" {
		problem.WriteBadRequest(w, "custodian_id and key_id are required")
		return
	}

	err := h.Registry.RevokeKey(r.Context(), custodianID, keyID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		problem.WriteNotFound(w, err.Error())
		return
	case err != nil:
		problem.WriteInternal(w, err)
		return
	}

	h.record(r, "key_revoked", "custodian:"+custodianID+"/"+keyID, nil)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":       "key_revoked",
		"custodian_id": custodianID,
		"key_id":       keyID,
	})
}

// HandleListKeys handles GET /api/v1/custodians/keys.
func (h *CustodianKeyHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Registry.ListKeys(r.Context())
	if err != nil {
		problem.WriteInternal(w, err)
		return
	}
	out := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyResponse(k))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"keys": out})
}
