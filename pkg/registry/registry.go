// Package registry tracks which P-256 verifying keys belong to registered
// custodians. The gate consults it through IsRegistered when registration
// enforcement is enabled.
package registry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
)

var (
	ErrNotFound  = errors.New("custodian key not found")
	ErrKeyExists = errors.New("custodian key already registered")
)

// EventType names a key lifecycle event.
type EventType string

const (
	KeyAdded   EventType = "KEY_ADDED"
	KeyRevoked EventType = "KEY_REVOKED"
	KeyRotated EventType = "KEY_ROTATED"
)

// Event is a custodian key lifecycle event.
type Event struct {
	Type        EventType `json:"event_type"`
	CustodianID string    `json:"custodian_id"`
	KeyID       string    `json:"key_id"`
	// PublicKey is a SEC1 encoded P-256 point; required for KEY_ADDED and KEY_ROTATED.
	PublicKey []byte    `json:"public_key,omitempty"`
	Lamport   uint64    `json:"lamport_height"`
	At        time.Time `json:"at"`
}

// CustodianKey is an active approver key.
type CustodianKey struct {
	CustodianID string    `json:"custodian_id"`
	KeyID       string    `json:"key_id"`
	PublicKey   []byte    `json:"-"`
	ApproverID  [32]byte  `json:"-"`
	AddedAt     time.Time `json:"added_at"`
}

// PublicKeyHex returns the uncompressed public key as hex.
func (k CustodianKey) PublicKeyHex() string { return hex.EncodeToString(k.PublicKey) }

// ApproverIDHex returns the approver id as hex.
func (k CustodianKey) ApproverIDHex() string { return hex.EncodeToString(k.ApproverID[:]) }

// Store is the custodian key admin surface shared by the in-memory and SQL
// registries.
type Store interface {
	AddKey(ctx context.Context, custodianID, keyID string, publicKey []byte) (CustodianKey, error)
	RotateKey(ctx context.Context, custodianID, keyID string, publicKey []byte) (CustodianKey, error)
	RevokeKey(ctx context.Context, custodianID, keyID string) error
	ListKeys(ctx context.Context) ([]CustodianKey, error)
	IsRegistered(ctx context.Context, approverID [32]byte) (bool, error)
}

// History is implemented by registries that can resolve past states.
type History interface {
	Height() uint64
	IsRegisteredAt(approverID [32]byte, lamportHeight uint64) bool
}

// normalizeKey parses a SEC1 key and returns its uncompressed encoding and
// approver id.
func normalizeKey(publicKey []byte) ([]byte, [32]byte, error) {
	pub, err := crypto.ParseVerifyingKey(publicKey)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return crypto.MarshalUncompressed(pub), crypto.ApproverID(pub), nil
}

func validateIDs(custodianID, keyID string) error {
	if custodianID == "" || keyID == "" {
		return errors.New("custodian_id and key_id are required")
	}
	return nil
}

type slot struct{ custodian, key string }

// CustodianRegistry is an event-sourced in-memory registry. State is derived
// exclusively from applied events; past states can be resolved by Lamport
// height.
type CustodianRegistry struct {
	mu      sync.RWMutex
	events  []Event
	lamport uint64
	// Materialized views.
	bySlot     map[slot]CustodianKey
	byApprover map[[32]byte]slot
}

// NewCustodianRegistry creates an empty registry.
func NewCustodianRegistry() *CustodianRegistry {
	return &CustodianRegistry{
		bySlot:     make(map[slot]CustodianKey),
		byApprover: make(map[[32]byte]slot),
	}
}

// Apply processes a lifecycle event. A zero Lamport height is assigned the
// next height; explicit heights must be strictly increasing.
func (r *CustodianRegistry) Apply(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyLocked(ev)
}

func (r *CustodianRegistry) applyLocked(ev Event) error {
	if err := validateIDs(ev.CustodianID, ev.KeyID); err != nil {
		return err
	}
	if ev.Lamport == 0 {
		ev.Lamport = r.lamport + 1
	} else if ev.Lamport <= r.lamport {
		return fmt.Errorf("lamport height %d does not advance past %d", ev.Lamport, r.lamport)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	s := slot{ev.CustodianID, ev.KeyID}

	switch ev.Type {
	case KeyAdded, KeyRotated:
		if ev.PublicKey == nil {
			return fmt.Errorf("%s event must include public_key", ev.Type)
		}
		raw, id, err := normalizeKey(ev.PublicKey)
		if err != nil {
			return err
		}
		_, occupied := r.bySlot[s]
		if ev.Type == KeyAdded && occupied {
			return fmt.Errorf("%w: %s/%s", ErrKeyExists, ev.CustodianID, ev.KeyID)
		}
		if ev.Type == KeyRotated && !occupied {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, ev.CustodianID, ev.KeyID)
		}
		if owner, taken := r.byApprover[id]; taken && owner != s {
			return fmt.Errorf("%w: key held by %s/%s", ErrKeyExists, owner.custodian, owner.key)
		}
		if old, ok := r.bySlot[s]; ok {
			delete(r.byApprover, old.ApproverID)
		}
		ev.PublicKey = raw
		r.bySlot[s] = CustodianKey{CustodianID: ev.CustodianID, KeyID: ev.KeyID, PublicKey: raw, ApproverID: id, AddedAt: ev.At}
		r.byApprover[id] = s

	case KeyRevoked:
		old, ok := r.bySlot[s]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, ev.CustodianID, ev.KeyID)
		}
		delete(r.bySlot, s)
		delete(r.byApprover, old.ApproverID)

	default:
		return fmt.Errorf("unknown custodian event type: %s", ev.Type)
	}

	r.lamport = ev.Lamport
	r.events = append(r.events, ev)
	return nil
}

func (r *CustodianRegistry) AddKey(_ context.Context, custodianID, keyID string, publicKey []byte) (CustodianKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.applyLocked(Event{Type: KeyAdded, CustodianID: custodianID, KeyID: keyID, PublicKey: publicKey}); err != nil {
		return CustodianKey{}, err
	}
	return r.bySlot[slot{custodianID, keyID}], nil
}

// RotateKey replaces the key held in an existing slot.
func (r *CustodianRegistry) RotateKey(_ context.Context, custodianID, keyID string, publicKey []byte) (CustodianKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.applyLocked(Event{Type: KeyRotated, CustodianID: custodianID, KeyID: keyID, PublicKey: publicKey}); err != nil {
		return CustodianKey{}, err
	}
	return r.bySlot[slot{custodianID, keyID}], nil
}

func (r *CustodianRegistry) RevokeKey(_ context.Context, custodianID, keyID string) error {
	return r.Apply(Event{Type: KeyRevoked, CustodianID: custodianID, KeyID: keyID})
}

// IsRegistered reports whether approverID is currently held by a custodian.
func (r *CustodianRegistry) IsRegistered(_ context.Context, approverID [32]byte) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byApprover[approverID]
	return ok, nil
}

// IsRegisteredAt replays events up to lamportHeight for point-in-time
// resolution.
func (r *CustodianRegistry) IsRegisteredAt(approverID [32]byte, lamportHeight uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[slot][32]byte)
	for _, ev := range r.events {
		if ev.Lamport > lamportHeight {
			break
		}
		s := slot{ev.CustodianID, ev.KeyID}
		switch ev.Type {
		case KeyAdded, KeyRotated:
			_, id, err := normalizeKey(ev.PublicKey)
			if err == nil {
				snapshot[s] = id
			}
		case KeyRevoked:
			delete(snapshot, s)
		}
	}
	for _, id := range snapshot {
		if id == approverID {
			return true
		}
	}
	return false
}

// ListKeys returns the active keys ordered by custodian then key id.
func (r *CustodianRegistry) ListKeys(_ context.Context) ([]CustodianKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]CustodianKey, 0, len(r.bySlot))
	for _, k := range r.bySlot {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func sortKeys(keys []CustodianKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CustodianID != keys[j].CustodianID {
			return keys[i].CustodianID < keys[j].CustodianID
		}
		return keys[i].KeyID < keys[j].KeyID
	})
}

// Events returns a copy of the applied event log.
func (r *CustodianRegistry) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Height returns the Lamport height of the last applied event.
func (r *CustodianRegistry) Height() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lamport
}
