package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
)

func newKey(t *testing.T) *crypto.P256Signer {
	t.Helper()
	s, err := crypto.GenerateSigner("k")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestCustodianRegistry_AddAndResolve(t *testing.T) {
	r := NewCustodianRegistry()
	ctx := context.Background()
	k := newKey(t)

	added, err := r.AddKey(ctx, "custodian-1", "k-1", k.PublicKeyBytes())
	if err != nil {
		t.Fatal(err)
	}
	if added.ApproverID != k.ApproverID() {
		t.Error("approver id mismatch")
	}

	ok, err := r.IsRegistered(ctx, k.ApproverID())
	if err != nil || !ok {
		t.Fatalf("expected key to be registered, got %v %v", ok, err)
	}

	keys, _ := r.ListKeys(ctx)
	if len(keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(keys))
	}
}

func TestCustodianRegistry_CompressedKeyNormalized(t *testing.T) {
	r := NewCustodianRegistry()
	k := newKey(t)

	added, err := r.AddKey(context.Background(), "c1", "k1", k.CompressedPublicKeyBytes())
	if err != nil {
		t.Fatal(err)
	}
	if added.PublicKeyHex() != k.PublicKey() {
		t.Error("stored key should be the uncompressed encoding")
	}
	if ok, _ := r.IsRegistered(context.Background(), k.ApproverID()); !ok {
		t.Error("compressed registration must match the uncompressed approver id")
	}
}

func TestCustodianRegistry_RevokeKey(t *testing.T) {
	r := NewCustodianRegistry()
	ctx := context.Background()
	k := newKey(t)

	_, _ = r.AddKey(ctx, "c1", "k1", k.PublicKeyBytes())
	if err := r.RevokeKey(ctx, "c1", "k1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := r.IsRegistered(ctx, k.ApproverID()); ok {
		t.Error("key should be revoked")
	}
	if err := r.RevokeKey(ctx, "c1", "k1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double revoke, got %v", err)
	}
}

func TestCustodianRegistry_PointInTimeResolution(t *testing.T) {
	r := NewCustodianRegistry()
	k := newKey(t)

	if err := r.Apply(Event{Type: KeyAdded, CustodianID: "c1", KeyID: "k1", PublicKey: k.PublicKeyBytes(), Lamport: 1}); err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(Event{Type: KeyRevoked, CustodianID: "c1", KeyID: "k1", Lamport: 5}); err != nil {
		t.Fatal(err)
	}

	if !r.IsRegisteredAt(k.ApproverID(), 3) {
		t.Error("at lamport 3 the key should be registered")
	}
	if r.IsRegisteredAt(k.ApproverID(), 6) {
		t.Error("at lamport 6 the key should be revoked")
	}
	if r.Height() != 5 {
		t.Errorf("expected height 5, got %d", r.Height())
	}
}

func TestCustodianRegistry_KeyRotation(t *testing.T) {
	r := NewCustodianRegistry()
	ctx := context.Background()
	k1, k2 := newKey(t), newKey(t)

	_, _ = r.AddKey(ctx, "c1", "k1", k1.PublicKeyBytes())
	if _, err := r.RotateKey(ctx, "c1", "k1", k2.PublicKeyBytes()); err != nil {
		t.Fatal(err)
	}

	if ok, _ := r.IsRegistered(ctx, k1.ApproverID()); ok {
		t.Error("rotated-out key must no longer be registered")
	}
	if ok, _ := r.IsRegistered(ctx, k2.ApproverID()); !ok {
		t.Error("rotated-in key must be registered")
	}
	if !r.IsRegisteredAt(k1.ApproverID(), 1) {
		t.Error("old key should resolve before the rotation")
	}
	if len(r.Events()) != 2 {
		t.Errorf("expected 2 events, got %d", len(r.Events()))
	}

	if _, err := r.RotateKey(ctx, "c1", "missing", k1.PublicKeyBytes()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound rotating an empty slot, got %v", err)
	}
}

func TestCustodianRegistry_Rejects(t *testing.T) {
	r := NewCustodianRegistry()
	ctx := context.Background()
	k := newKey(t)

	if err := r.Apply(Event{Type: "UNKNOWN", CustodianID: "c1", KeyID: "k1"}); err == nil {
		t.Error("expected error for unknown event type")
	}
	if _, err := r.AddKey(ctx, "c1", "k1", []byte{0x04, 0x00}); !errors.Is(err, crypto.ErrMalformedKey) {
		t.Errorf("expected ErrMalformedKey, got %v", err)
	}
	if _, err := r.AddKey(ctx, "", "k1", k.PublicKeyBytes()); err == nil {
		t.Error("expected error for empty custodian id")
	}

	if _, err := r.AddKey(ctx, "c1", "k1", k.PublicKeyBytes()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddKey(ctx, "c1", "k1", newKey(t).PublicKeyBytes()); !errors.Is(err, ErrKeyExists) {
		t.Errorf("expected ErrKeyExists for occupied slot, got %v", err)
	}
	if _, err := r.AddKey(ctx, "c2", "k9", k.PublicKeyBytes()); !errors.Is(err, ErrKeyExists) {
		t.Errorf("expected ErrKeyExists for key held by another custodian, got %v", err)
	}
	if err := r.Apply(Event{Type: KeyRevoked, CustodianID: "c1", KeyID: "k1", Lamport: 1}); err == nil {
		t.Error("expected error for non-advancing lamport height")
	}
}
