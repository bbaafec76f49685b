package registry

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// SQLRegistry stores custodian keys in the custodian_keys table.
// It supports both Postgres and SQLite via standard drivers.
type SQLRegistry struct {
	db *sql.DB
}

func NewSQLRegistry(db *sql.DB) *SQLRegistry {
	return &SQLRegistry{db: db}
}

const custodianKeysSchema = `
CREATE TABLE IF NOT EXISTS custodian_keys (
	custodian_id TEXT NOT NULL,
	key_id TEXT NOT NULL,
	public_key TEXT NOT NULL,
	approver_id TEXT NOT NULL,
	added_at_ms BIGINT NOT NULL,
	revoked_at_ms BIGINT,
	PRIMARY KEY (custodian_id, key_id)
);
CREATE INDEX IF NOT EXISTS custodian_keys_approver_idx ON custodian_keys (approver_id);
`

func (s *SQLRegistry) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, custodianKeysSchema)
	return err
}

// AddKey registers publicKey under custodianID/keyID. A previously revoked
// slot may be reused.
func (s *SQLRegistry) AddKey(ctx context.Context, custodianID, keyID string, publicKey []byte) (CustodianKey, error) {
	if err := validateIDs(custodianID, keyID); err != nil {
		return CustodianKey{}, err
	}
	raw, id, err := normalizeKey(publicKey)
	if err != nil {
		return CustodianKey{}, err
	}
	registered, err := s.IsRegistered(ctx, id)
	if err != nil {
		return CustodianKey{}, err
	}
	if registered {
		return CustodianKey{}, fmt.Errorf("%w: approver %x", ErrKeyExists, id[:8])
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO custodian_keys (custodian_id, key_id, public_key, approver_id, added_at_ms, revoked_at_ms)
		VALUES ($1, $2, $3, $4, $5, NULL)
		ON CONFLICT (custodian_id, key_id) DO UPDATE
		SET public_key = excluded.public_key, approver_id = excluded.approver_id,
			added_at_ms = excluded.added_at_ms, revoked_at_ms = NULL
		WHERE custodian_keys.revoked_at_ms IS NOT NULL
	`
	res, err := s.db.ExecContext(ctx, query, custodianID, keyID, hex.EncodeToString(raw), hex.EncodeToString(id[:]), now.UnixMilli())
	if err != nil {
		return CustodianKey{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return CustodianKey{}, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return CustodianKey{}, fmt.Errorf("%w: %s/%s", ErrKeyExists, custodianID, keyID)
	}
	return CustodianKey{CustodianID: custodianID, KeyID: keyID, PublicKey: raw, ApproverID: id, AddedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

// RotateKey replaces the key held in an active slot. The new key must not be
// held by another slot.
func (s *SQLRegistry) RotateKey(ctx context.Context, custodianID, keyID string, publicKey []byte) (CustodianKey, error) {
	if err := validateIDs(custodianID, keyID); err != nil {
		return CustodianKey{}, err
	}
	raw, id, err := normalizeKey(publicKey)
	if err != nil {
		return CustodianKey{}, err
	}

	var ownerCustodian, ownerKey string
	err = s.db.QueryRowContext(ctx,
		`SELECT custodian_id, key_id FROM custodian_keys WHERE approver_id = $1 AND revoked_at_ms IS NULL`,
		hex.EncodeToString(id[:])).Scan(&ownerCustodian, &ownerKey)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return CustodianKey{}, err
	case ownerCustodian != custodianID || ownerKey != keyID:
		return CustodianKey{}, fmt.Errorf("%w: key held by %s/%s", ErrKeyExists, ownerCustodian, ownerKey)
	}

	now := time.Now().UTC()
	query := `
		UPDATE custodian_keys SET public_key = $1, approver_id = $2, added_at_ms = $3
		WHERE custodian_id = $4 AND key_id = $5 AND revoked_at_ms IS NULL
	`
	res, err := s.db.ExecContext(ctx, query, hex.EncodeToString(raw), hex.EncodeToString(id[:]), now.UnixMilli(), custodianID, keyID)
	if err != nil {
		return CustodianKey{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return CustodianKey{}, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return CustodianKey{}, fmt.Errorf("%w: %s/%s", ErrNotFound, custodianID, keyID)
	}
	return CustodianKey{CustodianID: custodianID, KeyID: keyID, PublicKey: raw, ApproverID: id, AddedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

func (s *SQLRegistry) RevokeKey(ctx context.Context, custodianID, keyID string) error {
	query := `UPDATE custodian_keys SET revoked_at_ms = $1 WHERE custodian_id = $2 AND key_id = $3 AND revoked_at_ms IS NULL`
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().UnixMilli(), custodianID, keyID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, custodianID, keyID)
	}
	return nil
}

func (s *SQLRegistry) IsRegistered(ctx context.Context, approverID [32]byte) (bool, error) {
	query := `SELECT COUNT(*) FROM custodian_keys WHERE approver_id = $1 AND revoked_at_ms IS NULL`
	var n int64
	if err := s.db.QueryRowContext(ctx, query, hex.EncodeToString(approverID[:])).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLRegistry) ListKeys(ctx context.Context) ([]CustodianKey, error) {
	query := `
		SELECT custodian_id, key_id, public_key, approver_id, added_at_ms
		FROM custodian_keys
		WHERE revoked_at_ms IS NULL
		ORDER BY custodian_id, key_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]CustodianKey, 0)
	for rows.Next() {
		var (
			k             CustodianKey
			pubHex, idHex string
			addedAtMs     int64
		)
		if err := rows.Scan(&k.CustodianID, &k.KeyID, &pubHex, &idHex, &addedAtMs); err != nil {
			return nil, err
		}
		if k.PublicKey, err = hex.DecodeString(pubHex); err != nil {
			return nil, fmt.Errorf("corrupt public_key for %s/%s: %w", k.CustodianID, k.KeyID, err)
		}
		id, err := hex.DecodeString(idHex)
		if err != nil || len(id) != len(k.ApproverID) {
			return nil, fmt.Errorf("corrupt approver_id for %s/%s", k.CustodianID, k.KeyID)
		}
		copy(k.ApproverID[:], id)
		k.AddedAt = time.UnixMilli(addedAtMs).UTC()
		result = append(result, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLRegistry) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
