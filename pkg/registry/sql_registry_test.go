package registry

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLRegistry_Lifecycle(t *testing.T) {
	ctx := context.Background()
	r := NewSQLRegistry(openSQLite(t))
	require.NoError(t, r.Init(ctx))
	require.NoError(t, r.Init(ctx), "Init must be idempotent")

	k := newKey(t)
	added, err := r.AddKey(ctx, "c1", "k1", k.CompressedPublicKeyBytes())
	require.NoError(t, err)
	assert.Equal(t, k.ApproverID(), added.ApproverID)

	ok, err := r.IsRegistered(ctx, k.ApproverID())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.AddKey(ctx, "c1", "k1", newKey(t).PublicKeyBytes())
	assert.ErrorIs(t, err, ErrKeyExists)
	_, err = r.AddKey(ctx, "c2", "other", k.PublicKeyBytes())
	assert.ErrorIs(t, err, ErrKeyExists)

	keys, err := r.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, k.PublicKey(), keys[0].PublicKeyHex())
	assert.Equal(t, added.AddedAt, keys[0].AddedAt)

	require.NoError(t, r.RevokeKey(ctx, "c1", "k1"))
	ok, err = r.IsRegistered(ctx, k.ApproverID())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, r.RevokeKey(ctx, "c1", "k1"), ErrNotFound)

	// A revoked slot can be reused.
	k2 := newKey(t)
	_, err = r.AddKey(ctx, "c1", "k1", k2.PublicKeyBytes())
	require.NoError(t, err)
	keys, err = r.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, k2.ApproverID(), keys[0].ApproverID)
}

func TestSQLRegistry_RotateKey(t *testing.T) {
	ctx := context.Background()
	r := NewSQLRegistry(openSQLite(t))
	require.NoError(t, r.Init(ctx))

	k1, k2, k3 := newKey(t), newKey(t), newKey(t)
	_, err := r.AddKey(ctx, "c1", "k1", k1.PublicKeyBytes())
	require.NoError(t, err)
	_, err = r.AddKey(ctx, "c2", "k1", k3.PublicKeyBytes())
	require.NoError(t, err)

	rotated, err := r.RotateKey(ctx, "c1", "k1", k2.CompressedPublicKeyBytes())
	require.NoError(t, err)
	assert.Equal(t, k2.ApproverID(), rotated.ApproverID)

	ok, err := r.IsRegistered(ctx, k1.ApproverID())
	require.NoError(t, err)
	assert.False(t, ok, "rotated-out key must no longer be registered")
	ok, err = r.IsRegistered(ctx, k2.ApproverID())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.RotateKey(ctx, "c1", "k1", k3.PublicKeyBytes())
	assert.ErrorIs(t, err, ErrKeyExists)
	_, err = r.RotateKey(ctx, "c1", "k1", k2.PublicKeyBytes())
	assert.NoError(t, err, "rotating to the key already in the slot is a no-op")
	_, err = r.RotateKey(ctx, "c1", "missing", newKey(t).PublicKeyBytes())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.RevokeKey(ctx, "c1", "k1"))
	_, err = r.RotateKey(ctx, "c1", "k1", newKey(t).PublicKeyBytes())
	assert.ErrorIs(t, err, ErrNotFound, "revoked slots cannot be rotated")
}

func TestSQLRegistry_IsRegistered_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	r := NewSQLRegistry(db)
	var id [32]byte
	id[0] = 0x01

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(hex.EncodeToString(id[:])).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	ok, err := r.IsRegistered(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(hex.EncodeToString(id[:])).
		WillReturnError(errors.New("db down"))
	_, err = r.IsRegistered(context.Background(), id)
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRegistry_RevokeMissing_Mock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("UPDATE custodian_keys SET revoked_at_ms").
		WithArgs(sqlmock.AnyArg(), "c1", "k1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewSQLRegistry(db).RevokeKey(context.Background(), "c1", "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
