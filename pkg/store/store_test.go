package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_LiteModeCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	db, err := Open(context.Background(), "", dir)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.True(t, db.Lite())
	_, err = db.ExecContext(context.Background(), "CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, LiteDBName))
	assert.NoError(t, err)
}

func TestOpen_PostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Open(ctx, "postgres://rem@127.0.0.1:1/rem?sslmode=disable&connect_timeout=1", t.TempDir())
	assert.Error(t, err)
}
