package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-rem/pkg/api"
	"github.com/Mindburn-Labs/helm-rem/pkg/auth"
	"github.com/Mindburn-Labs/helm-rem/pkg/client"
	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
	"github.com/Mindburn-Labs/helm-rem/pkg/gate"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
	"github.com/Mindburn-Labs/helm-rem/pkg/oracle"
	"github.com/Mindburn-Labs/helm-rem/pkg/registry"
)

func newServer(t *testing.T, o *oracle.Static, reg *registry.CustodianRegistry, validator *auth.JWTValidator) *httptest.Server {
	t.Helper()
	g, err := gate.New(o, gate.WithRegistry(reg))
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Gate:      g,
		Registry:  reg,
		Validator: validator,
		Now:       func() time.Time { return time.UnixMilli(1700000000000) },
	}))
	t.Cleanup(srv.Close)
	return srv
}

func adminToken(t *testing.T, validator *auth.JWTValidator) string {
	t.Helper()
	tok, err := validator.Issue(auth.RemClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{auth.RoleCustodianAdmin},
	})
	require.NoError(t, err)
	return tok
}

func TestClient_DecideLifecycle(t *testing.T) {
	ctx := context.Background()
	signer, err := crypto.GenerateSigner("c")
	require.NoError(t, err)

	h := intent.Hash{0x11}
	o := oracle.NewStatic(h)
	reg := registry.NewCustodianRegistry()
	validator := auth.NewJWTValidator("client-secret")
	srv := newServer(t, o, reg, validator)
	c := client.New(srv.URL, client.WithTimeout(5*time.Second), client.WithAPIKey(adminToken(t, validator)))

	sig, err := signer.SignIntent(h)
	require.NoError(t, err)

	// Not yet registered.
	_, err = c.Decide(ctx, h, sig, signer.PublicKeyBytes(), 0)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.True(t, apiErr.Denied())
	assert.Equal(t, "InvalidSignature", apiErr.Reason)
	assert.NotEmpty(t, apiErr.TraceID)

	key, err := c.AddKey(ctx, "treasury", "k1", signer.CompressedPublicKeyBytes())
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), key.PublicKey)

	keys, err := c.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	st, err := c.ApproverStatus(ctx, signer.ApproverID())
	require.NoError(t, err)
	assert.True(t, st.Registered)

	d, err := c.Decide(ctx, h, sig, signer.PublicKeyBytes(), 0)
	require.NoError(t, err)
	assert.Equal(t, "granted", d.Outcome)
	assert.Equal(t, h.String(), d.Token.IntentHash)
	assert.Equal(t, uint64(1700000000000), d.Token.ExecutedAt)

	d, err = c.Decide(ctx, h, sig, signer.PublicKeyBytes(), 42)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), d.Token.ExecutedAt)

	o.Revoke(h)
	_, err = c.Decide(ctx, h, sig, signer.PublicKeyBytes(), 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "InvalidState", apiErr.Reason)

	other, err := crypto.GenerateSigner("other")
	require.NoError(t, err)
	rotated, err := c.RotateKey(ctx, "treasury", "k1", other.PublicKeyBytes())
	require.NoError(t, err)
	assert.Equal(t, other.PublicKey(), rotated.PublicKey)
	st, err = c.ApproverStatus(ctx, signer.ApproverID())
	require.NoError(t, err)
	assert.False(t, st.Registered)

	require.NoError(t, c.RevokeKey(ctx, "treasury", "k1"))
	err = c.RevokeKey(ctx, "treasury", "k1")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.False(t, apiErr.Denied())
}

func TestClient_BearerToken(t *testing.T) {
	ctx := context.Background()
	validator := auth.NewJWTValidator("client-secret")
	srv := newServer(t, oracle.NewStatic(), registry.NewCustodianRegistry(), validator)

	_, err := client.New(srv.URL).ListKeys(ctx)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	keys, err := client.New(srv.URL, client.WithAPIKey(adminToken(t, validator))).ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestClient_Health(t *testing.T) {
	srv := newServer(t, oracle.NewStatic(), registry.NewCustodianRegistry(), nil)
	checks, err := client.New(srv.URL, client.WithHTTPClient(srv.Client())).Health(context.Background())
	require.NoError(t, err)
	assert.Empty(t, checks)
}
