// Package client provides a typed Go client for the REM gate API.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/api"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
	"github.com/Mindburn-Labs/helm-rem/pkg/problem"
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status int
	Title  string
	Detail string
	// Reason is the gate denial reason, empty for non-decision errors.
	Reason  string
	TraceID string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("rem api %d: %s (%s)", e.Status, e.Detail, e.Reason)
	}
	return fmt.Sprintf("rem api %d: %s", e.Status, e.Detail)
}

// Denied reports whether the error is a gate denial.
func (e *APIError) Denied() bool { return e.Reason != "" }

// Token is a granted decision's audit token as returned by the API.
type Token struct {
	IntentHash string `json:"intent_hash"`
	ApproverID string `json:"approver_id"`
	ExecutedAt uint64 `json:"executed_at"`
}

// Decision is the body of a granted POST /api/v1/decide.
type Decision struct {
	Outcome     string `json:"outcome"`
	Token       Token  `json:"token"`
	TokenDigest string `json:"token_digest"`
}

// RemClient is a typed client for the REM API.
type RemClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a new RemClient.
func New(baseURL string, opts ...Option) *RemClient {
	c := &RemClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Option configures the client.
type Option func(*RemClient)

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *RemClient) { c.APIKey = key }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *RemClient) { c.HTTPClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RemClient) { c.HTTPClient = hc }
}

func (c *RemClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var p problem.Detail
		if err := json.NewDecoder(resp.Body).Decode(&p); err == nil && p.Status != 0 {
			return &APIError{
				Status:  resp.StatusCode,
				Title:   p.Title,
				Detail:  p.Detail,
				Reason:  p.Reason,
				TraceID: p.TraceID,
			}
		}
		return &APIError{Status: resp.StatusCode, Detail: http.StatusText(resp.StatusCode)}
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Decide calls POST /api/v1/decide. nowMs of zero lets the server stamp the
// token with its own clock. Denials are returned as *APIError with Reason set.
func (c *RemClient) Decide(ctx context.Context, h intent.Hash, signature, verifyingKey []byte, nowMs uint64) (*Decision, error) {
	req := api.DecideRequest{
		IntentHash:   h.String(),
		Signature:    hex.EncodeToString(signature),
		VerifyingKey: hex.EncodeToString(verifyingKey),
	}
	if nowMs != 0 {
		req.NowMs = &nowMs
	}
	var out Decision
	if err := c.do(ctx, http.MethodPost, "/api/v1/decide", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddKey calls POST /api/v1/custodians/keys.
func (c *RemClient) AddKey(ctx context.Context, custodianID, keyID string, publicKey []byte) (*api.KeyResponse, error) {
	var out api.KeyResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/custodians/keys", api.AddKeyRequest{
		CustodianID: custodianID,
		KeyID:       keyID,
		PublicKey:   hex.EncodeToString(publicKey),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func slotPath(custodianID, keyID string) string {
	return "/api/v1/custodians/keys/" + url.PathEscape(custodianID) + "/" + url.PathEscape(keyID)
}

// RotateKey calls PUT /api/v1/custodians/keys/{custodian_id}/{key_id}.
func (c *RemClient) RotateKey(ctx context.Context, custodianID, keyID string, publicKey []byte) (*api.KeyResponse, error) {
	var out api.KeyResponse
	err := c.do(ctx, http.MethodPut, slotPath(custodianID, keyID), api.RotateKeyRequest{
		PublicKey: hex.EncodeToString(publicKey),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ApproverStatus calls GET /api/v1/custodians/approvers/{approver_id}.
func (c *RemClient) ApproverStatus(ctx context.Context, approverID [32]byte) (*api.ApproverStatus, error) {
	var out api.ApproverStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/custodians/approvers/"+hex.EncodeToString(approverID[:]), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeKey calls DELETE /api/v1/custodians/keys/{custodian_id}/{key_id}.
func (c *RemClient) RevokeKey(ctx context.Context, custodianID, keyID string) error {
	return c.do(ctx, http.MethodDelete, slotPath(custodianID, keyID), nil, nil)
}

// ListKeys calls GET /api/v1/custodians/keys.
func (c *RemClient) ListKeys(ctx context.Context) ([]api.KeyResponse, error) {
	var out struct {
		Keys []api.KeyResponse `json:"keys"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/custodians/keys", nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// Health calls GET /health. A degraded server yields an *APIError with
// status 503.
func (c *RemClient) Health(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out.Checks, &APIError{Status: resp.StatusCode, Detail: out.Status}
	}
	return out.Checks, nil
}
