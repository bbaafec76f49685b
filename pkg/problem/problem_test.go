package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError_Format(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-1")

	WriteBadRequest(w, "intent_hash is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var p Detail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, TypeBase+"400", p.Type)
	assert.Equal(t, "Bad Request", p.Title)
	assert.Equal(t, "intent_hash is required", p.Detail)
	assert.Equal(t, "req-1", p.TraceID)
	assert.Empty(t, p.Reason)
}

func TestWrite_WithReason(t *testing.T) {
	w := httptest.NewRecorder()
	Write(w, &Detail{Status: http.StatusForbidden, Title: "Denied", Reason: "InvalidSignature"})

	var p Detail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, "InvalidSignature", p.Reason)
	assert.Equal(t, http.StatusForbidden, p.Status)
}

func TestWriteInternal_HidesError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternal(w, errors.New("db password is hunter2"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

func TestWriteTooManyRequests_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteTooManyRequests(w, 3)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
