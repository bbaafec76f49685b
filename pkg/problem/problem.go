// Package problem implements RFC 7807 Problem Detail error responses for the REM API.
package problem

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// TypeBase prefixes every problem type URI.
const TypeBase = "https://helm.mindburn.org/rem/errors/"

// Detail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type Detail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// TraceID links to the X-Request-ID of this request.
	TraceID string `json:"trace_id,omitempty"`
	// Reason is the gate denial reason, set only for decision denials.
	Reason string `json:"reason,omitempty"`
}

func (p *Detail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// Write encodes p as application/problem+json.
func Write(w http.ResponseWriter, p *Detail) {
	if p.Type == "" {
		p.Type = fmt.Sprintf("%s%d", TypeBase, p.Status)
	}
	if p.TraceID == "" {
		p.TraceID = w.Header().Get("X-Request-ID")
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem with the given status, title and detail.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	Write(w, &Detail{Status: status, Title: title, Detail: detail})
}

// WriteErrorR is WriteError enriched with the request path as instance.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	Write(w, &Detail{Status: status, Title: title, Detail: detail, Instance: r.URL.Path})
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteForbidden(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	WriteError(w, http.StatusForbidden, "Forbidden", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500. err is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
