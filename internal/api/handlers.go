// Package api holds the plain HTTP endpoints served next to the MCP
// transport: health and the audit history.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"registry-mcp/internal/repository"
)

// Handler contains HTTP handlers for the agent's REST surface.
type Handler struct {
	audit repository.AuditStore
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(audit repository.AuditStore) *Handler {
	return &Handler{audit: audit}
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "registry-mcp",
		Version:   "1.0.0",
	}
	writeJSON(w, http.StatusOK, status)
}

// HandleHistory returns the newest audit records for a conversation.
// Query params: conversation (required), limit (default 20).
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	conversation := r.URL.Query().Get("conversation")
	if conversation == "" {
		writeError(w, http.StatusBadRequest, "Missing parameter", "conversation query parameter is required")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "Bad parameter", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	records, err := h.audit.Recent(r.Context(), conversation, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Audit store failure", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't change response at this point
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(w http.ResponseWriter, status int, title, detail string) {
	problem := ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(problem)
}
