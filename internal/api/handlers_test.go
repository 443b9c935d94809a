package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-mcp/internal/repository"
	"registry-mcp/pkg/models"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	audit, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })
	return NewHandler(audit)
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"registry-mcp"`)
}

func TestHandleHistory(t *testing.T) {
	h := newTestHandler(t)

	require.NoError(t, h.audit.Record(context.Background(), &models.InvocationRecord{
		ID:           uuid.NewString(),
		Conversation: "conv-1",
		Operation:    "create_person",
		Arguments:    []byte(`{}`),
		Status:       models.InvocationSucceeded,
		CreatedAt:    time.Now().UTC(),
	}))

	rec := httptest.NewRecorder()
	h.HandleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?conversation=conv-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "create_person")

	rec = httptest.NewRecorder()
	h.HandleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = httptest.NewRecorder()
	h.HandleHistory(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history?conversation=conv-1&limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
