package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registry-mcp/internal/config"
	"registry-mcp/internal/logging"
	"registry-mcp/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := &config.Config{}
	cfg.Registry.APIBase = ts.URL
	cfg.Registry.SearchBase = ts.URL
	cfg.Registry.Timeout = 5 * time.Second
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.BaseDelay = 10 * time.Millisecond

	return NewClient(cfg, logging.NewLogger()), ts
}

func TestCreateSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/registry/agent/person/create", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"created_item": map[string]any{"id": "12345/person-1", "display_name": "MCP Robot"},
		})
	}))

	created, err := client.Create(context.Background(), "Bearer token-1", "registry/agent/person/create",
		map[string]any{"first_name": "MCP", "last_name": "Robot"})
	require.NoError(t, err)
	assert.Equal(t, "12345/person-1", created.ID)
	assert.Equal(t, "https://hdl.handle.net/12345/person-1", created.HandleURL)
	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Equal(t, "MCP", gotBody["first_name"])
}

func TestRejectionSurfacedVerbatimAndNotRetried(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail": "email already registered"}`))
	}))

	_, err := client.Create(context.Background(), "Bearer t", "registry/agent/person/create", map[string]any{})
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusUnprocessableEntity, remote.Status)
	assert.Contains(t, remote.Body, "email already registered")
	assert.Equal(t, int32(1), requests.Load())
}

func TestServerErrorNotRetriedAfterResponse(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.Create(context.Background(), "Bearer t", "registry/agent/person/create", map[string]any{})
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusInternalServerError, remote.Status)
	// A response was received, so the mutation must not be replayed.
	assert.Equal(t, int32(1), requests.Load())
}

func TestTransportFailureRetriedThenSurfaced(t *testing.T) {
	client, ts := newTestClient(t, http.NewServeMux())
	ts.Close()

	_, err := client.Create(context.Background(), "Bearer t", "registry/agent/person/create", map[string]any{})
	require.Error(t, err)

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
}

func TestRemoteErrorUnauthorized(t *testing.T) {
	assert.True(t, (&RemoteError{Status: 401}).Unauthorized())
	assert.True(t, (&RemoteError{Status: 403}).Unauthorized())
	assert.False(t, (&RemoteError{Status: 422}).Unauthorized())
}

func TestSearchResolvesLabels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/entity-registry", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "hogwarts", r.URL.Query().Get("query"))
		assert.Equal(t, "ORGANISATION", r.URL.Query().Get("subtype_filter"))
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"id": "12345/org-1", "score": 0.97},
			},
		})
	})
	mux.HandleFunc("/registry/general/fetch", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"item": map[string]any{
				"id": "12345/org-1", "display_name": "Hogwarts School", "item_subtype": "ORGANISATION",
			},
		})
	})
	client, _ := newTestClient(t, mux)

	candidates, err := client.Search(context.Background(), "Bearer t", "hogwarts", models.SubtypeOrganisation, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "12345/org-1", candidates[0].ID)
	assert.Equal(t, "Hogwarts School", candidates[0].Label)
}

func TestFetchItem(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12345/model-1", r.URL.Query().Get("id"))
		json.NewEncoder(w).Encode(map[string]any{
			"item": map[string]any{
				"id": "12345/model-1", "display_name": "Reef Model", "item_subtype": "MODEL",
			},
		})
	}))

	item, err := client.Fetch(context.Background(), "Bearer t", "12345/model-1")
	require.NoError(t, err)
	assert.Equal(t, "Reef Model", item.DisplayName)
	assert.Equal(t, models.SubtypeModel, item.Subtype)
	assert.NotEmpty(t, item.Raw)
}

func TestListPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(2), body["page_size"])
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{"id": "12345/a", "display_name": "A", "item_subtype": "DATASET"},
				{"id": "12345/b", "display_name": "B", "item_subtype": "DATASET"},
			},
			"total_item_count": 7,
		})
	}))

	page, err := client.List(context.Background(), "Bearer t", models.SubtypeDataset, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "A", page.Items[0].DisplayName)
}

func TestCount(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"counts": map[string]int{"PERSON": 3, "MODEL": 2},
			"total":  5,
		})
	}))

	counts, total, err := client.Count(context.Background(), "Bearer t")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 3, counts[models.SubtypePerson])
}

func TestExploreUpstreamCountsGraph(t *testing.T) {
	var gotPath, gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"graph": map[string]any{
				"nodes": []any{
					map[string]any{"id": "12345/ds-1"},
					map[string]any{"id": "12345/run-1"},
				},
				"edges": []any{
					map[string]any{"source": "12345/run-1", "target": "12345/ds-1"},
				},
			},
		})
	}))

	lineage, err := client.ExploreUpstream(context.Background(), "Bearer token-1", "12345/ds-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "/explore/upstream", gotPath)
	assert.Contains(t, gotQuery, "starting_id=12345%2Fds-1")
	assert.Contains(t, gotQuery, "depth=2")
	assert.Equal(t, 2, lineage.NodeCount)
	assert.Equal(t, 1, lineage.EdgeCount)
	assert.Equal(t, "12345/ds-1", lineage.StartingID)
}

func TestExploreDownstreamTopLevelGraphAndDepthFloor(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/explore/downstream", r.URL.Path)
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"nodes": []any{map[string]any{"id": "12345/run-2"}},
			"edges": []any{},
		})
	}))

	lineage, err := client.ExploreDownstream(context.Background(), "Bearer token-1", "12345/ds-1", 0)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "depth=1")
	assert.Equal(t, 1, lineage.Depth)
	assert.Equal(t, 1, lineage.NodeCount)
	assert.Equal(t, 0, lineage.EdgeCount)
}
