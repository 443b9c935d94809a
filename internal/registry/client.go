// Package registry is the HTTP client for the metadata registry and its
// search service. It owns request construction, response decoding, and the
// retry policy: transport failures are retried with exponential backoff, but
// once any response has been received the outcome is final.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"registry-mcp/internal/config"
	"registry-mcp/internal/logging"
	"registry-mcp/pkg/models"
)

// Client talks to the registry API, the search API and the provenance API.
type Client struct {
	apiBase     string
	searchBase  string
	provBase    string
	httpClient  *http.Client
	log         *logging.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewClient creates a registry client from configuration.
func NewClient(cfg *config.Config, log *logging.Logger) *Client {
	provBase := cfg.Registry.ProvBase
	if provBase == "" {
		provBase = cfg.Registry.APIBase
	}
	return &Client{
		apiBase:     cfg.Registry.APIBase,
		searchBase:  cfg.Registry.SearchBase,
		provBase:    provBase,
		httpClient:  &http.Client{Timeout: cfg.Registry.Timeout},
		log:         log,
		maxAttempts: cfg.Retry.MaxAttempts,
		baseDelay:   cfg.Retry.BaseDelay,
	}
}

// WithHTTPClient swaps the underlying HTTP client. Used by tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// do sends one request, retrying transport failures. The request body is
// supplied as bytes so it can be replayed on retry.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, bearer string) (int, []byte, error) {
	var status int
	var respBody []byte

	attempt := 0
	operation := func() error {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if bearer != "" {
			req.Header.Set("Authorization", bearer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.log.Warn("registry request failed", "method", method, "url", rawURL, "attempt", attempt, "error", err)
			return err
		}
		defer resp.Body.Close()

		// A response arrived; whatever it says, we do not retry.
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read response: %w", err))
		}
		status = resp.StatusCode
		return nil
	}

	attempts := c.maxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(c.baseDelay)),
		uint64(attempts-1),
	), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return 0, nil, &TransportError{Op: method + " " + rawURL, Err: err}
	}
	if status >= 400 {
		return status, respBody, &RemoteError{Status: status, Body: string(respBody)}
	}
	return status, respBody, nil
}

type searchResponse struct {
	Results []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Search queries the search service and resolves display names for the
// hits. A subtype narrows the search; limit caps the number of candidates.
func (c *Client) Search(ctx context.Context, bearer, query string, subtype models.ItemSubtype, limit int) ([]models.SearchCandidate, error) {
	params := url.Values{"query": {query}, "record_limit": {strconv.Itoa(limit)}}
	if subtype != "" {
		params.Set("subtype_filter", string(subtype))
	}
	u := c.searchBase + "/search/entity-registry?" + params.Encode()

	_, body, err := c.do(ctx, http.MethodGet, u, nil, bearer)
	if err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	candidates := make([]models.SearchCandidate, 0, len(sr.Results))
	for _, hit := range sr.Results {
		cand := models.SearchCandidate{ID: hit.ID, Score: hit.Score}
		if item, err := c.Fetch(ctx, bearer, hit.ID); err == nil {
			cand.Label = item.DisplayName
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// Fetch retrieves one registry item by its handle identifier.
func (c *Client) Fetch(ctx context.Context, bearer, id string) (*models.RegistryItem, error) {
	u := c.apiBase + "/registry/general/fetch?" + url.Values{"id": {id}}.Encode()
	_, body, err := c.do(ctx, http.MethodGet, u, nil, bearer)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}
	raw := envelope.Item
	if raw == nil {
		raw = body
	}

	var fields struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
		Subtype     string `json:"item_subtype"`
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode registry item: %w", err)
	}
	return &models.RegistryItem{
		ID:          fields.ID,
		DisplayName: fields.DisplayName,
		Subtype:     models.ItemSubtype(fields.Subtype),
		Raw:         raw,
	}, nil
}

// ListPage is one page of registry items.
type ListPage struct {
	Items         []models.RegistryItem `json:"items"`
	Total         int                   `json:"total_item_count"`
	PaginationKey json.RawMessage       `json:"pagination_key,omitempty"`
}

// List returns a page of registry items, optionally filtered by subtype.
// paginationKey continues a previous page; nil starts from the beginning.
func (c *Client) List(ctx context.Context, bearer string, subtype models.ItemSubtype, pageSize int, paginationKey json.RawMessage) (*ListPage, error) {
	reqBody := map[string]any{"page_size": pageSize}
	if subtype != "" {
		reqBody["subtype_filter"] = string(subtype)
	}
	if paginationKey != nil {
		reqBody["pagination_key"] = paginationKey
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encode list request: %w", err)
	}

	_, body, err := c.do(ctx, http.MethodPost, c.apiBase+"/registry/general/list", payload, bearer)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Items         []json.RawMessage `json:"items"`
		Total         int               `json:"total_item_count"`
		PaginationKey json.RawMessage   `json:"pagination_key"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}

	page := &ListPage{Total: decoded.Total, PaginationKey: decoded.PaginationKey}
	for _, raw := range decoded.Items {
		var fields struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			Subtype     string `json:"item_subtype"`
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			continue
		}
		page.Items = append(page.Items, models.RegistryItem{
			ID:          fields.ID,
			DisplayName: fields.DisplayName,
			Subtype:     models.ItemSubtype(fields.Subtype),
			Raw:         raw,
		})
	}
	return page, nil
}

// Count returns item counts per subtype plus the overall total.
func (c *Client) Count(ctx context.Context, bearer string) (map[models.ItemSubtype]int, int, error) {
	_, body, err := c.do(ctx, http.MethodGet, c.apiBase+"/registry/general/count", nil, bearer)
	if err != nil {
		return nil, 0, err
	}

	var decoded struct {
		Counts map[string]int `json:"counts"`
		Total  int            `json:"total"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, 0, fmt.Errorf("decode count response: %w", err)
	}

	counts := make(map[models.ItemSubtype]int, len(decoded.Counts))
	for k, v := range decoded.Counts {
		counts[models.ItemSubtype(k)] = v
	}
	return counts, decoded.Total, nil
}

// Create submits a new item to the registry at the given create path (for
// example "registry/agent/person/create") and returns the minted handle.
func (c *Client) Create(ctx context.Context, bearer, createPath string, payload map[string]any) (*models.CreatedResource, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode create request: %w", err)
	}

	_, body, err := c.do(ctx, http.MethodPost, c.apiBase+"/"+createPath, encoded, bearer)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		CreatedItem struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
		} `json:"created_item"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	if decoded.CreatedItem.ID == "" {
		return nil, &RemoteError{Status: http.StatusOK, Body: "create response carried no item id"}
	}

	return &models.CreatedResource{
		ID:          decoded.CreatedItem.ID,
		DisplayName: decoded.CreatedItem.DisplayName,
		HandleURL:   models.HandleURL(decoded.CreatedItem.ID),
	}, nil
}

// Lineage is one direction of the provenance graph reachable from a starting
// record: node and edge counts plus the raw graph for the caller to present.
type Lineage struct {
	StartingID string          `json:"starting_id"`
	Depth      int             `json:"depth"`
	NodeCount  int             `json:"node_count"`
	EdgeCount  int             `json:"edge_count"`
	Graph      json.RawMessage `json:"graph"`
}

// ExploreUpstream walks the provenance graph toward the inputs the starting
// record was derived from.
func (c *Client) ExploreUpstream(ctx context.Context, bearer, startingID string, depth int) (*Lineage, error) {
	return c.explore(ctx, bearer, "/explore/upstream", startingID, depth)
}

// ExploreDownstream walks the provenance graph toward everything derived
// from the starting record.
func (c *Client) ExploreDownstream(ctx context.Context, bearer, startingID string, depth int) (*Lineage, error) {
	return c.explore(ctx, bearer, "/explore/downstream", startingID, depth)
}

func (c *Client) explore(ctx context.Context, bearer, path, startingID string, depth int) (*Lineage, error) {
	if depth < 1 {
		depth = 1
	}
	params := url.Values{"starting_id": {startingID}, "depth": {strconv.Itoa(depth)}}
	u := c.provBase + path + "?" + params.Encode()

	_, body, err := c.do(ctx, http.MethodGet, u, nil, bearer)
	if err != nil {
		return nil, err
	}

	// The graph arrives either at the top level or under a "graph" key.
	var decoded struct {
		Nodes []json.RawMessage `json:"nodes"`
		Edges []json.RawMessage `json:"edges"`
		Graph struct {
			Nodes []json.RawMessage `json:"nodes"`
			Edges []json.RawMessage `json:"edges"`
		} `json:"graph"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode lineage response: %w", err)
	}
	nodes, edges := decoded.Nodes, decoded.Edges
	if nodes == nil {
		nodes = decoded.Graph.Nodes
	}
	if edges == nil {
		edges = decoded.Graph.Edges
	}

	return &Lineage{
		StartingID: startingID,
		Depth:      depth,
		NodeCount:  len(nodes),
		EdgeCount:  len(edges),
		Graph:      json.RawMessage(body),
	}, nil
}
