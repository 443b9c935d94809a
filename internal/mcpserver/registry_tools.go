package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"registry-mcp/internal/authsession"
	"registry-mcp/internal/registry"
	"registry-mcp/pkg/models"
)

func (s *Server) registerRegistryTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"search_registry",
			mcp.WithDescription("Search registry items by keywords"),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search keywords")),
			mcp.WithString("subtype_filter", mcp.Description("Restrict to one subtype, e.g. PERSON, ORGANISATION, MODEL, DATASET")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		s.handleSearchRegistry,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"fetch_registry_item",
			mcp.WithDescription("Fetch one registry item by its handle identifier"),
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Handle identifier, e.g. 12345/abc-def")),
		),
		s.handleFetchRegistryItem,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_registry_items",
			mcp.WithDescription("List registry items, optionally filtered by subtype"),
			mcp.WithString("subtype_filter", mcp.Description("Restrict to one subtype")),
			mcp.WithNumber("page_size", mcp.Description("Items per page (default 20)")),
		),
		s.handleListRegistryItems,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_registry_items_count",
			mcp.WithDescription("Count registry items per subtype"),
		),
		s.handleRegistryItemsCount,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"explore_upstream",
			mcp.WithDescription("Explore upstream lineage: the inputs a record was derived from"),
			mcp.WithString("starting_id", mcp.Required(), mcp.Description("Handle identifier to start from")),
			mcp.WithNumber("depth", mcp.Description("Traversal depth, 1-5 (default 1)")),
		),
		s.handleExploreUpstream,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"explore_downstream",
			mcp.WithDescription("Explore downstream lineage: everything derived from a record"),
			mcp.WithString("starting_id", mcp.Required(), mcp.Description("Handle identifier to start from")),
			mcp.WithNumber("depth", mcp.Description("Traversal depth, 1-5 (default 1)")),
		),
		s.handleExploreDownstream,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_current_date",
			mcp.WithDescription("Return today's date in YYYY-MM-DD form, for date fields"),
		),
		s.handleCurrentDate,
	)
}

// bearerFor resolves a fresh credential or tells the user to log in.
func (s *Server) bearerFor(ctx context.Context, key string) (string, *mcp.CallToolResult) {
	cred, err := s.auth.EnsureFresh(ctx, key)
	if err != nil {
		if errors.Is(err, authsession.ErrReauthRequired) {
			return "", mcp.NewToolResultError("not authenticated; run the login tool first")
		}
		return "", mcp.NewToolResultError(fmt.Sprintf("credential check failed: %v", err))
	}
	return cred.BearerHeader(), nil
}

func subtypeFilter(args map[string]interface{}) (models.ItemSubtype, *mcp.CallToolResult) {
	raw := stringArg(args, "subtype_filter")
	if raw == "" {
		return "", nil
	}
	if !models.ValidSubtype(raw) {
		return "", mcp.NewToolResultError(fmt.Sprintf("unknown subtype %q (known: %v)", raw, models.AllSubtypes))
	}
	return models.ItemSubtype(raw), nil
}

func (s *Server) handleSearchRegistry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	query := stringArg(args, "query")
	if query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}
	subtype, errResult := subtypeFilter(args)
	if errResult != nil {
		return errResult, nil
	}

	bearer, errResult := s.bearerFor(ctx, sessionKey(ctx))
	if errResult != nil {
		return errResult, nil
	}

	candidates, err := s.registry.Search(ctx, bearer, query, subtype, intArg(args, "limit", 10))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(candidates), nil
}

func (s *Server) handleFetchRegistryItem(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	itemID := stringArg(args, "item_id")
	if itemID == "" {
		return mcp.NewToolResultError("Missing required parameter: item_id"), nil
	}

	bearer, errResult := s.bearerFor(ctx, sessionKey(ctx))
	if errResult != nil {
		return errResult, nil
	}

	item, err := s.registry.Fetch(ctx, bearer, itemID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("fetch failed: %v", err)), nil
	}
	return jsonResult(item), nil
}

func (s *Server) handleListRegistryItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	subtype, errResult := subtypeFilter(args)
	if errResult != nil {
		return errResult, nil
	}

	bearer, errResult := s.bearerFor(ctx, sessionKey(ctx))
	if errResult != nil {
		return errResult, nil
	}

	page, err := s.registry.List(ctx, bearer, subtype, intArg(args, "page_size", 20), nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return jsonResult(page), nil
}

func (s *Server) handleRegistryItemsCount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bearer, errResult := s.bearerFor(ctx, sessionKey(ctx))
	if errResult != nil {
		return errResult, nil
	}

	counts, total, err := s.registry.Count(ctx, bearer)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("count failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"counts": counts, "total": total}), nil
}

func (s *Server) handleExploreUpstream(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleExplore(ctx, request, s.registry.ExploreUpstream)
}

func (s *Server) handleExploreDownstream(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.handleExplore(ctx, request, s.registry.ExploreDownstream)
}

func (s *Server) handleExplore(ctx context.Context, request mcp.CallToolRequest,
	explore func(ctx context.Context, bearer, startingID string, depth int) (*registry.Lineage, error)) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	startingID := stringArg(args, "starting_id")
	if startingID == "" {
		return mcp.NewToolResultError("Missing required parameter: starting_id"), nil
	}

	bearer, errResult := s.bearerFor(ctx, sessionKey(ctx))
	if errResult != nil {
		return errResult, nil
	}

	lineage, err := explore(ctx, bearer, startingID, intArg(args, "depth", 1))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lineage exploration failed: %v", err)), nil
	}
	return jsonResult(lineage), nil
}

func (s *Server) handleCurrentDate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(time.Now().Format("2006-01-02")), nil
}
