package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// sessionKey identifies the conversation. Credentials and workflow state are
// both keyed by it, so each MCP client session gets its own login and its
// own in-flight workflow.
func sessionKey(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		if id := session.SessionID(); id != "" {
			return id
		}
	}
	return "default"
}

// toolArgs extracts the argument map from a tool request.
func toolArgs(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]interface{}, key string, fallback int) int {
	if v, ok := args[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}

func boolArg(args map[string]interface{}, key string) (bool, bool) {
	v, ok := args[key].(bool)
	return v, ok
}

// jsonResult marshals v as the tool's text payload.
func jsonResult(v any) *mcp.CallToolResult {
	payload, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to encode result: " + err.Error())
	}
	return mcp.NewToolResultText(string(payload))
}
