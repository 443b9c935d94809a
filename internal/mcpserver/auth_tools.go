package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"registry-mcp/internal/authsession"
)

func (s *Server) registerAuthTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"login",
			mcp.WithDescription("Start a browser login to the registry. Returns the authorization URL, then waits for the browser redirect to complete."),
		),
		s.handleLogin,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"logout",
			mcp.WithDescription("Revoke the current credential (best effort) and remove it from the local secret store."),
		),
		s.handleLogout,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"auth_status",
			mcp.WithDescription("Report whether this session holds a valid credential and when it expires."),
		),
		s.handleAuthStatus,
	)
}

func (s *Server) handleLogin(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := sessionKey(ctx)

	authURL, err := s.auth.BeginLogin(ctx, key)
	if err != nil {
		if errors.Is(err, authsession.ErrLoginInProgress) {
			return mcp.NewToolResultError("a login is already in progress for this session; finish it or log out first"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("could not start login: %v", err)), nil
	}

	s.log.Info("waiting for browser login", "key", key)
	cred, err := s.auth.AwaitCallback(ctx)
	if err != nil {
		switch {
		case errors.Is(err, authsession.ErrUserDenied):
			return mcp.NewToolResultError("login was denied in the browser"), nil
		case errors.Is(err, authsession.ErrTimeout):
			return mcp.NewToolResultError(fmt.Sprintf("login timed out; open %s to try again", authURL)), nil
		case errors.Is(err, authsession.ErrStateMismatch):
			return mcp.NewToolResultError("login rejected: callback did not match this login attempt"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("login failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"authenticated": true,
		"subject":       cred.Subject,
		"expires_at":    cred.ExpiresAt,
	}), nil
}

func (s *Server) handleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := sessionKey(ctx)
	if err := s.auth.Logout(ctx, key); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("logout failed: %v", err)), nil
	}
	return mcp.NewToolResultText("Logged out."), nil
}

func (s *Server) handleAuthStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.auth.CurrentStatus(sessionKey(ctx))), nil
}
