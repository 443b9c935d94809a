package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"registry-mcp/internal/workflow"
)

func (s *Server) registerWorkflowTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_start",
			mcp.WithDescription("Start a guided registration workflow. Operations: "+strings.Join(s.schemas.Operations(), ", ")),
			mcp.WithString("operation", mcp.Required(), mcp.Description("Operation name, e.g. create_person")),
		),
		s.handleWorkflowStart,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_submit",
			mcp.WithDescription("Submit a value for the field the workflow is currently asking about. For reference fields, a handle is accepted directly and anything else is used as a search query."),
			mcp.WithString("value", mcp.Required(), mcp.Description("The raw value for the current field")),
		),
		s.handleWorkflowSubmit,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_skip",
			mcp.WithDescription("Skip the current optional field, keeping its default if it has one"),
		),
		s.handleWorkflowSkip,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_select",
			mcp.WithDescription("Pick one of the presented reference candidates, by 1-based number or handle"),
			mcp.WithString("choice", mcp.Required(), mcp.Description("Candidate number or handle")),
		),
		s.handleWorkflowSelect,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_revise",
			mcp.WithDescription("Reopen an already-collected field so its value can be replaced"),
			mcp.WithString("field", mcp.Required(), mcp.Description("Field key to revise")),
		),
		s.handleWorkflowRevise,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_status",
			mcp.WithDescription("Show where the active workflow stands"),
		),
		s.handleWorkflowStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_confirm",
			mcp.WithDescription("Resolve the confirmation gate. confirm=true submits the summarized arguments to the registry; confirm=false cancels without any call."),
			mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("true to submit, false to cancel")),
		),
		s.handleWorkflowConfirm,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"workflow_cancel",
			mcp.WithDescription("Abandon the active workflow without calling the registry"),
		),
		s.handleWorkflowCancel,
	)
}

// workflowResult renders an engine reply or error uniformly.
func workflowResult(reply *workflow.Reply, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrWorkflowAlreadyActive),
			errors.Is(err, workflow.ErrNoActiveWorkflow),
			errors.Is(err, workflow.ErrNotAwaitingConfirmation),
			errors.Is(err, workflow.ErrNoSelectionPending),
			errors.Is(err, workflow.ErrRequiredField):
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("workflow error: %v", err)), nil
	}
	return jsonResult(reply), nil
}

func (s *Server) handleWorkflowStart(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	operation := stringArg(args, "operation")
	if operation == "" {
		return mcp.NewToolResultError("Missing required parameter: operation"), nil
	}

	reply, err := s.engine.Start(sessionKey(ctx), operation)
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowSubmit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	value, present := args["value"].(string)
	if !present {
		return mcp.NewToolResultError("Missing required parameter: value"), nil
	}

	reply, err := s.engine.Submit(ctx, sessionKey(ctx), value)
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowSkip(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reply, err := s.engine.Skip(sessionKey(ctx))
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowSelect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	choice := stringArg(args, "choice")
	if choice == "" {
		return mcp.NewToolResultError("Missing required parameter: choice"), nil
	}

	reply, err := s.engine.Select(sessionKey(ctx), choice)
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowRevise(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	field := stringArg(args, "field")
	if field == "" {
		return mcp.NewToolResultError("Missing required parameter: field"), nil
	}

	reply, err := s.engine.Revise(sessionKey(ctx), field)
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reply, err := s.engine.Status(sessionKey(ctx))
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowConfirm(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := toolArgs(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	decision, present := boolArg(args, "confirm")
	if !present {
		return mcp.NewToolResultError("Missing required parameter: confirm"), nil
	}

	reply, err := s.engine.Confirm(ctx, sessionKey(ctx), decision)
	return workflowResult(reply, err)
}

func (s *Server) handleWorkflowCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reply, err := s.engine.Cancel(sessionKey(ctx))
	return workflowResult(reply, err)
}
