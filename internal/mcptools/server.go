// Package mcptools exposes the approval engine to AI assistants as Model
// Context Protocol tools. One server acts for one fixed caller identity.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/model"
)

// Server registers the approval tools on an MCP server.
type Server struct {
	mcpServer *server.MCPServer
	engine    *approval.Engine
	identity  model.RequestContext
	logger    *zap.Logger
}

// NewServer creates a Server whose tools run as identity.
func NewServer(name, version string, engine *approval.Engine, identity model.RequestContext, logger *zap.Logger) (*Server, error) {
	if err := identity.Validate(); err != nil {
		return nil, fmt.Errorf("mcp identity: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		engine:    engine,
		identity:  identity,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves the tools over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	requestID := mcp.WithString("request_id", mcp.Required(), mcp.Description("ID of the approval request"))

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_templates",
			mcp.WithDescription("List the active approval templates"),
		),
		s.handleListTemplates,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_requests",
			mcp.WithDescription("List approval requests visible to the caller"),
			mcp.WithString("status", mcp.Description("Comma separated statuses, e.g. PENDING,SENT_BACK")),
			mcp.WithString("template_id", mcp.Description("Only requests created from this template")),
			mcp.WithBoolean("assigned_to_me", mcp.Description("Only requests waiting for the caller's decision")),
			mcp.WithBoolean("mine", mcp.Description("Only requests the caller raised")),
			mcp.WithBoolean("overdue", mcp.Description("Only PENDING requests past their SLA deadline")),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Requests per page, at most 100")),
		),
		s.handleListRequests,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_request",
			mcp.WithDescription("Get a request with its visible answers, current approver and history"),
			requestID,
		),
		s.handleGetRequest,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"request_history",
			mcp.WithDescription("Get the action log of a request, oldest first"),
			requestID,
		),
		s.handleRequestHistory,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_request",
			mcp.WithDescription("Approve the current level of a request assigned to the caller"),
			requestID,
			mcp.WithString("comment", mcp.Description("Optional comment")),
		),
		s.decide(model.ActionApprove),
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"decline_request",
			mcp.WithDescription("Decline a request assigned to the caller; this ends the request"),
			requestID,
			mcp.WithString("comment", mcp.Required(), mcp.Description("Reason for declining")),
		),
		s.decide(model.ActionDecline),
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"send_back_request",
			mcp.WithDescription("Return a request to its requester for changes"),
			requestID,
			mcp.WithString("comment", mcp.Required(), mcp.Description("What the requester should change")),
		),
		s.decide(model.ActionSendBack),
	)
}

// caller returns a fresh copy of the identity.
func (s *Server) caller() *model.RequestContext {
	rctx := s.identity
	rctx.Roles = append([]string(nil), s.identity.Roles...)
	return &rctx
}

func (s *Server) handleListTemplates(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, err := s.engine.Templates(s.caller())
	if err != nil {
		return s.errorResult("list_templates", err), nil
	}
	return jsonResult(map[string]any{"items": items})
}

func (s *Server) handleListRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	rctx := s.caller()

	q := approval.ListQuery{
		TemplateID: stringArg(args, "template_id"),
		Overdue:    boolArg(args, "overdue"),
		Page:       intArg(args, "page"),
		PageSize:   intArg(args, "page_size"),
	}
	for _, st := range strings.Split(stringArg(args, "status"), ",") {
		if st = strings.TrimSpace(st); st != "" {
			q.Statuses = append(q.Statuses, model.RequestStatus(strings.ToUpper(st)))
		}
	}
	if boolArg(args, "assigned_to_me") {
		q.ApproverID = rctx.SubjectID
	}
	if boolArg(args, "mine") {
		q.RequesterID = rctx.SubjectID
	}

	page, err := s.engine.List(ctx, rctx, q)
	if err != nil {
		return s.errorResult("list_requests", err), nil
	}
	return jsonResult(page)
}

func (s *Server) handleGetRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := requireString(arguments(request), "request_id")
	if res != nil {
		return res, nil
	}
	desc, err := s.engine.Get(ctx, s.caller(), id)
	if err != nil {
		return s.errorResult("get_request", err), nil
	}
	return jsonResult(desc)
}

func (s *Server) handleRequestHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, res := requireString(arguments(request), "request_id")
	if res != nil {
		return res, nil
	}
	history, err := s.engine.History(ctx, s.caller(), id)
	if err != nil {
		return s.errorResult("request_history", err), nil
	}
	if history == nil {
		history = []model.ApprovalAction{}
	}
	return jsonResult(map[string]any{"items": history})
}

func (s *Server) decide(action model.ActionType) server.ToolHandlerFunc {
	tool := strings.ToLower(string(action)) + "_request"
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := arguments(request)
		id, res := requireString(args, "request_id")
		if res != nil {
			return res, nil
		}
		req, err := s.engine.ApplyAction(ctx, s.caller(), id, action, stringArg(args, "comment"))
		if err != nil {
			return s.errorResult(tool, err), nil
		}
		return jsonResult(req)
	}
}

// errorResult renders an engine error as a tool error whose text is the
// JSON error envelope.
func (s *Server) errorResult(tool string, err error) *mcp.CallToolResult {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		s.logger.Error("mcp tool failed", zap.String("tool", tool), zap.Error(err))
		ee = model.NewInternalError()
	} else {
		s.logger.Info("mcp tool rejected",
			zap.String("tool", tool),
			zap.String("code", ee.Code),
			zap.String("subject_id", s.identity.SubjectID))
	}
	body, _ := json.Marshal(map[string]any{"error": ee})
	return mcp.NewToolResultError(string(body))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(body)), nil
}

// --- argument helpers ---

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	return args
}

func requireString(args map[string]interface{}, name string) (string, *mcp.CallToolResult) {
	v := stringArg(args, name)
	if v == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return v, nil
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}

func boolArg(args map[string]interface{}, name string) bool {
	switch v := args[name].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func intArg(args map[string]interface{}, name string) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Identity builds the caller identity for a server from command-line
// values.
func Identity(subject, tenant string, roles []string) model.RequestContext {
	return model.RequestContext{
		SubjectID:     subject,
		TenantID:      tenant,
		Roles:         roles,
		CorrelationID: "mcp-" + subject,
	}
}
