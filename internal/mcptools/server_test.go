package mcptools

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahidur/ams-sub001/internal/access"
	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/model"
)

func testEngine(t *testing.T) *approval.Engine {
	t.Helper()
	leave := model.ApprovalTemplate{
		ID:              "leave",
		Name:            "leave_request",
		DisplayName:     "Leave Request",
		NumberPrefix:    "LV",
		DefaultSLAHours: 24,
		Fields: []model.FormField{
			{Name: "days", Label: "Days", Type: model.FieldNumber, Required: true},
		},
		Levels: []model.ApprovalLevel{
			{Index: 1, Name: "Manager", Role: "manager"},
			{Index: 2, Name: "HR", Role: "hr"},
		},
	}
	policy := access.NewStaticPolicyFrom(access.PolicyFile{
		Roles: map[string][]string{
			"employee": {model.CapTemplateRead, model.CapRequestCreate, model.CapRequestRead},
			"manager":  {model.CapTemplateRead, model.CapRequestRead, model.CapRequestAct},
			"hr":       {model.CapRequestRead, model.CapRequestAct},
		},
		Tenants: map[string]access.TenantPolicy{
			"tenant-1": {Users: []access.UserEntry{
				{ID: "u-alice", Name: "Alice", Roles: []access.RoleAssignment{{Role: "employee"}}},
				{ID: "u-bob", Name: "Bob", Roles: []access.RoleAssignment{{Role: "employee"}}},
				{ID: "u-mgr", Name: "Manager", Roles: []access.RoleAssignment{{Role: "manager"}}},
				{ID: "u-hr", Name: "HR", Roles: []access.RoleAssignment{{Role: "hr"}}},
			}},
		},
	})
	return approval.NewEngine(
		template.NewRegistry([]model.ApprovalTemplate{leave}),
		approval.NewMemoryStore(),
		policy,
		access.NewResolver(policy, time.Minute, 0, nil),
	)
}

func newTestServer(t *testing.T, engine *approval.Engine, subject string) *Server {
	t.Helper()
	s, err := NewServer("approvals-test", "0.0.0", engine, Identity(subject, "tenant-1", nil), nil)
	require.NoError(t, err)
	return s
}

func submitLeave(t *testing.T, engine *approval.Engine, requester string) model.ApprovalRequest {
	t.Helper()
	req, err := engine.CreateRequest(context.Background(),
		&model.RequestContext{SubjectID: requester, TenantID: "tenant-1"},
		approval.CreateInput{
			TemplateID: "leave",
			FormData:   model.NewFormData(model.Entry("days", model.Number(2))),
			SubmitNow:  true,
		})
	require.NoError(t, err)
	return req
}

type rpcResponse struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
		Tools   []struct {
			Name string `json:"name"`
		} `json:"tools"`
	} `json:"result"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func rpc(t *testing.T, s *Server, method string, params any) rpcResponse {
	t.Helper()
	msg, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": 1, "method": method, "params": params})
	require.NoError(t, err)
	out := s.MCPServer().HandleMessage(context.Background(), msg)
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(raw, &resp), string(raw))
	require.Nil(t, resp.Error, string(raw))
	return resp
}

// callTool returns the tool's text output and whether it is an error result.
func callTool(t *testing.T, s *Server, name string, args map[string]any) (string, bool) {
	t.Helper()
	resp := rpc(t, s, "tools/call", map[string]any{"name": name, "arguments": args})
	require.Len(t, resp.Result.Content, 1)
	return resp.Result.Content[0].Text, resp.Result.IsError
}

func errorCode(t *testing.T, text string) string {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &body), text)
	return body.Error.Code
}

func TestNewServer_requiresIdentity(t *testing.T) {
	_, err := NewServer("x", "1", testEngine(t), Identity("u-mgr", "", nil), nil)
	assert.Error(t, err)
}

func TestToolsList(t *testing.T) {
	s := newTestServer(t, testEngine(t), "u-mgr")
	resp := rpc(t, s, "tools/list", map[string]any{})

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"approve_request",
		"decline_request",
		"get_request",
		"list_requests",
		"list_templates",
		"request_history",
		"send_back_request",
	}, names)
}

func TestListTemplates(t *testing.T) {
	engine := testEngine(t)

	text, isErr := callTool(t, newTestServer(t, engine, "u-alice"), "list_templates", nil)
	require.False(t, isErr, text)
	var out struct {
		Items []model.TemplateSummary `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "leave", out.Items[0].ID)

	text, isErr = callTool(t, newTestServer(t, engine, "u-hr"), "list_templates", nil)
	require.True(t, isErr)
	assert.Equal(t, model.ErrForbidden, errorCode(t, text))
}

func TestApprovalFlowThroughTools(t *testing.T) {
	engine := testEngine(t)
	req := submitLeave(t, engine, "u-alice")
	submitLeave(t, engine, "u-bob")
	mgr := newTestServer(t, engine, "u-mgr")
	hr := newTestServer(t, engine, "u-hr")

	text, isErr := callTool(t, mgr, "list_requests", map[string]any{"assigned_to_me": true, "status": "pending"})
	require.False(t, isErr, text)
	var page model.RequestPage
	require.NoError(t, json.Unmarshal([]byte(text), &page))
	assert.Equal(t, 2, page.Total)

	text, isErr = callTool(t, mgr, "approve_request", map[string]any{"request_id": req.ID})
	require.False(t, isErr, text)
	var after model.ApprovalRequest
	require.NoError(t, json.Unmarshal([]byte(text), &after))
	assert.Equal(t, 2, after.CurrentLevel)
	assert.Equal(t, "u-hr", after.CurrentApproverID)

	// The manager has already acted; level 2 belongs to HR.
	text, isErr = callTool(t, mgr, "approve_request", map[string]any{"request_id": req.ID})
	require.True(t, isErr)
	assert.Equal(t, model.ErrForbidden, errorCode(t, text))

	text, isErr = callTool(t, hr, "send_back_request", map[string]any{"request_id": req.ID})
	require.True(t, isErr)
	assert.Equal(t, model.ErrValidationError, errorCode(t, text))

	text, isErr = callTool(t, hr, "send_back_request", map[string]any{"request_id": req.ID, "comment": "attach the rota"})
	require.False(t, isErr, text)
	after = model.ApprovalRequest{}
	require.NoError(t, json.Unmarshal([]byte(text), &after))
	assert.Equal(t, model.StatusSentBack, after.Status)

	text, isErr = callTool(t, hr, "request_history", map[string]any{"request_id": req.ID})
	require.False(t, isErr, text)
	var history struct {
		Items []model.ApprovalAction `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &history))
	require.Len(t, history.Items, 3)
	assert.Equal(t, model.ActionSendBack, history.Items[2].Type)
	assert.Equal(t, "attach the rota", history.Items[2].Comment)
}

func TestDeclineRequest(t *testing.T) {
	engine := testEngine(t)
	req := submitLeave(t, engine, "u-alice")
	mgr := newTestServer(t, engine, "u-mgr")

	text, isErr := callTool(t, mgr, "decline_request", map[string]any{"request_id": req.ID, "comment": "   "})
	require.True(t, isErr)
	assert.Equal(t, model.ErrValidationError, errorCode(t, text))

	text, isErr = callTool(t, mgr, "decline_request", map[string]any{"request_id": req.ID, "comment": "team is short-staffed"})
	require.False(t, isErr, text)

	text, isErr = callTool(t, mgr, "get_request", map[string]any{"request_id": req.ID})
	require.False(t, isErr, text)
	var desc model.RequestDescriptor
	require.NoError(t, json.Unmarshal([]byte(text), &desc))
	assert.Equal(t, model.StatusDeclined, desc.Request.Status)
	assert.Nil(t, desc.CurrentApprover)
}

func TestToolErrors(t *testing.T) {
	engine := testEngine(t)
	req := submitLeave(t, engine, "u-alice")
	bob := newTestServer(t, engine, "u-bob")

	text, isErr := callTool(t, bob, "get_request", map[string]any{"request_id": req.ID})
	require.True(t, isErr)
	assert.Equal(t, model.ErrForbidden, errorCode(t, text))

	text, isErr = callTool(t, bob, "get_request", map[string]any{"request_id": "missing"})
	require.True(t, isErr)
	assert.Equal(t, model.ErrNotFound, errorCode(t, text))

	text, isErr = callTool(t, bob, "get_request", map[string]any{})
	require.True(t, isErr)
	assert.Contains(t, text, "request_id")

	text, isErr = callTool(t, bob, "list_requests", map[string]any{"status": "LIMBO"})
	require.True(t, isErr)
	assert.Equal(t, model.ErrBadRequest, errorCode(t, text))
}
