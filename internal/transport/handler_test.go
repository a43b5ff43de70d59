package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sahidur/ams-sub001/internal/access"
	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/internal/config"
	"github.com/sahidur/ams-sub001/internal/idempotency"
	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/model"
)

// --- Test helpers ---

const leaveYAML = `templates:
  - id: leave
    name: leave_request
    display_name: Leave Request
    number_prefix: LV
    default_sla_hours: 24
    fields:
      - name: leave_type
        label: Leave type
        type: select
        required: true
        options: [annual, sick]
      - name: days
        label: Days
        type: number
        required: true
      - name: medical_certificate
        label: Medical certificate
        type: file
        required: true
        depends_on_field: leave_type
        depends_on_value: sick
    levels:
      - index: 1
        name: Line manager
        role: manager
      - index: 2
        name: HR
        role: hr
`

func testPolicy() access.PolicyFile {
	return access.PolicyFile{
		Roles: map[string][]string{
			"employee": {model.CapTemplateRead, model.CapRequestCreate, model.CapRequestRead},
			"manager":  {model.CapTemplateRead, model.CapRequestRead, model.CapRequestAct},
			"hr":       {model.CapRequestRead, model.CapRequestAct},
			"auditor":  {"approvals:request:*"},
		},
		Tenants: map[string]access.TenantPolicy{
			"tenant-1": {Users: []access.UserEntry{
				{ID: "u-alice", Name: "Alice", Roles: []access.RoleAssignment{{Role: "employee"}}},
				{ID: "u-bob", Name: "Bob", Roles: []access.RoleAssignment{{Role: "employee"}}},
				{ID: "u-mgr", Name: "Manager", Roles: []access.RoleAssignment{{Role: "manager"}}},
				{ID: "u-hr", Name: "HR Officer", Roles: []access.RoleAssignment{{Role: "hr"}}},
				{ID: "u-audit", Name: "Auditor", Roles: []access.RoleAssignment{{Role: "auditor"}}},
			}},
		},
	}
}

// testAuth stands in for JWT verification: the X-Test-User header names the
// subject, and every caller belongs to tenant-1.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := map[string]any{}
		if sub := r.Header.Get("X-Test-User"); sub != "" {
			claims["sub"] = sub
			claims["tenant_id"] = "tenant-1"
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

type testServer struct {
	router  http.Handler
	store   *approval.MemoryStore
	metrics *observability.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "leave.yaml"), []byte(leaveYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	tmpls, err := template.NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	policy := access.NewStaticPolicyFrom(testPolicy())
	reg := prometheus.NewRegistry()
	metrics := observability.InitMetrics(reg)
	store := approval.NewMemoryStore()
	engine := approval.NewEngine(
		template.NewRegistry(tmpls),
		store,
		policy,
		access.NewResolver(policy, time.Minute, 100, metrics),
		approval.WithMetrics(metrics),
	)

	cfg := config.Defaults()
	cfg.Observability.Metrics.Enabled = true
	writeErr := ErrorWriter(nil)
	router := NewRouter(Dependencies{
		Config:       cfg,
		Engine:       engine,
		Authenticate: testAuth,
		Idempotency:  idempotency.NewMiddleware(idempotency.NewMemoryStore(), time.Hour, metrics, nil, writeErr),
		Metrics:      metrics,
		Gatherer:     reg,
	})
	return &testServer{router: router, store: store, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatal(err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

func expectErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) *model.ErrorEnvelope {
	t.Helper()
	expectStatus(t, rec, status)
	env := decodeError(t, rec)
	if env.Code != code {
		t.Fatalf("code = %s, want %s (%s)", env.Code, code, env.Message)
	}
	return env
}

func annualLeaveBody(submit bool) map[string]any {
	return map[string]any{
		"template_id": "leave",
		"form_data":   map[string]any{"leave_type": "annual", "days": 3},
		"submit":      submit,
	}
}

func (s *testServer) createPending(t *testing.T, user string) model.ApprovalRequest {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/requests", user, annualLeaveBody(true))
	expectStatus(t, rec, http.StatusCreated)
	return decodeRequest(t, rec)
}

func decodeRequest(t *testing.T, rec *httptest.ResponseRecorder) model.ApprovalRequest {
	t.Helper()
	var req model.ApprovalRequest
	decodeInto(t, rec, &req)
	return req
}

// --- Tests ---

func TestRequests_TwoLevelApprovalOverHTTP(t *testing.T) {
	s := newTestServer(t)

	req := s.createPending(t, "u-alice")
	if req.Status != model.StatusPending || req.CurrentLevel != 1 || req.CurrentApproverID != "u-mgr" {
		t.Fatalf("created = %+v", req)
	}
	if req.RequestNumber != "LV-"+time.Now().UTC().Format("2006")+"-00001" {
		t.Errorf("request number = %q", req.RequestNumber)
	}

	rec := s.do(t, http.MethodGet, "/api/requests/"+req.ID+"/approver", "u-alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var approver struct {
		Approver *model.User `json:"approver"`
	}
	decodeInto(t, rec, &approver)
	if approver.Approver == nil || approver.Approver.ID != "u-mgr" || approver.Approver.Name != "Manager" {
		t.Errorf("approver = %+v", approver.Approver)
	}

	rec = s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/actions", "u-mgr", map[string]string{"action": "approve"})
	expectStatus(t, rec, http.StatusOK)
	req = decodeRequest(t, rec)
	if req.CurrentLevel != 2 || req.CurrentApproverID != "u-hr" {
		t.Fatalf("after level 1 = %+v", req)
	}

	rec = s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/actions", "u-hr", map[string]string{"action": "APPROVE", "comment": "enjoy"})
	expectStatus(t, rec, http.StatusOK)
	req = decodeRequest(t, rec)
	if req.Status != model.StatusApproved || req.CompletedAt == nil {
		t.Fatalf("final = %+v", req)
	}

	rec = s.do(t, http.MethodGet, "/api/requests/"+req.ID, "u-alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var desc model.RequestDescriptor
	decodeInto(t, rec, &desc)
	if desc.TemplateName != "Leave Request" || desc.CurrentApprover != nil || len(desc.History) != 3 {
		t.Errorf("descriptor = %+v", desc)
	}
	if v, ok := desc.Answers.Get("days"); !ok || v.String() != "3" {
		t.Errorf("answers days = %v, %v", v, ok)
	}

	rec = s.do(t, http.MethodGet, "/api/requests/"+req.ID+"/actions", "u-alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var history struct {
		Items []model.ApprovalAction `json:"items"`
	}
	decodeInto(t, rec, &history)
	want := []model.ActionType{model.ActionSubmit, model.ActionApprove, model.ActionApprove}
	if len(history.Items) != len(want) {
		t.Fatalf("history = %+v", history.Items)
	}
	for i, a := range history.Items {
		if a.Type != want[i] {
			t.Errorf("history[%d] = %s, want %s", i, a.Type, want[i])
		}
	}

	// A finished request is no longer actionable.
	rec = s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/actions", "u-hr", map[string]string{"action": "approve"})
	expectErrorCode(t, rec, http.StatusConflict, model.ErrInvalidState)
}

func TestRequests_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	req := s.createPending(t, "u-alice")
	actions := "/api/requests/" + req.ID + "/actions"

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"unknown action", http.MethodPost, actions, "u-mgr", map[string]string{"action": "escalate"}, 400, model.ErrBadRequest},
		{"comment is not a decision", http.MethodPost, actions, "u-mgr", map[string]string{"action": "COMMENT"}, 400, model.ErrBadRequest},
		{"not the approver", http.MethodPost, actions, "u-hr", map[string]string{"action": "approve"}, 403, model.ErrForbidden},
		{"decline without comment", http.MethodPost, actions, "u-mgr", map[string]string{"action": "decline"}, 422, model.ErrValidationError},
		{"send back without comment", http.MethodPost, actions, "u-mgr", map[string]string{"action": "send-back", "comment": "  "}, 422, model.ErrValidationError},
		{"unknown request", http.MethodPost, "/api/requests/nope/actions", "u-mgr", map[string]string{"action": "approve"}, 404, model.ErrNotFound},
		{"malformed body", http.MethodPost, actions, "u-mgr", "{not json", 400, model.ErrBadRequest},
		{"unknown template", http.MethodPost, "/api/requests", "u-alice", map[string]any{"template_id": "nope"}, 404, model.ErrNotFound},
		{"missing template id", http.MethodPost, "/api/requests", "u-alice", map[string]any{}, 400, model.ErrBadRequest},
		{"approver cannot create", http.MethodPost, "/api/requests", "u-hr", annualLeaveBody(true), 403, model.ErrForbidden},
		{"stranger cannot read", http.MethodGet, "/api/requests/" + req.ID, "u-bob", nil, 403, model.ErrForbidden},
		{"replay needs audit", http.MethodGet, "/api/requests/" + req.ID + "/replay", "u-alice", nil, 403, model.ErrForbidden},
		{"unauthenticated", http.MethodGet, "/api/requests", "", nil, 401, model.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.user, tt.body)
			expectErrorCode(t, rec, tt.status, tt.code)
		})
	}

	// None of the rejected calls changed the request.
	stored, err := s.store.Get(t.Context(), "tenant-1", req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != model.StatusPending || stored.Version != req.Version {
		t.Errorf("stored = %+v", stored)
	}
}

func TestCreateRequest_ValidationDetails(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/requests", "u-alice", map[string]any{
		"template_id": "leave",
		"form_data":   map[string]any{"leave_type": "sick", "days": "three", "extra": true},
		"submit":      true,
	})
	env := expectErrorCode(t, rec, http.StatusUnprocessableEntity, model.ErrValidationError)

	got := map[string]string{}
	for _, d := range env.Details {
		got[d.Field] = d.Code
	}
	want := map[string]string{
		"days":                model.FieldInvalidType,
		"medical_certificate": model.FieldRequired,
		"extra":               model.FieldUnknown,
	}
	for field, code := range want {
		if got[field] != code {
			t.Errorf("details[%s] = %q, want %q (all: %v)", field, got[field], code, got)
		}
	}
	if s.store.Len() != 0 {
		t.Errorf("store has %d requests after a rejected create", s.store.Len())
	}
}

func TestDraftEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/requests", "u-alice", map[string]any{
		"template_id": "leave",
		"form_data":   map[string]any{"leave_type": "annual"},
	})
	expectStatus(t, rec, http.StatusCreated)
	var draft model.ApprovalRequest
	decodeInto(t, rec, &draft)
	if draft.Status != model.StatusDraft {
		t.Fatalf("status = %s, want DRAFT", draft.Status)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/requests/"+draft.ID {
		t.Errorf("Location = %q", loc)
	}

	// Incomplete drafts cannot be submitted.
	rec = s.do(t, http.MethodPost, "/api/requests/"+draft.ID+"/submit", "u-alice", nil)
	expectErrorCode(t, rec, http.StatusUnprocessableEntity, model.ErrValidationError)

	rec = s.do(t, http.MethodPatch, "/api/requests/"+draft.ID, "u-bob", map[string]any{
		"form_data": map[string]any{"leave_type": "annual", "days": 2},
	})
	expectErrorCode(t, rec, http.StatusForbidden, model.ErrForbidden)

	rec = s.do(t, http.MethodPatch, "/api/requests/"+draft.ID, "u-alice", map[string]any{
		"form_data": map[string]any{"leave_type": "annual", "days": 2},
	})
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodPost, "/api/requests/"+draft.ID+"/submit", "u-alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var submitted model.ApprovalRequest
	decodeInto(t, rec, &submitted)
	if submitted.Status != model.StatusPending || submitted.CurrentApproverID != "u-mgr" {
		t.Fatalf("submitted = %+v", submitted)
	}

	// Only drafts can be discarded.
	rec = s.do(t, http.MethodDelete, "/api/requests/"+draft.ID, "u-alice", nil)
	expectErrorCode(t, rec, http.StatusConflict, model.ErrInvalidState)

	rec = s.do(t, http.MethodPost, "/api/requests", "u-alice", map[string]any{"template_id": "leave"})
	expectStatus(t, rec, http.StatusCreated)
	var other model.ApprovalRequest
	decodeInto(t, rec, &other)
	rec = s.do(t, http.MethodDelete, "/api/requests/"+other.ID, "u-alice", nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = s.do(t, http.MethodGet, "/api/requests/"+other.ID, "u-alice", nil)
	expectErrorCode(t, rec, http.StatusNotFound, model.ErrNotFound)
}

func TestSendBackResubmitCancelComment(t *testing.T) {
	s := newTestServer(t)
	req := s.createPending(t, "u-alice")
	base := "/api/requests/" + req.ID

	rec := s.do(t, http.MethodPost, base+"/comments", "u-mgr", map[string]string{"comment": "how many days exactly?"})
	expectStatus(t, rec, http.StatusCreated)
	var comment model.ApprovalAction
	decodeInto(t, rec, &comment)
	if comment.Type != model.ActionComment || comment.ActorID != "u-mgr" {
		t.Errorf("comment = %+v", comment)
	}

	rec = s.do(t, http.MethodPost, base+"/comments", "u-bob", map[string]string{"comment": "hi"})
	expectErrorCode(t, rec, http.StatusForbidden, model.ErrForbidden)

	rec = s.do(t, http.MethodPost, base+"/actions", "u-mgr", map[string]string{"action": "SEND_BACK", "comment": "attach dates"})
	expectStatus(t, rec, http.StatusOK)
	req = decodeRequest(t, rec)
	if req.Status != model.StatusSentBack || req.CurrentApproverID != "" {
		t.Fatalf("after send back = %+v", req)
	}

	rec = s.do(t, http.MethodPost, base+"/resubmit", "u-mgr", nil)
	expectErrorCode(t, rec, http.StatusForbidden, model.ErrForbidden)

	rec = s.do(t, http.MethodPost, base+"/resubmit", "u-alice", map[string]any{
		"form_data": map[string]any{"leave_type": "annual", "days": 4},
	})
	expectStatus(t, rec, http.StatusOK)
	req = decodeRequest(t, rec)
	if req.Status != model.StatusPending || req.CurrentLevel != 1 {
		t.Fatalf("after resubmit = %+v", req)
	}

	rec = s.do(t, http.MethodPost, base+"/cancel", "u-alice", map[string]string{"comment": "plans changed"})
	expectStatus(t, rec, http.StatusOK)
	req = decodeRequest(t, rec)
	if req.Status != model.StatusCancelled {
		t.Fatalf("after cancel = %+v", req)
	}

	rec = s.do(t, http.MethodPost, base+"/cancel", "u-alice", nil)
	expectErrorCode(t, rec, http.StatusConflict, model.ErrInvalidState)
}

func TestListRequests_Filters(t *testing.T) {
	s := newTestServer(t)
	first := s.createPending(t, "u-alice")
	s.createPending(t, "u-alice")
	s.createPending(t, "u-bob")
	s.do(t, http.MethodPost, "/api/requests/"+first.ID+"/actions", "u-mgr", map[string]string{"action": "approve"})

	list := func(user, query string) model.RequestPage {
		t.Helper()
		rec := s.do(t, http.MethodGet, "/api/requests"+query, user, nil)
		expectStatus(t, rec, http.StatusOK)
		var page model.RequestPage
		decodeInto(t, rec, &page)
		return page
	}

	if p := list("u-alice", ""); p.Total != 2 {
		t.Errorf("alice default listing total = %d, want 2", p.Total)
	}
	if p := list("u-alice", "?mine=true&page_size=1"); p.Total != 2 || len(p.Items) != 1 || p.PageSize != 1 {
		t.Errorf("alice page = %+v", p)
	}
	if p := list("u-mgr", "?assigned=me"); p.Total != 2 {
		t.Errorf("manager queue total = %d, want 2", p.Total)
	}
	if p := list("u-hr", "?assigned=me"); p.Total != 1 || p.Items[0].ID != first.ID {
		t.Errorf("hr queue = %+v", p)
	}
	if p := list("u-audit", "?status=pending&template_id=leave"); p.Total != 3 {
		t.Errorf("auditor pending total = %d, want 3", p.Total)
	}
	if p := list("u-audit", "?overdue=true"); p.Total != 0 {
		t.Errorf("overdue total = %d, want 0", p.Total)
	}

	rec := s.do(t, http.MethodGet, "/api/requests?requester_id=u-bob", "u-alice", nil)
	expectErrorCode(t, rec, http.StatusForbidden, model.ErrForbidden)
	rec = s.do(t, http.MethodGet, "/api/requests?page=0", "u-alice", nil)
	expectErrorCode(t, rec, http.StatusBadRequest, model.ErrBadRequest)
	rec = s.do(t, http.MethodGet, "/api/requests?status=LIMBO", "u-audit", nil)
	expectErrorCode(t, rec, http.StatusBadRequest, model.ErrBadRequest)
	rec = s.do(t, http.MethodGet, "/api/requests?overdue=maybe", "u-audit", nil)
	expectErrorCode(t, rec, http.StatusBadRequest, model.ErrBadRequest)
}

func TestTemplatesEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/templates", "u-alice", nil)
	expectStatus(t, rec, http.StatusOK)
	var list struct {
		Items []model.TemplateSummary `json:"items"`
	}
	decodeInto(t, rec, &list)
	if len(list.Items) != 1 || list.Items[0].ID != "leave" || list.Items[0].Levels != 2 {
		t.Errorf("templates = %+v", list.Items)
	}

	rec = s.do(t, http.MethodGet, "/api/templates/leave", "u-alice", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = s.do(t, http.MethodGet, "/api/templates/missing", "u-alice", nil)
	expectErrorCode(t, rec, http.StatusNotFound, model.ErrNotFound)

	rec = s.do(t, http.MethodGet, "/api/templates", "u-hr", nil)
	expectErrorCode(t, rec, http.StatusForbidden, model.ErrForbidden)

	rec = s.do(t, http.MethodPost, "/api/templates/leave/visibility", "u-alice", map[string]any{
		"form_data": map[string]any{"leave_type": "sick"},
	})
	expectStatus(t, rec, http.StatusOK)
	var vis approval.Visibility
	decodeInto(t, rec, &vis)
	if len(vis.Visible) != 3 {
		t.Errorf("visible = %v, want all three fields", vis.Visible)
	}
}

func TestReplayEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := s.createPending(t, "u-alice")
	s.do(t, http.MethodPost, "/api/requests/"+req.ID+"/actions", "u-mgr", map[string]string{"action": "approve"})

	rec := s.do(t, http.MethodGet, "/api/requests/"+req.ID+"/replay", "u-audit", nil)
	expectStatus(t, rec, http.StatusOK)
	var report approval.ReplayReport
	decodeInto(t, rec, &report)
	if !report.Consistent || report.Actions != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestIdempotentCreate(t *testing.T) {
	s := newTestServer(t)
	body := annualLeaveBody(true)

	first := s.do(t, http.MethodPost, "/api/requests", "u-alice", body, idempotency.HeaderKey, "create-1")
	expectStatus(t, first, http.StatusCreated)
	second := s.do(t, http.MethodPost, "/api/requests", "u-alice", body, idempotency.HeaderKey, "create-1")
	expectStatus(t, second, http.StatusCreated)

	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Error("second response is not marked as a replay")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if s.store.Len() != 1 {
		t.Errorf("store has %d requests, want 1", s.store.Len())
	}

	body["form_data"] = map[string]any{"leave_type": "annual", "days": 9}
	rec := s.do(t, http.MethodPost, "/api/requests", "u-alice", body, idempotency.HeaderKey, "create-1")
	expectErrorCode(t, rec, http.StatusConflict, model.ErrConflict)

	// The same key from another caller is a different operation.
	rec = s.do(t, http.MethodPost, "/api/requests", "u-bob", annualLeaveBody(true), idempotency.HeaderKey, "create-1")
	expectStatus(t, rec, http.StatusCreated)
	if rec.Header().Get(idempotency.ReplayHeader) != "" {
		t.Error("another caller's request was replayed")
	}
}
