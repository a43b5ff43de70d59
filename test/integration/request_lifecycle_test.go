package integration

import (
	"net/http"
	"slices"
	"testing"

	"github.com/sahidur/ams-sub001/internal/notify"
	"github.com/sahidur/ams-sub001/model"
)

func TestLifecycle_TwoLevelApproval(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	mgr := h.GenerateToken(ManagerClaims())
	hr := h.GenerateToken(HRClaims())

	req := h.CreateLeave(t, alice, true)
	if req.Status != model.StatusPending || req.CurrentLevel != 1 || req.TotalLevels != 2 {
		t.Fatalf("created = %s level %d/%d", req.Status, req.CurrentLevel, req.TotalLevels)
	}
	if req.RequestNumber != "LV-2026-00001" {
		t.Errorf("request number = %q", req.RequestNumber)
	}
	if req.CurrentApproverID != "u-mgr" {
		t.Errorf("current approver = %q, want u-mgr", req.CurrentApproverID)
	}

	// The manager sees it in their queue.
	var queue model.RequestPage
	h.AssertJSON(t, h.GET("/api/requests?assigned=me&status=PENDING", mgr), http.StatusOK, &queue)
	if queue.Total != 1 || queue.Items[0].ID != req.ID {
		t.Fatalf("manager queue = %s", FormatJSON(queue))
	}

	var after model.ApprovalRequest
	h.AssertJSON(t, h.Act(req.ID, "approve", "", mgr), http.StatusOK, &after)
	if after.Status != model.StatusPending || after.CurrentLevel != 2 || after.CurrentApproverID != "u-hr" {
		t.Fatalf("after level 1 = %s level %d approver %q", after.Status, after.CurrentLevel, after.CurrentApproverID)
	}

	var approver struct {
		Approver *model.User `json:"approver"`
	}
	h.AssertJSON(t, h.GET("/api/requests/"+req.ID+"/approver", alice), http.StatusOK, &approver)
	if approver.Approver == nil || approver.Approver.Name != "Hasan HR" {
		t.Errorf("approver = %+v", approver.Approver)
	}

	after = model.ApprovalRequest{}
	h.AssertJSON(t, h.Act(req.ID, "APPROVE", "enjoy", hr), http.StatusOK, &after)
	if after.Status != model.StatusApproved || after.CompletedAt == nil {
		t.Fatalf("final = %s completed %v", after.Status, after.CompletedAt)
	}
	if after.CurrentApproverID != "" || after.SLADeadline != nil {
		t.Errorf("terminal request kept approver %q deadline %v", after.CurrentApproverID, after.SLADeadline)
	}

	var desc model.RequestDescriptor
	h.AssertJSON(t, h.GET("/api/requests/"+req.ID, alice), http.StatusOK, &desc)
	if len(desc.History) != 3 {
		t.Fatalf("history = %s", FormatJSON(desc.History))
	}
	wantActions := []model.ActionType{model.ActionSubmit, model.ActionApprove, model.ActionApprove}
	for i, a := range desc.History {
		if a.Type != wantActions[i] {
			t.Errorf("history[%d] = %s, want %s", i, a.Type, wantActions[i])
		}
	}
	if desc.CurrentApprover != nil {
		t.Errorf("approved request still has approver %+v", desc.CurrentApprover)
	}

	wantEvents := []notify.EventType{notify.EventSubmitted, notify.EventAdvanced, notify.EventApproved}
	if got := h.Events.Types(req.ID); !slices.Equal(got, wantEvents) {
		t.Errorf("events = %v, want %v", got, wantEvents)
	}

	h.AssertError(t, h.Act(req.ID, "approve", "", hr), http.StatusConflict, model.ErrInvalidState)
}

func TestLifecycle_DraftEditSubmit(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())

	draft := h.CreateLeave(t, alice, false)
	if draft.Status != model.StatusDraft || draft.RequestNumber == "" {
		t.Fatalf("draft = %s %q", draft.Status, draft.RequestNumber)
	}

	// Drafts may be incomplete.
	var edited model.ApprovalRequest
	h.AssertJSON(t, h.PATCH("/api/requests/"+draft.ID, map[string]any{
		"form_data": map[string]any{"leave_type": "sick", "start_date": "2026-03-05", "days": 2},
	}, alice), http.StatusOK, &edited)

	// Submitting enforces required fields, including dependent ones.
	verr := h.AssertError(t, h.POST("/api/requests/"+draft.ID+"/submit", nil, alice),
		http.StatusUnprocessableEntity, model.ErrValidationError)
	if len(verr.Details) != 1 || verr.Details[0].Field != "medical_certificate" {
		t.Errorf("details = %+v", verr.Details)
	}

	h.AssertStatus(t, h.PATCH("/api/requests/"+draft.ID, map[string]any{
		"form_data": map[string]any{
			"leave_type":          "sick",
			"start_date":          "2026-03-05",
			"days":                2,
			"medical_certificate": "att-123",
		},
	}, alice), http.StatusOK)

	var submitted model.ApprovalRequest
	h.AssertJSON(t, h.POST("/api/requests/"+draft.ID+"/submit", nil, alice), http.StatusOK, &submitted)
	if submitted.Status != model.StatusPending || submitted.CurrentLevel != 1 {
		t.Fatalf("submitted = %s level %d", submitted.Status, submitted.CurrentLevel)
	}
	if submitted.RequestNumber != draft.RequestNumber {
		t.Errorf("number changed on submit: %q -> %q", draft.RequestNumber, submitted.RequestNumber)
	}

	h.AssertError(t, h.PATCH("/api/requests/"+draft.ID, map[string]any{"form_data": map[string]any{}}, alice),
		http.StatusConflict, model.ErrInvalidState)
}

func TestLifecycle_DiscardDraft(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	bob := h.GenerateToken(BobClaims())

	draft := h.CreateLeave(t, alice, false)
	h.AssertError(t, h.DELETE("/api/requests/"+draft.ID, bob), http.StatusForbidden, model.ErrForbidden)
	h.AssertStatus(t, h.DELETE("/api/requests/"+draft.ID, alice), http.StatusNoContent)
	h.AssertError(t, h.GET("/api/requests/"+draft.ID, alice), http.StatusNotFound, model.ErrNotFound)

	pending := h.CreateLeave(t, alice, true)
	h.AssertError(t, h.DELETE("/api/requests/"+pending.ID, alice), http.StatusConflict, model.ErrInvalidState)
}

func TestLifecycle_SendBackResubmitDecline(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	mgr := h.GenerateToken(ManagerClaims())

	req := h.CreateLeave(t, alice, true)

	h.AssertError(t, h.Act(req.ID, "send_back", "  ", mgr), http.StatusUnprocessableEntity, model.ErrValidationError)

	var sentBack model.ApprovalRequest
	h.AssertJSON(t, h.Act(req.ID, "send-back", "please shorten to 3 days", mgr), http.StatusOK, &sentBack)
	if sentBack.Status != model.StatusSentBack || sentBack.CurrentApproverID != "" {
		t.Fatalf("sent back = %s approver %q", sentBack.Status, sentBack.CurrentApproverID)
	}
	if evt, ok := h.Events.Last(notify.EventSentBack); !ok || evt.RecipientID != "u-alice" {
		t.Errorf("sent back event = %+v", evt)
	}

	var resubmitted model.ApprovalRequest
	h.AssertJSON(t, h.POST("/api/requests/"+req.ID+"/resubmit", map[string]any{
		"form_data": map[string]any{"leave_type": "annual", "start_date": "2026-03-16", "days": 3},
	}, alice), http.StatusOK, &resubmitted)
	if resubmitted.Status != model.StatusPending || resubmitted.CurrentLevel != 1 {
		t.Fatalf("resubmitted = %s level %d", resubmitted.Status, resubmitted.CurrentLevel)
	}
	if v, _ := resubmitted.FormData.Get("days"); !v.Equal(model.Number(3)) {
		t.Errorf("days = %v, want 3", v)
	}

	var declined model.ApprovalRequest
	h.AssertJSON(t, h.Act(req.ID, "decline", "peak season", mgr), http.StatusOK, &declined)
	if declined.Status != model.StatusDeclined {
		t.Fatalf("declined = %s", declined.Status)
	}

	h.AssertError(t, h.POST("/api/requests/"+req.ID+"/cancel", map[string]any{}, alice),
		http.StatusConflict, model.ErrInvalidState)
	h.AssertError(t, h.POST("/api/requests/"+req.ID+"/resubmit", map[string]any{}, alice),
		http.StatusConflict, model.ErrInvalidState)

	var history struct {
		Items []model.ApprovalAction `json:"items"`
	}
	h.AssertJSON(t, h.GET("/api/requests/"+req.ID+"/actions", alice), http.StatusOK, &history)
	var got []model.ActionType
	for _, a := range history.Items {
		got = append(got, a.Type)
	}
	want := []model.ActionType{model.ActionSubmit, model.ActionSendBack, model.ActionSubmit, model.ActionDecline}
	if !slices.Equal(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
}

func TestLifecycle_CancelAndComment(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	bob := h.GenerateToken(BobClaims())
	mgr := h.GenerateToken(ManagerClaims())

	req := h.CreateLeave(t, alice, true)

	h.AssertError(t, h.POST("/api/requests/"+req.ID+"/comments", map[string]any{"comment": "me too"}, bob),
		http.StatusForbidden, model.ErrForbidden)

	var comment model.ApprovalAction
	h.AssertJSON(t, h.POST("/api/requests/"+req.ID+"/comments",
		map[string]any{"comment": "who covers your shifts?"}, mgr), http.StatusCreated, &comment)
	if comment.Type != model.ActionComment || comment.Level != 1 || comment.ActorID != "u-mgr" {
		t.Errorf("comment = %+v", comment)
	}

	h.AssertError(t, h.POST("/api/requests/"+req.ID+"/cancel", map[string]any{}, mgr),
		http.StatusForbidden, model.ErrForbidden)

	var cancelled model.ApprovalRequest
	h.AssertJSON(t, h.POST("/api/requests/"+req.ID+"/cancel",
		map[string]any{"comment": "plans changed"}, alice), http.StatusOK, &cancelled)
	if cancelled.Status != model.StatusCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("cancelled = %s", cancelled.Status)
	}

	h.AssertError(t, h.Act(req.ID, "approve", "", mgr), http.StatusConflict, model.ErrInvalidState)
}

func TestLifecycle_FixedApproverTemplate(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	finance := h.GenerateToken(FinanceClaims())

	var req model.ApprovalRequest
	h.AssertJSON(t, h.POST("/api/requests", map[string]any{
		"template_id": "purchase",
		"form_data": map[string]any{
			"item":       "Laptop",
			"amount":     1450.5,
			"categories": []string{"hardware"},
		},
		"submit": true,
	}, alice), http.StatusCreated, &req)

	if req.RequestNumber != "PR-2026-00001" || req.CurrentApproverID != "u-finance" || req.TotalLevels != 1 {
		t.Fatalf("purchase = %s", FormatJSON(req))
	}

	var done model.ApprovalRequest
	h.AssertJSON(t, h.Act(req.ID, "approve", "", finance), http.StatusOK, &done)
	if done.Status != model.StatusApproved {
		t.Errorf("status = %s", done.Status)
	}
}

func TestLifecycle_TemplatesAndVisibility(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())

	var list struct {
		Items []model.TemplateSummary `json:"items"`
	}
	h.AssertJSON(t, h.GET("/api/templates", alice), http.StatusOK, &list)
	var ids []string
	for _, s := range list.Items {
		ids = append(ids, s.ID)
	}
	if !slices.Equal(ids, []string{"leave", "purchase"}) {
		t.Errorf("active templates = %v", ids)
	}

	h.AssertError(t, h.GET("/api/templates/legacy-travel", alice), http.StatusNotFound, model.ErrNotFound)
	h.AssertError(t, h.POST("/api/requests", map[string]any{"template_id": "legacy-travel"}, alice),
		http.StatusNotFound, model.ErrNotFound)

	var vis struct {
		Visible []string `json:"visible"`
	}
	h.AssertJSON(t, h.POST("/api/templates/leave/visibility",
		map[string]any{"form_data": map[string]any{"leave_type": "sick"}}, alice), http.StatusOK, &vis)
	if !slices.Contains(vis.Visible, "medical_certificate") {
		t.Errorf("visible = %v, want medical_certificate", vis.Visible)
	}

	vis.Visible = nil
	h.AssertJSON(t, h.POST("/api/templates/leave/visibility",
		map[string]any{"form_data": map[string]any{"leave_type": "annual"}}, alice), http.StatusOK, &vis)
	if slices.Contains(vis.Visible, "medical_certificate") {
		t.Errorf("visible = %v, certificate should be hidden", vis.Visible)
	}
}

func TestLifecycle_AuditorReplay(t *testing.T) {
	h := NewTestHarness(t)
	alice := h.GenerateToken(AliceClaims())
	mgr := h.GenerateToken(ManagerClaims())
	auditor := h.GenerateToken(AuditorClaims())

	req := h.CreateLeave(t, alice, true)
	h.AssertStatus(t, h.Act(req.ID, "approve", "", mgr), http.StatusOK)

	var report struct {
		Consistent bool `json:"consistent"`
	}
	h.AssertJSON(t, h.GET("/api/requests/"+req.ID+"/replay", auditor), http.StatusOK, &report)
	if !report.Consistent {
		t.Error("replay of an untouched request is inconsistent")
	}
	h.AssertError(t, h.GET("/api/requests/"+req.ID+"/replay", alice), http.StatusForbidden, model.ErrForbidden)

	// Auditors list every request in the tenant.
	h.CreateLeave(t, h.GenerateToken(BobClaims()), true)
	var page model.RequestPage
	h.AssertJSON(t, h.GET("/api/requests", auditor), http.StatusOK, &page)
	if page.Total != 2 {
		t.Errorf("auditor sees %d requests, want 2", page.Total)
	}
}
