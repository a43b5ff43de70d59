package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sahidur/ams-sub001/internal/approval"
	"github.com/sahidur/ams-sub001/model"
)

// handlers binds the approval engine to HTTP.
type handlers struct {
	engine     *approval.Engine
	writeError func(http.ResponseWriter, *http.Request, error)
}

func (h *handlers) requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		h.writeError(w, r, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil, errors.Is(err, io.EOF):
		return nil
	case errors.As(err, &tooLarge):
		return model.NewBadRequestError("request body too large")
	default:
		return model.NewBadRequestError("invalid JSON body")
	}
}

type createRequestBody struct {
	TemplateID  string             `json:"template_id"`
	Scope       model.RequestScope `json:"scope"`
	FormData    model.FormData     `json:"form_data"`
	Attachments []model.Attachment `json:"attachments"`
	Submit      bool               `json:"submit"`
}

type changesBody struct {
	FormData    *model.FormData     `json:"form_data"`
	Attachments *[]model.Attachment `json:"attachments"`
	Scope       *model.RequestScope `json:"scope"`
}

func (b changesBody) changes() approval.Changes {
	return approval.Changes{FormData: b.FormData, Attachments: b.Attachments, Scope: b.Scope}
}

type commentBody struct {
	Comment string `json:"comment"`
}

func (h *handlers) createRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if body.TemplateID == "" {
		h.writeError(w, r, model.NewBadRequestError("template_id is required"))
		return
	}
	req, err := h.engine.CreateRequest(r.Context(), rctx, approval.CreateInput{
		TemplateID:  body.TemplateID,
		Scope:       body.Scope,
		FormData:    body.FormData,
		Attachments: body.Attachments,
		SubmitNow:   body.Submit,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/requests/"+req.ID)
	WriteJSON(w, http.StatusCreated, req)
}

func (h *handlers) listRequests(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	q, err := parseListQuery(r.URL.Query(), rctx.SubjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.engine.List(r.Context(), rctx, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// parseListQuery reads listing filters. "assigned=me" and "mine=true" are
// shorthands for the caller's own approver and requester IDs.
func parseListQuery(values url.Values, self string) (approval.ListQuery, error) {
	q := approval.ListQuery{
		TemplateID:  values.Get("template_id"),
		RequesterID: values.Get("requester_id"),
		ApproverID:  values.Get("approver_id"),
	}
	for _, raw := range values["status"] {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				q.Statuses = append(q.Statuses, model.RequestStatus(strings.ToUpper(s)))
			}
		}
	}
	if values.Get("assigned") == "me" {
		q.ApproverID = self
	}

	flags := map[string]*bool{"overdue": &q.Overdue}
	var mine bool
	flags["mine"] = &mine
	for name, dst := range flags {
		if raw := values.Get(name); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return q, model.NewBadRequestError(fmt.Sprintf("%s must be a boolean", name))
			}
			*dst = v
		}
	}
	if mine {
		q.RequesterID = self
	}

	ints := map[string]*int{"page": &q.Page, "page_size": &q.PageSize}
	for name, dst := range ints {
		if raw := values.Get(name); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				return q, model.NewBadRequestError(fmt.Sprintf("%s must be a positive integer", name))
			}
			*dst = v
		}
	}
	return q, nil
}

func (h *handlers) getRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	desc, err := h.engine.Get(r.Context(), rctx, chi.URLParam(r, "requestId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, desc)
}

func (h *handlers) updateRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body changesBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.engine.UpdateDraft(r.Context(), rctx, chi.URLParam(r, "requestId"), body.changes())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h *handlers) deleteRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	if err := h.engine.DiscardDraft(r.Context(), rctx, chi.URLParam(r, "requestId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) submitRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	req, err := h.engine.Submit(r.Context(), rctx, chi.URLParam(r, "requestId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h *handlers) requestHistory(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	history, err := h.engine.History(r.Context(), rctx, chi.URLParam(r, "requestId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if history == nil {
		history = []model.ApprovalAction{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": history})
}

func (h *handlers) currentApprover(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	u, err := h.engine.CurrentApprover(r.Context(), rctx, chi.URLParam(r, "requestId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"approver": u})
}

func (h *handlers) replayRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	report, err := h.engine.Replay(r.Context(), rctx, chi.URLParam(r, "requestId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
