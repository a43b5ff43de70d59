package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sahidur/ams-sub001/model"
)

type actionBody struct {
	Action  string `json:"action"`
	Comment string `json:"comment"`
}

// ParseDecision accepts decision names in either case, with '-' or '_'
// separators ("approve", "SEND_BACK", "send-back").
func ParseDecision(s string) model.ActionType {
	return model.ActionType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
}

func (h *handlers) applyAction(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body actionBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.engine.ApplyAction(r.Context(), rctx, chi.URLParam(r, "requestId"), ParseDecision(body.Action), body.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h *handlers) resubmitRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body changesBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.engine.Resubmit(r.Context(), rctx, chi.URLParam(r, "requestId"), body.changes())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h *handlers) cancelRequest(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	req, err := h.engine.Cancel(r.Context(), rctx, chi.URLParam(r, "requestId"), body.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, req)
}

func (h *handlers) addComment(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body commentBody
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	action, err := h.engine.Comment(r.Context(), rctx, chi.URLParam(r, "requestId"), body.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, action)
}
