package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sahidur/ams-sub001/model"
)

func (h *handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	items, err := h.engine.Templates(rctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	t, err := h.engine.Template(rctx, chi.URLParam(r, "templateId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

func (h *handlers) templateVisibility(w http.ResponseWriter, r *http.Request) {
	rctx, ok := h.requestContext(w, r)
	if !ok {
		return
	}
	var body struct {
		FormData model.FormData `json:"form_data"`
	}
	if err := decodeBody(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := h.engine.VisibleFields(r.Context(), rctx, chi.URLParam(r, "templateId"), body.FormData)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, v)
}
