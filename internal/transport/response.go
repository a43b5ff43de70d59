// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the approvals API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sahidur/ams-sub001/internal/observability"
	"github.com/sahidur/ams-sub001/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:          http.StatusBadRequest,
	model.ErrUnauthorized:        http.StatusUnauthorized,
	model.ErrForbidden:           http.StatusForbidden,
	model.ErrNotFound:            http.StatusNotFound,
	model.ErrConflict:            http.StatusConflict,
	model.ErrValidationError:     http.StatusUnprocessableEntity,
	model.ErrInvalidState:        http.StatusConflict,
	model.ErrApproverUnavailable: http.StatusUnprocessableEntity,
	model.ErrInternalError:       http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status for an envelope code.
func StatusForCode(code string) int {
	if status, ok := statusForCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// WriteError writes an ErrorEnvelope as a JSON response with the correct
// HTTP status code. If err does not carry an *ErrorEnvelope, a generic 500
// is returned.
func WriteError(w http.ResponseWriter, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}
	WriteJSON(w, StatusForCode(ee.Code), errorResponse{Error: ee})
}

// ErrorWriter logs failed requests and renders their envelopes with the
// current trace ID attached. Internal errors are logged with their cause and
// rendered without it.
func ErrorWriter(logger *zap.Logger) func(http.ResponseWriter, *http.Request, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		var ee *model.ErrorEnvelope
		log := observability.RequestLogger(r.Context(), logger)
		if !errors.As(err, &ee) {
			log.Error("request failed", zap.Error(err), zap.String("path", r.URL.Path))
			ee = model.NewInternalError()
		} else {
			copied := *ee
			ee = &copied
			if StatusForCode(ee.Code) >= http.StatusInternalServerError {
				log.Error("request failed", zap.String("code", ee.Code), zap.String("message", ee.Message))
			} else {
				log.Warn("request rejected", zap.String("code", ee.Code), zap.String("message", ee.Message))
			}
		}
		if ee.TraceID == "" {
			ee.TraceID = observability.TraceIDFromContext(r.Context())
		}
		WriteJSON(w, StatusForCode(ee.Code), errorResponse{Error: ee})
	}
}
