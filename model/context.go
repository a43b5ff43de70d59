package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// RequestContext identifies the caller of an operation: who they are, which
// tenant they act in, and the ids used to correlate logs and traces. It is
// built once by the auth middleware (or by the MCP server for its fixed
// operator) and treated as read-only afterwards.
type RequestContext struct {
	SubjectID     string
	Name          string
	Email         string
	TenantID      string
	Roles         []string
	Claims        map[string]any
	CorrelationID string
	TraceID       string
	SpanID        string
}

// Validate checks that SubjectID and TenantID are present.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if rc.TenantID == "" {
		errs = append(errs, fmt.Errorf("TenantID is required"))
	}
	return errors.Join(errs...)
}

// HasRole reports whether the caller holds role.
func (rc *RequestContext) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

// Claim returns the raw token claim under key, or nil.
func (rc *RequestContext) Claim(key string) any {
	if rc.Claims == nil {
		return nil
	}
	return rc.Claims[key]
}

// User returns the caller as a directory user.
func (rc *RequestContext) User() User {
	return User{ID: rc.SubjectID, Name: rc.Name, Email: rc.Email}
}

type contextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext stored in ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext is RequestContextFrom for code that only runs behind the
// auth middleware. It panics when no RequestContext is present.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
