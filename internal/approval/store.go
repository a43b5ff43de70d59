package approval

import (
	"context"
	"time"

	"github.com/sahidur/ams-sub001/model"
)

// Store persists approval requests and their action logs.
type Store interface {
	// Create persists a new request together with its initial actions in
	// one unit of work.
	Create(ctx context.Context, req model.ApprovalRequest, actions ...model.ApprovalAction) error

	// Get retrieves a request by ID, scoped to a tenant. Returns NOT_FOUND if
	// the request doesn't exist or belongs to a different tenant.
	Get(ctx context.Context, tenantID, requestID string) (model.ApprovalRequest, error)

	// Transition replaces the stored request with next when the stored copy
	// still has next.Version and the expected status, bumps the version, and
	// appends action (if non-nil) in the same unit of work. Returns CONFLICT
	// when the compare-and-swap loses.
	Transition(ctx context.Context, next model.ApprovalRequest, expected model.RequestStatus, action *model.ApprovalAction) (model.ApprovalRequest, error)

	// Actions returns the action log of a request, oldest first.
	Actions(ctx context.Context, tenantID, requestID string) ([]model.ApprovalAction, error)

	// List returns one page of requests matching filters, newest first, and
	// the total number of matches.
	List(ctx context.Context, filters model.RequestFilters) ([]model.ApprovalRequest, int, error)

	// FindOverdue returns PENDING requests of every tenant whose SLA deadline
	// is before now, earliest deadline first.
	FindOverdue(ctx context.Context, now time.Time) ([]model.ApprovalRequest, error)

	// Delete removes a DRAFT request at the given version.
	Delete(ctx context.Context, tenantID, requestID string, version int) error
}
