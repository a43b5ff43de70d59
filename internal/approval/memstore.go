package approval

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sahidur/ams-sub001/model"
)

// MemoryStore is an in-memory Store for tests and single-instance
// deployments. It applies the same compare-and-swap predicate as the
// PostgreSQL store under a mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]model.ApprovalRequest  // key: request ID
	actions  map[string][]model.ApprovalAction // key: request ID
}

// NewMemoryStore creates a new in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]model.ApprovalRequest),
		actions:  make(map[string][]model.ApprovalAction),
	}
}

// Create persists a new request and its initial actions.
func (s *MemoryStore) Create(_ context.Context, req model.ApprovalRequest, actions ...model.ApprovalAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return model.NewConflictError(fmt.Sprintf("request %q already exists", req.ID))
	}
	for _, other := range s.requests {
		if other.TenantID == req.TenantID && other.RequestNumber == req.RequestNumber {
			return model.NewConflictError(fmt.Sprintf("request number %q already in use", req.RequestNumber))
		}
	}

	s.requests[req.ID] = req.Clone()
	if len(actions) > 0 {
		s.actions[req.ID] = slices.Clone(actions)
	}
	return nil
}

// Get retrieves a request by ID, scoped to tenant.
func (s *MemoryStore) Get(_ context.Context, tenantID, requestID string) (model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[requestID]
	if !exists || req.TenantID != tenantID {
		return model.ApprovalRequest{}, notFound(requestID)
	}
	return req.Clone(), nil
}

// Transition applies the compare-and-swap on version and status.
func (s *MemoryStore) Transition(_ context.Context, next model.ApprovalRequest, expected model.RequestStatus, action *model.ApprovalAction) (model.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.requests[next.ID]
	if !exists || existing.TenantID != next.TenantID {
		return model.ApprovalRequest{}, notFound(next.ID)
	}
	if existing.Version != next.Version || existing.Status != expected {
		return model.ApprovalRequest{}, model.NewConflictError(
			fmt.Sprintf("request %q was modified concurrently (expected version %d, got %d)", next.ID, next.Version, existing.Version),
		)
	}

	next = next.Clone()
	next.Version++
	s.requests[next.ID] = next
	if action != nil {
		s.actions[next.ID] = append(s.actions[next.ID], *action)
	}
	return next.Clone(), nil
}

// Actions returns the action log of a request, oldest first.
func (s *MemoryStore) Actions(_ context.Context, tenantID, requestID string) ([]model.ApprovalAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.requests[requestID]
	if !exists || req.TenantID != tenantID {
		return nil, notFound(requestID)
	}
	return slices.Clone(s.actions[requestID]), nil
}

// List returns one page of matching requests, newest first.
func (s *MemoryStore) List(_ context.Context, filters model.RequestFilters) ([]model.ApprovalRequest, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ApprovalRequest
	for _, req := range s.requests {
		if matchesFilters(req, filters) {
			result = append(result, req.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	total := len(result)
	if filters.PageSize > 0 {
		offset := (max(filters.Page, 1) - 1) * filters.PageSize
		if offset >= len(result) {
			return []model.ApprovalRequest{}, total, nil
		}
		result = result[offset:]
		if filters.PageSize < len(result) {
			result = result[:filters.PageSize]
		}
	}
	return result, total, nil
}

// FindOverdue returns PENDING requests past their deadline.
func (s *MemoryStore) FindOverdue(_ context.Context, now time.Time) ([]model.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.ApprovalRequest
	for _, req := range s.requests {
		if model.IsOverdue(req, now) {
			result = append(result, req.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SLADeadline.Before(*result[j].SLADeadline)
	})
	return result, nil
}

// Delete removes a DRAFT request and its (empty) log.
func (s *MemoryStore) Delete(_ context.Context, tenantID, requestID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[requestID]
	if !exists || req.TenantID != tenantID {
		return notFound(requestID)
	}
	if req.Version != version || req.Status != model.StatusDraft {
		return model.NewConflictError(fmt.Sprintf("request %q was modified concurrently", requestID))
	}

	delete(s.requests, requestID)
	delete(s.actions, requestID)
	return nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the total number of requests. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// matchesFilters applies every non-zero filter to req.
func matchesFilters(req model.ApprovalRequest, f model.RequestFilters) bool {
	if f.TenantID != "" && req.TenantID != f.TenantID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, req.Status) {
		return false
	}
	if f.TemplateID != "" && req.TemplateID != f.TemplateID {
		return false
	}
	if f.RequesterID != "" && req.RequesterID != f.RequesterID {
		return false
	}
	if f.ApproverID != "" && req.CurrentApproverID != f.ApproverID {
		return false
	}
	if f.OverdueAt != nil && !model.IsOverdue(req, *f.OverdueAt) {
		return false
	}
	return true
}

func notFound(requestID string) error {
	return model.NewNotFoundError(fmt.Sprintf("request %q not found", requestID))
}
