package approval

import (
	"context"
	"fmt"

	"github.com/sahidur/ams-sub001/internal/template"
	"github.com/sahidur/ams-sub001/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListQuery narrows a request listing. Zero-valued fields do not filter.
type ListQuery struct {
	Statuses    []model.RequestStatus
	TemplateID  string
	RequesterID string
	ApproverID  string
	Overdue     bool
	Page        int
	PageSize    int
}

// ReplayReport compares a stored request with the state rebuilt from its
// action log.
type ReplayReport struct {
	RequestID     string `json:"request_id"`
	Stored        State  `json:"stored"`
	Reconstructed State  `json:"reconstructed"`
	Consistent    bool   `json:"consistent"`
	Actions       int    `json:"actions"`
	Error         string `json:"error,omitempty"`
}

// Get returns the descriptor of a request: the request itself, the visible
// answers, the resolved current approver, the overdue flag and the history.
func (e *Engine) Get(ctx context.Context, rctx *model.RequestContext, requestID string) (model.RequestDescriptor, error) {
	return observe(e, ctx, "get_request", requestAttrs(rctx, requestID),
		func(ctx context.Context) (model.RequestDescriptor, error) {
			req, history, err := e.loadReadable(ctx, rctx, requestID)
			if err != nil {
				return model.RequestDescriptor{}, err
			}

			desc := model.RequestDescriptor{
				Request: req,
				Answers: req.FormData,
				Overdue: model.IsOverdue(req, e.now()),
				History: history,
			}
			if t, ok := e.templates.Get(req.TemplateID); ok {
				desc.TemplateName = t.DisplayName
				desc.Answers = template.Answers(t, req.FormData)
			}
			if desc.History == nil {
				desc.History = []model.ApprovalAction{}
			}
			approver, err := e.ResolveCurrentApprover(ctx, req)
			if err != nil {
				return model.RequestDescriptor{}, err
			}
			desc.CurrentApprover = approver
			return desc, nil
		})
}

// History returns the action log of a request, oldest first.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, requestID string) ([]model.ApprovalAction, error) {
	return observe(e, ctx, "history", requestAttrs(rctx, requestID),
		func(ctx context.Context) ([]model.ApprovalAction, error) {
			_, history, err := e.loadReadable(ctx, rctx, requestID)
			return history, err
		})
}

// CurrentApprover returns the resolved approver of a readable request, or
// nil when it is not PENDING.
func (e *Engine) CurrentApprover(ctx context.Context, rctx *model.RequestContext, requestID string) (*model.User, error) {
	return observe(e, ctx, "current_approver", requestAttrs(rctx, requestID),
		func(ctx context.Context) (*model.User, error) {
			req, _, err := e.loadReadable(ctx, rctx, requestID)
			if err != nil {
				return nil, err
			}
			return e.ResolveCurrentApprover(ctx, req)
		})
}

// ResolveCurrentApprover returns the approver of req's current level. The
// approver was resolved when the level was entered and is stored on the
// request, so repeated calls for the same level return the same user. It
// returns nil unless req is PENDING.
func (e *Engine) ResolveCurrentApprover(ctx context.Context, req model.ApprovalRequest) (*model.User, error) {
	if req.Status != model.StatusPending || req.CurrentApproverID == "" {
		return nil, nil
	}
	if u, ok := e.directory.User(ctx, req.TenantID, req.CurrentApproverID); ok {
		return &u, nil
	}
	return &model.User{ID: req.CurrentApproverID, Name: req.CurrentApproverID}, nil
}

// List returns one page of requests. Callers without the audit capability
// only see requests they raised or are assigned to; with no requester or
// approver filter they get their own requests.
func (e *Engine) List(ctx context.Context, rctx *model.RequestContext, q ListQuery) (model.RequestPage, error) {
	return observe(e, ctx, "list_requests", requestAttrs(rctx, ""),
		func(ctx context.Context) (model.RequestPage, error) {
			caps, err := e.capabilities(rctx)
			if err != nil {
				return model.RequestPage{}, err
			}
			if !caps.HasAny(model.CapRequestRead, model.CapRequestAudit) {
				return model.RequestPage{}, model.NewForbiddenError(
					fmt.Sprintf("missing capability %q", model.CapRequestRead),
				)
			}

			if !caps.Has(model.CapRequestAudit) {
				if q.RequesterID == "" && q.ApproverID == "" {
					q.RequesterID = rctx.SubjectID
				}
				if (q.RequesterID != "" && q.RequesterID != rctx.SubjectID) ||
					(q.ApproverID != "" && q.ApproverID != rctx.SubjectID) {
					return model.RequestPage{}, model.NewForbiddenError("cannot list requests of other users")
				}
			}

			for _, s := range q.Statuses {
				if !s.Valid() {
					return model.RequestPage{}, model.NewBadRequestError(fmt.Sprintf("unknown status %q", s))
				}
			}

			page := max(q.Page, 1)
			size := q.PageSize
			if size <= 0 {
				size = defaultPageSize
			}
			size = min(size, maxPageSize)

			now := e.now()
			filters := model.RequestFilters{
				TenantID:    rctx.TenantID,
				Statuses:    q.Statuses,
				TemplateID:  q.TemplateID,
				RequesterID: q.RequesterID,
				ApproverID:  q.ApproverID,
				Page:        page,
				PageSize:    size,
			}
			if q.Overdue {
				filters.OverdueAt = &now
			}

			reqs, total, err := e.store.List(ctx, filters)
			if err != nil {
				return model.RequestPage{}, err
			}
			items := make([]model.RequestSummary, 0, len(reqs))
			for _, r := range reqs {
				items = append(items, model.Summarize(r, now))
			}
			return model.RequestPage{Items: items, Total: total, Page: page, PageSize: size}, nil
		})
}

// Replay rebuilds a request's state from its action log and reports whether
// it matches the stored projection.
func (e *Engine) Replay(ctx context.Context, rctx *model.RequestContext, requestID string) (ReplayReport, error) {
	return observe(e, ctx, "replay", requestAttrs(rctx, requestID),
		func(ctx context.Context) (ReplayReport, error) {
			if err := e.require(rctx, model.CapRequestAudit); err != nil {
				return ReplayReport{}, err
			}
			req, err := e.store.Get(ctx, rctx.TenantID, requestID)
			if err != nil {
				return ReplayReport{}, err
			}
			history, err := e.store.Actions(ctx, rctx.TenantID, requestID)
			if err != nil {
				return ReplayReport{}, err
			}
			return replay(req, history), nil
		})
}

func replay(req model.ApprovalRequest, history []model.ApprovalAction) ReplayReport {
	report := ReplayReport{
		RequestID: req.ID,
		Stored:    StateOf(req),
		Actions:   len(history),
	}
	state, err := Reconstruct(req.TotalLevels, history)
	report.Reconstructed = state
	if err != nil {
		report.Error = err.Error()
		return report
	}
	report.Consistent = state == report.Stored
	return report
}

// loadReadable loads a request and its history after checking that the
// caller may read it: participants with the read capability, or anyone
// with the audit capability.
func (e *Engine) loadReadable(ctx context.Context, rctx *model.RequestContext, requestID string) (model.ApprovalRequest, []model.ApprovalAction, error) {
	caps, err := e.capabilities(rctx)
	if err != nil {
		return model.ApprovalRequest{}, nil, err
	}
	if !caps.HasAny(model.CapRequestRead, model.CapRequestAudit) {
		return model.ApprovalRequest{}, nil, model.NewForbiddenError(
			fmt.Sprintf("missing capability %q", model.CapRequestRead),
		)
	}

	req, err := e.store.Get(ctx, rctx.TenantID, requestID)
	if err != nil {
		return model.ApprovalRequest{}, nil, err
	}
	history, err := e.store.Actions(ctx, rctx.TenantID, requestID)
	if err != nil {
		return model.ApprovalRequest{}, nil, err
	}
	if !caps.Has(model.CapRequestAudit) && !isParticipant(rctx.SubjectID, req, history) {
		return model.ApprovalRequest{}, nil, model.NewForbiddenError("not a participant of this request")
	}
	return req, history, nil
}
